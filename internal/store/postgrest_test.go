package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func newSupabaseTestStore(t *testing.T, handler http.Handler) *SupabaseStore {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s, err := NewSupabaseStore(srv.URL, "service-key", zap.NewNop())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}

	return s
}

func TestSupabaseGetProfile(t *testing.T) {
	var gotAuth, gotAPIKey string

	s := newSupabaseTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAPIKey = r.Header.Get("apikey")

		if r.URL.Path != "/rest/v1/profiles" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("user_id"); got != "eq.u1" {
			t.Fatalf("unexpected user_id filter: %s", got)
		}

		json.NewEncoder(w).Encode([]profileRow{{
			UserID:      "u1",
			Description: "curious hiker",
			Interests:   []string{"hiking"},
		}})
	}))

	persona, err := s.GetProfile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}

	if persona.Description != "curious hiker" {
		t.Fatalf("unexpected persona: %+v", persona)
	}

	if gotAuth != "Bearer service-key" {
		t.Fatalf("unexpected authorization header: %q", gotAuth)
	}
	if gotAPIKey != "service-key" {
		t.Fatalf("unexpected apikey header: %q", gotAPIKey)
	}
}

func TestSupabaseGetProfileNotFound(t *testing.T) {
	s := newSupabaseTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("[]"))
	}))

	_, err := s.GetProfile(context.Background(), "missing")
	if !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestSupabaseUpsertProfileSendsMergePreference(t *testing.T) {
	var gotPrefer string
	var gotRow profileRow

	s := newSupabaseTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrefer = r.Header.Get("Prefer")
		if err := json.NewDecoder(r.Body).Decode(&gotRow); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))

	err := s.UpsertProfile(context.Background(), &Persona{UserID: "u1", Description: "desc"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if gotPrefer != "resolution=merge-duplicates" {
		t.Fatalf("unexpected Prefer header: %q", gotPrefer)
	}
	if gotRow.UserID != "u1" {
		t.Fatalf("unexpected row: %+v", gotRow)
	}
}

func TestSupabaseFindSimilarRPC(t *testing.T) {
	var gotPayload map[string]any

	s := newSupabaseTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/rpc/match_interactions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}

		json.NewEncoder(w).Encode([]map[string]any{
			{"id": "r2", "user_a": "u1", "user_b": "u3", "interaction_type": "hobby", "similarity": 0.9},
			{"id": "r3", "user_a": "u1", "user_b": "u4", "interaction_type": "hobby", "similarity": 0.4},
		})
	}))

	results, err := s.FindSimilar(context.Background(), SimilarityQuery{
		Embedding:       []float32{1, 0},
		InteractionType: "hobby",
		ExcludeID:       "r1",
		K:               5,
	})
	if err != nil {
		t.Fatalf("find similar: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Record.ID != "r2" || results[0].Similarity != 0.9 {
		t.Fatalf("unexpected first result: %+v", results[0])
	}

	if gotPayload["exclude_id"] != "r1" {
		t.Fatalf("expected exclude_id in payload, got %v", gotPayload["exclude_id"])
	}
	if gotPayload["match_count"] != float64(5) {
		t.Fatalf("expected match_count 5, got %v", gotPayload["match_count"])
	}
}

func TestSupabaseBadStatus(t *testing.T) {
	s := newSupabaseTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))

	if _, err := s.GetProfile(context.Background(), "u1"); err == nil {
		t.Fatal("expected error on forbidden status")
	}

	if err := s.SaveConversation(context.Background(), "u1", "u2", nil, ""); err == nil {
		t.Fatal("expected error on forbidden status")
	}
}

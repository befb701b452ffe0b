package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func TestSQLiteProfileRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	persona := &Persona{
		UserID:      "u1",
		Description: "curious hiker",
		Interests:   []string{"hiking", "maps"},
		GroupID:     "g1",
	}

	if err := s.UpsertProfile(ctx, persona); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if got.Description != "curious hiker" || got.GroupID != "g1" || len(got.Interests) != 2 {
		t.Fatalf("unexpected persona: %+v", got)
	}

	// Upsert replaces the previous description.
	persona.Description = "seasoned hiker"
	if err := s.UpsertProfile(ctx, persona); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err = s.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Description != "seasoned hiker" {
		t.Fatalf("expected updated description, got %q", got.Description)
	}
}

func TestSQLiteGetProfileNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetProfile(context.Background(), "missing")
	if !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestSQLiteListCandidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, p := range []*Persona{
		{UserID: "u1", Description: "requester", GroupID: "g1"},
		{UserID: "u2", Description: "in group", GroupID: "g1"},
		{UserID: "u3", Description: "other group", GroupID: "g2"},
		{UserID: "u4", Description: "no group"},
	} {
		if err := s.UpsertProfile(ctx, p); err != nil {
			t.Fatalf("upsert %s: %v", p.UserID, err)
		}
	}

	all, err := s.ListCandidates(ctx, "u1", "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(all))
	}
	for _, p := range all {
		if p.UserID == "u1" {
			t.Fatal("requester must be excluded")
		}
	}

	grouped, err := s.ListCandidates(ctx, "u1", "g1", 10)
	if err != nil {
		t.Fatalf("list grouped: %v", err)
	}
	if len(grouped) != 1 || grouped[0].UserID != "u2" {
		t.Fatalf("expected only u2 in g1, got %+v", grouped)
	}

	limited, err := s.ListCandidates(ctx, "u1", "", 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected limit 2, got %d", len(limited))
	}
}

func TestSQLiteFindSimilar(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	records := []*InteractionRecord{
		{ID: "r1", UserA: "u1", UserB: "u2", InteractionType: "hobby", Embedding: []float32{1, 0}},
		{ID: "r2", UserA: "u1", UserB: "u3", InteractionType: "hobby", Embedding: []float32{0.9, 0.1}},
		{ID: "r3", UserA: "u1", UserB: "u4", InteractionType: "hobby", Embedding: []float32{0, 1}},
		{ID: "r4", UserA: "u1", UserB: "u5", InteractionType: "work", Embedding: []float32{1, 0}},
		{ID: "r5", UserA: "u1", UserB: "u6", InteractionType: "hobby", GroupID: "g1", Embedding: []float32{1, 0}},
	}
	for _, r := range records {
		r.Transcript = []Turn{{Speaker: SpeakerA, Content: "hi"}}
		if err := s.SaveInteraction(ctx, r); err != nil {
			t.Fatalf("save %s: %v", r.ID, err)
		}
	}

	results, err := s.FindSimilar(ctx, SimilarityQuery{
		Embedding:       []float32{1, 0},
		InteractionType: "hobby",
		ExcludeID:       "r1",
		K:               10,
	})
	if err != nil {
		t.Fatalf("find similar: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	for _, r := range results {
		if r.Record.ID == "r1" {
			t.Fatal("excluded record must not match itself")
		}
		if r.Record.InteractionType != "hobby" {
			t.Fatalf("wrong interaction type: %s", r.Record.InteractionType)
		}
	}

	// Descending similarity order.
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Fatalf("results not sorted: %v before %v", results[i-1].Similarity, results[i].Similarity)
		}
	}

	grouped, err := s.FindSimilar(ctx, SimilarityQuery{
		Embedding:       []float32{1, 0},
		InteractionType: "hobby",
		GroupID:         "g1",
		K:               10,
	})
	if err != nil {
		t.Fatalf("find similar grouped: %v", err)
	}
	if len(grouped) != 1 || grouped[0].Record.ID != "r5" {
		t.Fatalf("expected only r5 in g1, got %d results", len(grouped))
	}

	topOne, err := s.FindSimilar(ctx, SimilarityQuery{
		Embedding:       []float32{1, 0},
		InteractionType: "hobby",
		K:               1,
	})
	if err != nil {
		t.Fatalf("find similar k=1: %v", err)
	}
	if len(topOne) != 1 {
		t.Fatalf("expected 1 result, got %d", len(topOne))
	}
}

func TestSQLiteSaveInteractionAssignsID(t *testing.T) {
	s := newTestStore(t)

	record := &InteractionRecord{UserA: "u1", UserB: "u2", InteractionType: "hobby"}
	if err := s.SaveInteraction(context.Background(), record); err != nil {
		t.Fatalf("save: %v", err)
	}

	if record.ID == "" {
		t.Fatal("expected assigned record ID")
	}
	if record.CreatedAt.IsZero() {
		t.Fatal("expected assigned creation time")
	}
}

func TestSQLiteConversationHistoryAndFriends(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertProfile(ctx, &Persona{UserID: "u2", Description: "friend"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	first := []Turn{
		{Speaker: SpeakerA, Content: "hello"},
		{Speaker: SpeakerB, Content: "hi there"},
	}
	if err := s.SaveConversation(ctx, "u1", "u2", first, "greeting"); err != nil {
		t.Fatalf("save conversation: %v", err)
	}

	second := []Turn{{Speaker: SpeakerA, Content: "again"}}
	if err := s.SaveConversation(ctx, "u2", "u1", second, "follow-up"); err != nil {
		t.Fatalf("save second conversation: %v", err)
	}

	history, err := s.ConversationHistory(ctx, "u1", "u2", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(history))
	}
	if history[0].Content != "hello" {
		t.Fatalf("expected chronological order, got first turn %q", history[0].Content)
	}

	friends, err := s.Friends(ctx, "u1")
	if err != nil {
		t.Fatalf("friends: %v", err)
	}
	if len(friends) != 1 || friends[0].UserID != "u2" {
		t.Fatalf("unexpected friends: %+v", friends)
	}
	if friends[0].Persona == nil || friends[0].Persona.Description != "friend" {
		t.Fatalf("expected friend persona to be loaded: %+v", friends[0].Persona)
	}
}

func TestSQLiteSaveRecommendation(t *testing.T) {
	s := newTestStore(t)

	err := s.SaveRecommendation(context.Background(), "u1", "u2", RecommendationData{
		Recommendation: "shared love of maps",
		Score:          0.85,
		Strategy:       "judged",
	})
	if err != nil {
		t.Fatalf("save recommendation: %v", err)
	}
}

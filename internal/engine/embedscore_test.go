package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/nmelkov/persona-matcher/internal/store"
)

func newTestEmbeddingScorer(st *stubStore, embedder *stubEmbedder) *EmbeddingScorer {
	gen := &stubGenerator{responses: []string{strings.Repeat("word ", 700)}}
	sim := NewSimulator(gen, 600, zap.NewNop())
	return NewEmbeddingScorer(sim, embedder, st, 10, zap.NewNop())
}

func TestEmbeddingScorerMeanSimilarity(t *testing.T) {
	st := newStubStore()
	st.similarities["u2"] = []float64{0.9, 0.7, 0.5}

	scorer := newTestEmbeddingScorer(st, &stubEmbedder{})
	requester := &store.Persona{UserID: "u1", Description: "a curious hiker"}
	candidate := &store.Persona{UserID: "u2", Description: "a trail runner"}

	score, err := scorer.Score(context.Background(), requester, candidate, "friendship", "")
	if err != nil {
		t.Fatalf("Score() error: %v", err)
	}

	want := (0.9 + 0.7 + 0.5) / 3
	if math.Abs(score.Score-want) > 1e-9 {
		t.Fatalf("Score = %v, want %v", score.Score, want)
	}
	if score.Strategy != StrategyEmbedding {
		t.Fatalf("Strategy = %q, want %q", score.Strategy, StrategyEmbedding)
	}
	if score.Summary == "" {
		t.Fatal("expected the interaction summary on the score")
	}
}

func TestEmbeddingScorerNoPriorInteractions(t *testing.T) {
	st := newStubStore()

	scorer := newTestEmbeddingScorer(st, &stubEmbedder{})
	requester := &store.Persona{UserID: "u1"}
	candidate := &store.Persona{UserID: "u2"}

	score, err := scorer.Score(context.Background(), requester, candidate, "friendship", "")
	if err != nil {
		t.Fatalf("Score() error: %v", err)
	}
	if score.Score != 0 {
		t.Fatalf("Score = %v, want 0 with no prior interactions", score.Score)
	}
}

func TestEmbeddingScorerPersistsRecord(t *testing.T) {
	st := newStubStore()
	embedder := &stubEmbedder{vector: []float32{0.1, 0.2, 0.3}}

	scorer := newTestEmbeddingScorer(st, embedder)
	requester := &store.Persona{UserID: "u1"}
	candidate := &store.Persona{UserID: "u2"}

	if _, err := scorer.Score(context.Background(), requester, candidate, "friendship", "g1"); err != nil {
		t.Fatalf("Score() error: %v", err)
	}

	if len(st.saved) != 1 {
		t.Fatalf("saved %d records, want 1", len(st.saved))
	}
	record := st.saved[0]
	if record.UserA != "u1" || record.UserB != "u2" {
		t.Fatalf("record pair = (%q, %q), want (u1, u2)", record.UserA, record.UserB)
	}
	if record.InteractionType != "friendship" || record.GroupID != "g1" {
		t.Fatalf("record type/group = (%q, %q)", record.InteractionType, record.GroupID)
	}
	if len(record.Embedding) != 3 {
		t.Fatalf("record embedding has %d values, want 3", len(record.Embedding))
	}
	if len(record.Transcript) == 0 {
		t.Fatal("record is missing the transcript")
	}

	if len(embedder.texts) != 1 {
		t.Fatalf("embedder called %d times, want 1", len(embedder.texts))
	}
	embedded := embedder.texts[0]
	if !strings.HasPrefix(embedded, "Interaction Type: friendship\nSummary: ") {
		t.Fatalf("embedded text = %q, want derived interaction text", embedded)
	}
}

func TestEmbeddingScorerExcludesOwnRecord(t *testing.T) {
	st := newStubStore()
	scorer := newTestEmbeddingScorer(st, &stubEmbedder{})

	requester := &store.Persona{UserID: "u1"}
	candidate := &store.Persona{UserID: "u2"}
	if _, err := scorer.Score(context.Background(), requester, candidate, "friendship", ""); err != nil {
		t.Fatalf("Score() error: %v", err)
	}

	query := st.lastSimilarityQuery
	if query.ExcludeID == "" || query.ExcludeID != st.saved[0].ID {
		t.Fatalf("ExcludeID = %q, want the saved record id %q", query.ExcludeID, st.saved[0].ID)
	}
	if query.InteractionType != "friendship" {
		t.Fatalf("InteractionType = %q, want friendship", query.InteractionType)
	}
	if query.K != 10 {
		t.Fatalf("K = %d, want 10", query.K)
	}
}

func TestEmbeddingScorerPropagatesFailures(t *testing.T) {
	embedErr := errors.New("embedding backend down")
	saveErr := errors.New("store unavailable")

	tests := []struct {
		name    string
		setup   func(*stubStore, *stubEmbedder)
		wantErr error
	}{
		{"embed failure", func(_ *stubStore, e *stubEmbedder) { e.err = embedErr }, embedErr},
		{"save failure", func(s *stubStore, _ *stubEmbedder) { s.saveErr = saveErr }, saveErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newStubStore()
			embedder := &stubEmbedder{}
			tt.setup(st, embedder)

			scorer := newTestEmbeddingScorer(st, embedder)
			_, err := scorer.Score(context.Background(), &store.Persona{UserID: "u1"}, &store.Persona{UserID: "u2"}, "friendship", "")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Score() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

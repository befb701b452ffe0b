package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nmelkov/persona-matcher/internal/ai"
	"github.com/nmelkov/persona-matcher/internal/logger"
	"github.com/nmelkov/persona-matcher/internal/store"
)

const defaultSimilarK = 10

// EmbeddingScorer scores candidate pairs by running a simulated interaction,
// embedding its summary, and comparing it against stored interaction
// embeddings of the same type.
type EmbeddingScorer struct {
	simulator *Simulator
	embedder  ai.Embedder
	store     store.Store
	similarK  int
	logger    *zap.Logger
}

// NewEmbeddingScorer creates an EmbeddingScorer. A non-positive similarK falls
// back to the default neighbor count.
func NewEmbeddingScorer(simulator *Simulator, embedder ai.Embedder, st store.Store, similarK int, logger *zap.Logger) *EmbeddingScorer {
	if similarK <= 0 {
		similarK = defaultSimilarK
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EmbeddingScorer{
		simulator: simulator,
		embedder:  embedder,
		store:     st,
		similarK:  similarK,
		logger:    logger,
	}
}

// Score simulates an interaction between requester and candidate, persists the
// resulting record with its embedding, and scores the candidate as the mean
// similarity against the K most similar prior interactions of the same type.
// No prior interactions yields a score of 0. The just-written record is
// excluded from the similarity query so it cannot match itself.
func (s *EmbeddingScorer) Score(ctx context.Context, requester, candidate *store.Persona, interactionType, groupID string) (*CandidateScore, error) {
	if requester == nil || candidate == nil {
		return nil, errors.New("requester and candidate are required")
	}

	transcript, summary, err := s.simulator.Simulate(ctx, requester, candidate, interactionType)
	if err != nil {
		return nil, fmt.Errorf("simulate interaction: %w", err)
	}

	derived := fmt.Sprintf("Interaction Type: %s\nSummary: %s", interactionType, summary)

	embedding, err := s.embedder.EmbedContent(ctx, derived)
	if err != nil {
		return nil, fmt.Errorf("embed interaction: %w", err)
	}

	record := &store.InteractionRecord{
		UserA:           requester.UserID,
		UserB:           candidate.UserID,
		InteractionType: interactionType,
		Transcript:      transcript,
		Summary:         summary,
		Embedding:       embedding,
		GroupID:         groupID,
	}

	if err := s.store.SaveInteraction(ctx, record); err != nil {
		return nil, fmt.Errorf("save interaction: %w", err)
	}

	similar, err := s.store.FindSimilar(ctx, store.SimilarityQuery{
		Embedding:       embedding,
		InteractionType: interactionType,
		GroupID:         groupID,
		ExcludeID:       record.ID,
		K:               s.similarK,
	})
	if err != nil {
		return nil, fmt.Errorf("find similar interactions: %w", err)
	}

	score := 0.0
	if len(similar) > 0 {
		var sum float64
		for _, match := range similar {
			sum += match.Similarity
		}
		score = sum / float64(len(similar))
	}

	s.logger.Debug("embedding score computed",
		zap.String("candidate_id", candidate.UserID),
		zap.String(logger.FieldInteractionType, interactionType),
		zap.Int("similar_interactions", len(similar)),
		zap.Float64("score", score),
	)

	return &CandidateScore{
		CandidateID: candidate.UserID,
		Profile:     candidate,
		Score:       score,
		Summary:     summary,
		Strategy:    StrategyEmbedding,
	}, nil
}

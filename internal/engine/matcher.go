package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nmelkov/persona-matcher/internal/logger"
	"github.com/nmelkov/persona-matcher/internal/store"
)

const (
	defaultCandidateLimit = 10
	defaultMinConfidence  = 0.7
)

// MatcherConfig bounds the matching pipeline.
type MatcherConfig struct {
	// CandidateLimit caps how many profiles are fetched per request.
	CandidateLimit int
	// MaxResults caps the returned list.
	MaxResults int
	// MinConfidence gates judged scores; only scores strictly above it
	// survive. The embedding strategy applies no gate.
	MinConfidence float64
}

func (c MatcherConfig) withDefaults() MatcherConfig {
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = defaultCandidateLimit
	}
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = defaultMinConfidence
	}
	return c
}

// Matcher orchestrates the matching pipeline: it fetches candidates, runs the
// simulator and the selected scorer per candidate, and ranks the results.
// Candidates are evaluated sequentially; the first scoring failure aborts the
// whole request.
type Matcher struct {
	store     store.Store
	simulator *Simulator
	judge     *Judge
	scorer    *EmbeddingScorer
	config    MatcherConfig
	logger    *zap.Logger
}

// NewMatcher wires the orchestrator from its capabilities.
func NewMatcher(st store.Store, simulator *Simulator, judge *Judge, scorer *EmbeddingScorer, config MatcherConfig, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Matcher{
		store:     st,
		simulator: simulator,
		judge:     judge,
		scorer:    scorer,
		config:    config.withDefaults(),
		logger:    logger,
	}
}

// FindMatches returns the ranked match list for the requesting user. With
// useEmbeddings the embedding strategy scores every candidate unfiltered;
// otherwise each candidate is simulated and judged, and only judgments
// strictly above the confidence gate are ranked. An empty candidate set yields
// an empty list, not an error.
func (m *Matcher) FindMatches(ctx context.Context, userID, interactionType string, useEmbeddings bool, groupID string) ([]*CandidateScore, error) {
	requester, err := m.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	candidates, err := m.store.ListCandidates(ctx, userID, groupID, m.config.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	strategy := StrategyJudged
	if useEmbeddings {
		strategy = StrategyEmbedding
	}

	m.logger.Info("matching started",
		zap.String("user_id", userID),
		zap.String(logger.FieldInteractionType, interactionType),
		zap.String(logger.FieldStrategy, string(strategy)),
		zap.Int("candidates", len(candidates)),
	)

	if len(candidates) == 0 {
		return nil, nil
	}

	scores := make([]*CandidateScore, 0, len(candidates))
	for _, candidate := range candidates {
		score, err := m.scoreCandidate(ctx, requester, candidate, interactionType, useEmbeddings, groupID)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", candidate.UserID, err)
		}

		scores = append(scores, score)
	}

	if !useEmbeddings {
		scores = FilterByConfidence(scores, m.config.MinConfidence)
	}

	ranked := Rank(scores, m.config.MaxResults)

	m.logger.Info("matching finished",
		zap.String("user_id", userID),
		zap.Int("scored", len(scores)),
		zap.Int("returned", len(ranked)),
	)

	return ranked, nil
}

func (m *Matcher) scoreCandidate(ctx context.Context, requester, candidate *store.Persona, interactionType string, useEmbeddings bool, groupID string) (*CandidateScore, error) {
	if useEmbeddings {
		return m.scorer.Score(ctx, requester, candidate, interactionType, groupID)
	}

	// The judged path still simulates the pair so the returned match carries
	// a conversation summary alongside the judgment.
	_, summary, err := m.simulator.Simulate(ctx, requester, candidate, interactionType)
	if err != nil {
		return nil, fmt.Errorf("simulate interaction: %w", err)
	}

	score, err := m.judge.Score(ctx, requester.Description, interactionType, candidate)
	if err != nil {
		return nil, err
	}

	score.Summary = summary
	return score, nil
}

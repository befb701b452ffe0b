package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nmelkov/persona-matcher/internal/store"
)

// recommendationType is the interaction context used for friend
// recommendations, which skip the simulation step.
const recommendationType = "friendship"

const explainHistoryLimit = 20

// Recommender produces friend recommendations: every candidate is scored with
// a single judged call, gated by the confidence threshold, ranked, and each
// accepted recommendation is durably recorded.
type Recommender struct {
	store  store.Store
	judge  *Judge
	config MatcherConfig
	logger *zap.Logger
}

// NewRecommender wires the recommendation flow.
func NewRecommender(st store.Store, judge *Judge, config MatcherConfig, logger *zap.Logger) *Recommender {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Recommender{
		store:  st,
		judge:  judge,
		config: config.withDefaults(),
		logger: logger,
	}
}

// Recommendations returns the top friend recommendations for the user. Each
// candidate scoring strictly above the confidence gate is persisted before the
// final ranking and truncation.
func (r *Recommender) Recommendations(ctx context.Context, userID string) ([]*CandidateScore, error) {
	requester, err := r.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	candidates, err := r.store.ListCandidates(ctx, userID, "", r.config.CandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	var accepted []*CandidateScore
	for _, candidate := range candidates {
		score, err := r.judge.Score(ctx, requester.Description, recommendationType, candidate)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", candidate.UserID, err)
		}

		if score.Score <= r.config.MinConfidence {
			r.logger.Debug("candidate below confidence gate",
				zap.String("candidate_id", candidate.UserID),
				zap.Float64("score", score.Score),
				zap.Float64("threshold", r.config.MinConfidence),
			)
			continue
		}

		if err := r.store.SaveRecommendation(ctx, userID, candidate.UserID, store.RecommendationData{
			Recommendation: score.Rationale,
			Score:          score.Score,
			Strategy:       string(score.Strategy),
		}); err != nil {
			return nil, fmt.Errorf("save recommendation for %s: %w", candidate.UserID, err)
		}

		accepted = append(accepted, score)
	}

	return Rank(accepted, r.config.MaxResults), nil
}

// Explain returns a detailed judged explanation for why recommendedUserID was
// recommended to userID, grounded in their shared conversation history.
func (r *Recommender) Explain(ctx context.Context, userID, recommendedUserID string) (*CandidateScore, error) {
	requester, err := r.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	recommended, err := r.store.GetProfile(ctx, recommendedUserID)
	if err != nil {
		return nil, err
	}

	history, err := r.store.ConversationHistory(ctx, userID, recommendedUserID, explainHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("conversation history: %w", err)
	}

	return r.judge.Explain(ctx, requester.Description, recommended, history)
}

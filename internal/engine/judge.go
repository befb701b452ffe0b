package engine

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/nmelkov/persona-matcher/internal/ai"
	"github.com/nmelkov/persona-matcher/internal/store"
	"github.com/nmelkov/persona-matcher/internal/utils"
)

//go:embed prompt_judge.md
var judgePromptTemplate string

//go:embed prompt_explain.md
var explainPromptTemplate string

// defaultConfidence is the placeholder score used when the model reply carries
// no parsable numeric confidence. Kept from the original engine as an explicit,
// documented fallback rather than the unconditional constant it used to be.
const defaultConfidence = 0.85

const defaultMaxLogLength = 200

// Judge scores a candidate with a single reasoned LLM judgment.
type Judge struct {
	generator ai.Generator
	logger    *zap.Logger
	maxLogLen int
}

// NewJudge creates a Judge. maxLogLength bounds prompt/response previews in
// debug logs.
func NewJudge(generator ai.Generator, maxLogLength int, logger *zap.Logger) *Judge {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Judge{
		generator: generator,
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

// Score evaluates the candidate against the requesting user's description and
// returns a judged CandidateScore. The confidence is parsed from the model's
// JSON reply and clamped to [0, 1]; defaultConfidence fills in when the reply
// has none.
func (j *Judge) Score(ctx context.Context, userDescription, interactionType string, candidate *store.Persona) (*CandidateScore, error) {
	if candidate == nil {
		return nil, errors.New("candidate is required")
	}

	candidateJSON, err := json.MarshalIndent(candidate, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal candidate: %w", err)
	}

	prompt := renderPrompt(judgePromptTemplate, map[string]string{
		"{{INTERACTION_TYPE}}": interactionType,
		"{{USER_DESCRIPTION}}": userDescription,
		"{{CANDIDATE_JSON}}":   string(candidateJSON),
	})

	raw, err := j.generate(ctx, candidate.UserID, prompt)
	if err != nil {
		return nil, err
	}

	rationale, score := parseJudgment(raw)

	return &CandidateScore{
		CandidateID: candidate.UserID,
		Profile:     candidate,
		Score:       score,
		Rationale:   rationale,
		Strategy:    StrategyJudged,
	}, nil
}

// Explain produces a judged explanation for an existing recommendation,
// grounding it in the pair's shared conversation history.
func (j *Judge) Explain(ctx context.Context, userDescription string, candidate *store.Persona, history []store.Turn) (*CandidateScore, error) {
	if candidate == nil {
		return nil, errors.New("candidate is required")
	}

	candidateJSON, err := json.MarshalIndent(candidate, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal candidate: %w", err)
	}

	prompt := renderPrompt(explainPromptTemplate, map[string]string{
		"{{USER_DESCRIPTION}}": userDescription,
		"{{CANDIDATE_JSON}}":   string(candidateJSON),
		"{{TRANSCRIPT}}":       formatTranscript(history),
	})

	raw, err := j.generate(ctx, candidate.UserID, prompt)
	if err != nil {
		return nil, err
	}

	rationale, score := parseJudgment(raw)

	return &CandidateScore{
		CandidateID: candidate.UserID,
		Profile:     candidate,
		Score:       score,
		Rationale:   rationale,
		Strategy:    StrategyJudged,
	}, nil
}

func (j *Judge) generate(ctx context.Context, candidateID, prompt string) (string, error) {
	j.logger.Debug("judge request",
		zap.String("candidate_id", candidateID),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, j.maxLogLen)),
	)

	raw, err := j.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return "", err
	}

	j.logger.Debug("judge response",
		zap.String("candidate_id", candidateID),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, j.maxLogLen)),
	)

	return raw, nil
}

// parseJudgment extracts the recommendation text and confidence score from the
// model reply. An unparsable reply keeps the raw text as the rationale and
// falls back to defaultConfidence.
func parseJudgment(raw string) (rationale string, score float64) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return strings.TrimSpace(raw), defaultConfidence
	}

	rationale = coerceString(data["recommendation"])
	if rationale == "" {
		rationale = strings.TrimSpace(raw)
	}

	score = coerceFloat(data["score"])
	if math.IsNaN(score) {
		return rationale, defaultConfidence
	}

	return rationale, math.Min(1, math.Max(0, score))
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		if v == nil {
			return ""
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

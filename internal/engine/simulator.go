package engine

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nmelkov/persona-matcher/internal/ai"
	"github.com/nmelkov/persona-matcher/internal/logger"
	"github.com/nmelkov/persona-matcher/internal/store"
	"github.com/nmelkov/persona-matcher/internal/utils"
)

//go:embed prompt_open.md
var openPromptTemplate string

//go:embed prompt_turn.md
var turnPromptTemplate string

//go:embed prompt_summary.md
var summaryPromptTemplate string

const defaultTokenBudget = 600

// Simulator drives a bounded, turn-alternating dialogue between two personas.
// The running length estimate is the whitespace-delimited word count of all
// generated content, which is coarse but intentionally conservative.
type Simulator struct {
	generator   ai.Generator
	tokenBudget int
	logger      *zap.Logger
}

// NewSimulator creates a Simulator. A non-positive tokenBudget falls back to
// the default budget.
func NewSimulator(generator ai.Generator, tokenBudget int, logger *zap.Logger) *Simulator {
	if tokenBudget <= 0 {
		tokenBudget = defaultTokenBudget
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Simulator{
		generator:   generator,
		tokenBudget: tokenBudget,
		logger:      logger,
	}
}

// Simulate runs one dialogue between personaA and personaB and returns the
// transcript plus a natural-language summary. PersonaA opens; speakers strictly
// alternate afterwards, and generation stops once the running word count
// reaches the budget, mid-pair if necessary. Inputs are never mutated. Any
// generation failure aborts the run and propagates to the caller.
func (s *Simulator) Simulate(ctx context.Context, personaA, personaB *store.Persona, interactionType string) ([]store.Turn, string, error) {
	if personaA == nil || personaB == nil {
		return nil, "", errors.New("both personas are required")
	}

	opening, err := s.generator.GenerateContent(ctx, renderPrompt(openPromptTemplate, map[string]string{
		"{{INTERACTION_TYPE}}": interactionType,
		"{{SPEAKER_PERSONA}}":  personaA.Description,
		"{{OTHER_PERSONA}}":    personaB.Description,
	}))
	if err != nil {
		return nil, "", fmt.Errorf("opening turn: %w", err)
	}

	transcript := []store.Turn{{Speaker: store.SpeakerA, Content: opening}}
	words := utils.WordCount(opening)

	for words < s.tokenBudget {
		speaker, speakerPersona, otherPersona := store.SpeakerB, personaB, personaA
		if transcript[len(transcript)-1].Speaker == store.SpeakerB {
			speaker, speakerPersona, otherPersona = store.SpeakerA, personaA, personaB
		}

		content, err := s.generator.GenerateContent(ctx, renderPrompt(turnPromptTemplate, map[string]string{
			"{{INTERACTION_TYPE}}": interactionType,
			"{{SPEAKER_PERSONA}}":  speakerPersona.Description,
			"{{OTHER_PERSONA}}":    otherPersona.Description,
			"{{TRANSCRIPT}}":       formatTranscript(transcript),
		}))
		if err != nil {
			return nil, "", fmt.Errorf("turn %d: %w", len(transcript)+1, err)
		}

		transcript = append(transcript, store.Turn{Speaker: speaker, Content: content})
		words += utils.WordCount(content)
	}

	s.logger.Debug("simulation finished",
		zap.String(logger.FieldInteractionType, interactionType),
		zap.Int("turns", len(transcript)),
		zap.Int("words", words),
		zap.Int("token_budget", s.tokenBudget),
	)

	summary, err := s.generator.GenerateContent(ctx, renderPrompt(summaryPromptTemplate, map[string]string{
		"{{TRANSCRIPT}}": formatTranscript(transcript),
	}))
	if err != nil {
		return nil, "", fmt.Errorf("summarize: %w", err)
	}

	return transcript, summary, nil
}

// Summarize produces a short synopsis of an arbitrary turn sequence. The chat
// relay reuses it when a conversation reaches its word budget.
func (s *Simulator) Summarize(ctx context.Context, turns []store.Turn) (string, error) {
	return s.generator.GenerateContent(ctx, renderPrompt(summaryPromptTemplate, map[string]string{
		"{{TRANSCRIPT}}": formatTranscript(turns),
	}))
}

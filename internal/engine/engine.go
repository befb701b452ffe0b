// Package engine implements the matching and recommendation core: it
// simulates bounded dialogues between personas, converts them into comparable
// scores through either an LLM judgment or embedding similarity, and ranks
// candidates into a short result list.
package engine

import (
	"strings"

	"github.com/nmelkov/persona-matcher/internal/store"
)

// Strategy identifies how a candidate score was produced.
type Strategy string

const (
	// StrategyJudged scores a candidate with a single LLM judgment call.
	StrategyJudged Strategy = "judged"
	// StrategyEmbedding scores a candidate via similarity against stored
	// interaction embeddings.
	StrategyEmbedding Strategy = "embedding"
)

// CandidateScore is the transient scoring result for one candidate. Score is
// always within [0, 1] for the judged strategy; the embedding strategy can in
// principle produce negative cosine means, which ranking treats as low.
type CandidateScore struct {
	CandidateID string         `json:"user_id"`
	Profile     *store.Persona `json:"profile"`
	Score       float64        `json:"score"`
	Rationale   string         `json:"rationale,omitempty"`
	Summary     string         `json:"conversation_summary,omitempty"`
	Strategy    Strategy       `json:"strategy"`
}

// formatTranscript renders turns for prompt injection, one line per turn.
func formatTranscript(turns []store.Turn) string {
	if len(turns) == 0 {
		return "(no messages yet)"
	}

	var builder strings.Builder
	for i, turn := range turns {
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(speakerLabel(turn.Speaker))
		builder.WriteString(": ")
		builder.WriteString(turn.Content)
	}

	return builder.String()
}

func speakerLabel(speaker string) string {
	switch speaker {
	case store.SpeakerA:
		return "A"
	case store.SpeakerB:
		return "B"
	default:
		return speaker
	}
}

func renderPrompt(template string, replacements map[string]string) string {
	prompt := template
	for placeholder, value := range replacements {
		prompt = strings.ReplaceAll(prompt, placeholder, value)
	}
	return prompt
}

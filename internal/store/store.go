// Package store defines the persistence and similarity-search capability
// consumed by the matching engine, together with the domain records it owns.
// Two backends implement it: a local SQLite database and a Supabase
// (PostgREST) project.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrProfileNotFound is returned when a requested user profile does not exist.
var ErrProfileNotFound = errors.New("user profile not found")

// Speaker labels for simulated dialogue turns.
const (
	SpeakerA = "a"
	SpeakerB = "b"
)

// Persona is a user's stored descriptive profile. The engine treats it as an
// immutable snapshot; only profile updates through UpsertProfile mutate it.
type Persona struct {
	UserID      string   `json:"user_id" mapstructure:"user_id"`
	Description string   `json:"description" mapstructure:"description"`
	Interests   []string `json:"interests" mapstructure:"interests"`
	GroupID     string   `json:"group_id,omitempty" mapstructure:"group_id"`
}

// Turn is a single utterance in a dialogue.
type Turn struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

// InteractionRecord is a durable record of one simulated interaction,
// including the embedding used for similarity search. Embedding may be empty
// for records produced outside the embedding-scoring path.
type InteractionRecord struct {
	ID              string    `json:"id"`
	UserA           string    `json:"user_a"`
	UserB           string    `json:"user_b"`
	InteractionType string    `json:"interaction_type"`
	Transcript      []Turn    `json:"transcript"`
	Summary         string    `json:"summary"`
	Embedding       []float32 `json:"embedding,omitempty"`
	GroupID         string    `json:"group_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// SimilarInteraction pairs a stored interaction with its cosine similarity to
// a query embedding.
type SimilarInteraction struct {
	Record     *InteractionRecord
	Similarity float64
}

// SimilarityQuery selects the K most similar stored interactions. ExcludeID
// keeps the record written in the same scoring pass from matching itself.
// GroupID restricts the search when non-empty.
type SimilarityQuery struct {
	Embedding       []float32
	InteractionType string
	GroupID         string
	ExcludeID       string
	K               int
}

// RecommendationData is the durable payload of an accepted recommendation.
type RecommendationData struct {
	Recommendation string  `json:"recommendation"`
	Score          float64 `json:"score"`
	Strategy       string  `json:"strategy"`
}

// Friend is a conversation partner together with their latest summary.
type Friend struct {
	UserID      string
	Persona     *Persona
	LastSummary string
}

// Store is the persistence capability contract.
type Store interface {
	GetProfile(ctx context.Context, userID string) (*Persona, error)
	UpsertProfile(ctx context.Context, persona *Persona) error

	// ListCandidates returns up to limit profiles excluding the given user,
	// restricted to groupID members when groupID is non-empty.
	ListCandidates(ctx context.Context, excludingUserID, groupID string, limit int) ([]*Persona, error)

	SaveInteraction(ctx context.Context, record *InteractionRecord) error
	FindSimilar(ctx context.Context, query SimilarityQuery) ([]SimilarInteraction, error)

	SaveRecommendation(ctx context.Context, userID, candidateID string, data RecommendationData) error

	SaveConversation(ctx context.Context, userID, otherUserID string, turns []Turn, summary string) error
	ConversationHistory(ctx context.Context, userID, otherUserID string, limit int) ([]Turn, error)
	Friends(ctx context.Context, userID string) ([]Friend, error)

	Close() error
}

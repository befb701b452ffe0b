// Package ai defines the text-generation and embedding capabilities the
// matching engine depends on, together with the error kinds they surface.
// Provider implementations live in subpackages.
package ai

import (
	"context"
	"fmt"
)

// Generator produces text for a structured prompt.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Embedder converts text into a dense numeric vector.
type Embedder interface {
	EmbedContent(ctx context.Context, text string) ([]float32, error)
}

// GenerationError reports a failed text-generation call. The wrapped error
// carries the provider response; Provider and Model identify the backend.
type GenerationError struct {
	Provider string
	Model    string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation with model %s: %v", e.Provider, e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// EmbeddingError reports a failed embedding call.
type EmbeddingError struct {
	Provider string
	Model    string
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("%s embedding with model %s: %v", e.Provider, e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

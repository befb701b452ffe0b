// Package gemini implements the ai.Generator and ai.Embedder capabilities on
// top of the Google GenAI API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/nmelkov/persona-matcher/internal/ai"
	"github.com/nmelkov/persona-matcher/internal/logger"
	"github.com/nmelkov/persona-matcher/internal/utils"
)

const (
	provider = "gemini"

	defaultModel          = "gemini-2.5-pro"
	defaultEmbeddingModel = "gemini-embedding-001"
	defaultMaxRetries     = 3
	retryBaseDelay        = time.Second
)

// Config carries the provider settings resolved from the application config.
type Config struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	MaxRetries     int
}

// modelsAPI is the subset of the GenAI SDK the client uses. *genai.Models
// satisfies it; tests substitute a fake.
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Client wraps the GenAI client with bounded retries and structured logging.
// It implements both ai.Generator and ai.Embedder, so a single instance covers
// the generation and embedding capabilities of the engine.
type Client struct {
	models         modelsAPI
	modelName      string
	embeddingModel string
	maxRetries     int
	baseDelay      time.Duration
	logger         *zap.Logger
}

// New creates a Client configured for the Gemini API backend.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newWithModels(genaiClient.Models, cfg, log), nil
}

func newWithModels(models modelsAPI, cfg Config, log *zap.Logger) *Client {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	embeddingModel := strings.TrimSpace(cfg.EmbeddingModel)
	if embeddingModel == "" {
		embeddingModel = defaultEmbeddingModel
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	return &Client{
		models:         models,
		modelName:      model,
		embeddingModel: embeddingModel,
		maxRetries:     maxRetries,
		baseDelay:      retryBaseDelay,
		logger:         logger.WithCommonFields(log, provider, model),
	}
}

// Model returns the generation model identifier.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.modelName
}

// GenerateContent sends the prompt to Gemini and returns the concatenated
// textual response. Transient failures are retried with jittered backoff; the
// final failure is reported as an *ai.GenerationError.
func (c *Client) GenerateContent(ctx context.Context, prompt string) (string, error) {
	if c == nil || c.models == nil {
		return "", errors.New("gemini client is not initialized")
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("prompt must not be empty")
	}

	var output string
	err := c.withRetries(ctx, "generate content", func() error {
		resp, err := c.models.GenerateContent(ctx, c.modelName, genai.Text(prompt), nil)
		if err != nil {
			return err
		}

		text := collectText(resp)
		if text == "" {
			return errors.New("gemini api returned empty response")
		}

		output = text
		return nil
	})
	if err != nil {
		return "", &ai.GenerationError{Provider: provider, Model: c.modelName, Err: err}
	}

	return output, nil
}

// EmbedContent returns the embedding vector for the provided text. Failures
// are reported as an *ai.EmbeddingError.
func (c *Client) EmbedContent(ctx context.Context, text string) ([]float32, error) {
	if c == nil || c.models == nil {
		return nil, errors.New("gemini client is not initialized")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("text must not be empty")
	}

	var vector []float32
	err := c.withRetries(ctx, "embed content", func() error {
		resp, err := c.models.EmbedContent(ctx, c.embeddingModel, genai.Text(text), nil)
		if err != nil {
			return err
		}

		if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
			return errors.New("gemini api returned empty embedding")
		}

		vector = resp.Embeddings[0].Values
		return nil
	})
	if err != nil {
		return nil, &ai.EmbeddingError{Provider: provider, Model: c.embeddingModel, Err: err}
	}

	return vector, nil
}

// withRetries runs call up to maxRetries times. The delay before attempt n is
// baseDelay*2^(n-1) plus a random jitter of up to baseDelay, since the backend
// is rate limited and synchronized retries would collide.
func (c *Client) withRetries(ctx context.Context, operation string, call func() error) error {
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = call()
		if lastErr == nil {
			return nil
		}

		if attempt == c.maxRetries {
			break
		}

		delay := c.baseDelay*(1<<(attempt-1)) + time.Duration(rand.Int63n(int64(c.baseDelay)))
		c.logger.Warn("retrying "+operation,
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.maxRetries),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)

		if err := utils.WaitFor(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("%s after %d attempts: %w", operation, c.maxRetries, lastErr)
}

func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	return strings.TrimSpace(builder.String())
}

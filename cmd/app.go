package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nmelkov/persona-matcher/internal/ai/gemini"
	"github.com/nmelkov/persona-matcher/internal/engine"
	"github.com/nmelkov/persona-matcher/internal/logger"
	"github.com/nmelkov/persona-matcher/internal/secrets"
	"github.com/nmelkov/persona-matcher/internal/store"
)

const defaultSQLitePath = "persona-matcher.db"

// appContext holds everything a command needs after wiring.
type appContext struct {
	config *Config
	store  store.Store
	gemini *gemini.Client
	logger *zap.Logger
}

// setup wires the logger, config, store and the Gemini client. It terminates
// the process on unrecoverable wiring errors, matching the CLI's fail-fast
// startup.
func setup(ctx context.Context) *appContext {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting "+app, zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	st, err := buildStore(ctx, config.Store, logger)
	if err != nil {
		logger.Fatal("building the store", zap.Error(err))
	}

	client, err := newGeminiClient(ctx, config.AI, logger)
	if err != nil {
		logger.Fatal(
			"building the gemini client",
			zap.Error(err),
			zap.String("hint", "set GEMINI_API_KEY_FILE environment variable or the 'ai.gemini.api-key-file' key in the configuration file"),
		)
	}

	return &appContext{
		config: config,
		store:  st,
		gemini: client,
		logger: logger,
	}
}

func (a *appContext) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing the store", zap.Error(err))
	}
}

func (a *appContext) matcherConfig() engine.MatcherConfig {
	return engine.MatcherConfig{
		CandidateLimit: a.config.Match.CandidateLimit,
		MaxResults:     a.config.Match.MaxResults,
		MinConfidence:  a.config.Match.MinConfidence,
	}
}

func (a *appContext) simulator() *engine.Simulator {
	return engine.NewSimulator(a.gemini, a.config.Match.TokenBudget, a.logger)
}

func (a *appContext) judge() *engine.Judge {
	return engine.NewJudge(a.gemini, a.config.AI.Gemini.MaxLogLength, a.logger)
}

func buildStore(ctx context.Context, cfg *StoreConfig, logger *zap.Logger) (store.Store, error) {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))

	switch backend {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = defaultSQLitePath
		}
		logger.Debug("using sqlite store", zap.String("path", path))
		return store.NewSQLiteStore(ctx, path)
	case "supabase":
		if cfg.URL == "" {
			return nil, fmt.Errorf("store.url is required for the supabase backend")
		}

		key, err := secrets.Load(secrets.Source{
			Name: "supabase service key",
			File: cfg.KeyFile,
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set store.key-file or SUPABASE_KEY_FILE)", err)
		}

		logger.Debug("using supabase store", zap.String("url", cfg.URL))
		return store.NewSupabaseStore(cfg.URL, key, logger)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}

func newGeminiClient(ctx context.Context, cfg *AIConfig, logger *zap.Logger) (*gemini.Client, error) {
	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: cfg.Gemini.APIKeyFile,
	})
	if err != nil {
		return nil, err
	}

	clientLogger := logger.With(
		zap.String("provider", "gemini"),
		zap.String("model", cfg.Gemini.Model),
		zap.Int("ai_retry_attempts", cfg.Gemini.MaxRetries),
	)

	return gemini.New(ctx, gemini.Config{
		APIKey:         apiKey,
		Model:          cfg.Gemini.Model,
		EmbeddingModel: cfg.Gemini.EmbeddingModel,
		MaxRetries:     cfg.Gemini.MaxRetries,
	}, clientLogger)
}

// Package worker builds the worker's dependencies from configuration and
// registers the workflows and activities with a Temporal worker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ahrav/go-canvas/internal/aggregation"
	"github.com/ahrav/go-canvas/internal/config"
	"github.com/ahrav/go-canvas/internal/generation"
	"github.com/ahrav/go-canvas/internal/judging"
	"github.com/ahrav/go-canvas/internal/llm"
	"github.com/ahrav/go-canvas/internal/store"
	"github.com/ahrav/go-canvas/internal/store/redischunks"
	"github.com/ahrav/go-canvas/pkg/events"
)

// providerName labels rate-limit errors raised in front of the provider.
const providerName = "openai"

// Dependencies holds everything RegisterAll wires into activities.
type Dependencies struct {
	Store      *store.SQLStore
	Chunks     generation.ChunkStore
	LLM        llm.Client
	Sink       events.EventSink
	Logger     *slog.Logger
	Generation generation.Config
	Judge      judging.Config
	Policy     aggregation.Policy

	closers []func() error
}

// Close releases the database and any Redis connection.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

// Setup opens the store, selects the chunk backend, and builds the rate-limited
// inference client described by cfg.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	deps := &Dependencies{
		Store:      store.New(db),
		Sink:       events.NewSlogSink(logger),
		Logger:     logger,
		Generation: GenerationConfig(cfg),
		Judge:      JudgeConfig(cfg),
		Policy:     aggregation.Policy{DefaultThreshold: cfg.Evaluation.DefaultSuccessThreshold},
	}
	deps.closers = append(deps.closers, sqlCloser(db))

	chunks, closeChunks, err := NewChunkStore(ctx, cfg.Chunks, db)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}
	deps.Chunks = chunks
	if closeChunks != nil {
		deps.closers = append(deps.closers, closeChunks)
	}

	deps.LLM = NewLLMClient(cfg.LLM)
	logger.Info("worker dependencies ready",
		"database", cfg.Database.Path,
		"chunk_backend", cfg.Chunks.Backend,
		"default_model", cfg.LLM.DefaultModel)
	return deps, nil
}

// NewChunkStore returns the configured chunk backend. The Redis backend is
// pinged before use and comes with a closer for its client.
func NewChunkStore(ctx context.Context, cfg config.ChunksConfig, db *gorm.DB) (generation.ChunkStore, func() error, error) {
	switch cfg.Backend {
	case config.ChunkBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		return redischunks.New(client, cfg.TTL), client.Close, nil
	case config.ChunkBackendSQL, "":
		return store.NewChunkStore(db), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown chunk backend %q", cfg.Backend)
	}
}

// NewLLMClient builds the OpenAI-compatible provider. A circuit breaker sits
// directly in front of the provider and the rate limiter in front of both, so
// locally rejected requests never count against provider health.
func NewLLMClient(cfg config.LLMConfig) llm.Client {
	var client llm.Client = llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
	})
	if cfg.BreakerFailureThreshold > 0 {
		client = llm.NewCircuitBreaker(client, providerName, llm.BreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			OpenTimeout:      cfg.BreakerOpenTimeout,
		})
	}
	if cfg.RequestsPerSecond > 0 {
		client = llm.NewRateLimited(client, providerName, cfg.RequestsPerSecond, cfg.Burst)
	}
	return client
}

// GenerationConfig maps the generation settings onto the executor config.
func GenerationConfig(cfg *config.Config) generation.Config {
	return generation.Config{
		FlushMinChars:      cfg.Generation.FlushMinChars,
		FlushInterval:      cfg.Generation.FlushInterval,
		CancelPollInterval: cfg.Generation.CancelPollInterval,
		IdleTimeout:        cfg.Generation.IdleTimeout,
		DefaultModel:       cfg.LLM.DefaultModel,
	}
}

// JudgeConfig maps the judge settings. The judge model falls back to the
// generation default.
func JudgeConfig(cfg *config.Config) judging.Config {
	jc := judging.DefaultConfig()
	jc.DefaultModel = cfg.LLM.DefaultModel
	if cfg.LLM.JudgeModel != "" {
		jc.DefaultModel = cfg.LLM.JudgeModel
	}
	jc.MaxTokens = cfg.Evaluation.JudgeMaxTokens
	return jc
}

func sqlCloser(db *gorm.DB) func() error {
	return func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
}

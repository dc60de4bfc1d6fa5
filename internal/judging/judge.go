// Package judging scores rubric items against a finalized response with an
// LLM judge. It exposes the BeginEvaluation, JudgeEval, and FailEval Temporal
// activities; every path that settles an item hands the round to the
// aggregation package.
package judging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahrav/go-canvas/internal/domain"
	"github.com/ahrav/go-canvas/internal/llm"
	"github.com/ahrav/go-canvas/internal/prompt"
)

// Config tunes judge requests.
type Config struct {
	// DefaultModel is used for items without a judge model.
	DefaultModel string
	Temperature  float32
	MaxTokens    int
}

// DefaultConfig returns deterministic, short judge requests.
func DefaultConfig() Config {
	return Config{
		DefaultModel: "gpt-4o-mini",
		Temperature:  0,
		MaxTokens:    512,
	}
}

// Judge grades one rubric item at a time.
type Judge struct {
	client llm.Client
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Judge.
type Option func(*Judge)

// WithClock overrides the clock used for completion timestamps.
func WithClock(now func() time.Time) Option {
	return func(j *Judge) { j.now = now }
}

// WithLogger sets the judge's logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Judge) { j.logger = l }
}

// NewJudge creates a Judge backed by client.
func NewJudge(client llm.Client, cfg Config, opts ...Option) *Judge {
	j := &Judge{client: client, cfg: cfg, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.With("component", "judging")
	return j
}

// Evaluate grades item against candidate. Items without criteria pass
// without a model call.
func (j *Judge) Evaluate(ctx context.Context, item domain.EvalItem, candidate string) (domain.EvalResult, error) {
	if !item.HasCriteria() {
		return domain.AutoPass(item.Kind, j.now()).Result, nil
	}

	model := item.JudgeModel
	if model == "" {
		model = j.cfg.DefaultModel
	}
	p := prompt.Judge(item, candidate)

	raw, err := j.client.Complete(ctx, llm.CompleteRequest{
		Model:        model,
		SystemPrompt: p.System,
		Prompt:       p.User,
		JSON:         true,
		Temperature:  j.cfg.Temperature,
		MaxTokens:    j.cfg.MaxTokens,
	})
	if err != nil {
		return domain.EvalResult{}, fmt.Errorf("judge %s: %w", item.ID, err)
	}

	v, err := parseVerdict(item.Kind, raw)
	if err != nil {
		j.logger.Warn("unusable judge reply", "eval_id", item.ID, "model", model, "error", err)
		return domain.EvalResult{}, fmt.Errorf("judge %s: %w", item.ID, err)
	}
	if v.Repaired {
		j.logger.Debug("judge reply repaired", "eval_id", item.ID, "model", model)
	}
	return domain.EvalResult{Score: v.Score, Explanation: v.Explanation, CompletedAt: j.now()}, nil
}

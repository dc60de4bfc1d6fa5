// Package generation streams a target's response from the inference provider
// into the chunk store and settles the response lifecycle. It exposes the
// GenerateResponse and FailGeneration Temporal activities.
package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/ahrav/go-canvas/internal/domain"
	"github.com/ahrav/go-canvas/internal/llm"
	llmerrors "github.com/ahrav/go-canvas/internal/llm/errors"
	"github.com/ahrav/go-canvas/internal/prompt"
	"github.com/ahrav/go-canvas/pkg/activity"
)

// ReasonNoPrompt is reported when a target has nothing to generate from.
const ReasonNoPrompt = "no prompt to generate from"

// markerWriteTimeout bounds the transient-error write after the attempt's own
// context may already be done.
const markerWriteTimeout = 5 * time.Second

// errUserCancelled is the cancellation cause set when the marker is observed.
var errUserCancelled = errors.New("generation cancelled by user")

// ChunkStore persists streamed fragments for one attempt.
type ChunkStore interface {
	Clear(ctx context.Context, targetID string) error
	Append(ctx context.Context, targetID, content string, index int) error
	Consolidate(ctx context.Context, targetID string) (string, error)
}

// TargetStore is the slice of target persistence the executor drives.
type TargetStore interface {
	GetTarget(ctx context.Context, id string) (domain.Target, error)
	ListEvals(ctx context.Context, targetID string) ([]domain.EvalItem, error)
	BeginGeneration(ctx context.Context, id, workflowID string) error
	CancellationRequested(ctx context.Context, id string) (bool, error)
	RecordTransientError(ctx context.Context, id, msg string, at time.Time) error
	FinalizeResponse(ctx context.Context, id, text string, at time.Time, releaseRun bool) error
	FailGeneration(ctx context.Context, id, workflowID, msg string, at time.Time) error
	ReleaseRun(ctx context.Context, id, workflowID string) error
}

// Config tunes chunk batching and stream supervision.
type Config struct {
	// FlushMinChars and FlushInterval must both be met before a non-final flush.
	FlushMinChars int
	FlushInterval time.Duration
	// CancelPollInterval is how often the cancellation marker is re-read.
	CancelPollInterval time.Duration
	// IdleTimeout aborts a stream that yields no token for this long. Zero
	// disables the watchdog.
	IdleTimeout time.Duration
	// DefaultModel is used when a target has no model selected.
	DefaultModel string
}

// DefaultConfig returns the standard batching and polling settings.
func DefaultConfig() Config {
	return Config{
		FlushMinChars:      20,
		FlushInterval:      200 * time.Millisecond,
		CancelPollInterval: 500 * time.Millisecond,
		IdleTimeout:        2 * time.Minute,
		DefaultModel:       "gpt-4o-mini",
	}
}

// Executor runs one streaming generation attempt end to end.
type Executor struct {
	store  TargetStore
	chunks ChunkStore
	client llm.Client
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock overrides the clock used for flush timing and timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor wires an Executor.
func NewExecutor(store TargetStore, chunks ChunkStore, client llm.Client, cfg Config, opts ...Option) *Executor {
	e := &Executor{
		store:  store,
		chunks: chunks,
		client: client,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "generation")
	return e
}

// Run performs one attempt for targetID under workflowID.
//
// The attempt clears the previous chunks and moves the response to generating.
// It streams, flushing batched chunks, and finalizes the consolidated text as
// complete. User cancellation commits the partial text. Any other failure
// leaves a transient marker on the still-generating response and is returned
// for the caller's retry policy.
func (e *Executor) Run(ctx context.Context, targetID, workflowID string, skipEvals bool) (domain.GenerateResponseOutput, error) {
	logger := e.logger.With("target_id", targetID, "workflow_id", workflowID)

	t, err := e.store.GetTarget(ctx, targetID)
	if err != nil {
		return domain.GenerateResponseOutput{}, err
	}
	if !t.HasPrompt() {
		if err := e.store.ReleaseRun(ctx, targetID, workflowID); err != nil {
			return domain.GenerateResponseOutput{}, err
		}
		logger.Info("skipping generation", "reason", ReasonNoPrompt)
		return domain.GenerateResponseOutput{Success: false, Reason: ReasonNoPrompt}, nil
	}

	if t.OwnedByOtherRun(workflowID) {
		return domain.GenerateResponseOutput{}, fmt.Errorf("generate %s: %w: %s", targetID, domain.ErrTargetBusy, t.WorkflowID)
	}
	if err := e.chunks.Clear(ctx, targetID); err != nil {
		return domain.GenerateResponseOutput{}, err
	}
	if err := e.store.BeginGeneration(ctx, targetID, workflowID); err != nil {
		return domain.GenerateResponseOutput{}, err
	}

	cancelled, err := e.store.CancellationRequested(ctx, targetID)
	if err != nil {
		return domain.GenerateResponseOutput{}, err
	}
	if cancelled {
		logger.Info("cancellation requested before streaming")
		return e.finalize(ctx, targetID, 0, true, skipEvals)
	}

	rubric, err := e.store.ListEvals(ctx, targetID)
	if err != nil {
		return domain.GenerateResponseOutput{}, err
	}
	p := prompt.Generation(t.Prompt, rubric)
	model := t.Model
	if model == "" {
		model = e.cfg.DefaultModel
	}
	logger.Info("streaming response", "model", model, "prompt_hash", p.Hash)

	n, cancelled, err := e.stream(ctx, targetID, llm.StreamRequest{
		Model:        model,
		SystemPrompt: p.System,
		Prompt:       p.User,
	})
	if err != nil {
		e.recordTransient(ctx, targetID, err)
		return domain.GenerateResponseOutput{}, fmt.Errorf("generate %s: %w", targetID, err)
	}
	return e.finalize(ctx, targetID, n, cancelled, skipEvals)
}

// stream consumes the provider stream into the chunk store and reports how
// many chunks were written and whether a user cancellation ended the stream.
// A watcher goroutine polls the cancellation marker and the idle watchdog and
// aborts the stream through its context.
func (e *Executor) stream(ctx context.Context, targetID string, req llm.StreamRequest) (int, bool, error) {
	streamCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var lastToken atomic.Int64
	lastToken.Store(e.now().UnixNano())

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.watch(ctx, targetID, &lastToken, cancel, done)
	}()
	defer func() {
		close(done)
		wg.Wait()
	}()

	buf := newFlushBuffer(e.cfg.FlushMinChars, e.cfg.FlushInterval, e.now())
	index := 0
	flush := func() error {
		if buf.empty() {
			return nil
		}
		if err := e.chunks.Append(ctx, targetID, buf.take(e.now()), index); err != nil {
			return err
		}
		index++
		activity.RecordHeartbeat(ctx, index)
		return nil
	}

	ts, err := e.client.Stream(streamCtx, req)
	if err != nil {
		if errors.Is(context.Cause(streamCtx), errUserCancelled) {
			return index, true, nil
		}
		if cause := context.Cause(streamCtx); cause != nil && ctx.Err() == nil {
			return index, false, cause
		}
		return index, false, err
	}
	defer func() {
		if cerr := ts.Close(); cerr != nil {
			e.logger.Debug("closing stream", "target_id", targetID, "error", cerr)
		}
	}()

	for {
		tok, err := ts.Recv()

		// The watcher aborted the stream; tokens arriving after that are dropped.
		if cause := context.Cause(streamCtx); cause != nil && ctx.Err() == nil {
			if errors.Is(cause, errUserCancelled) {
				return index, true, flush()
			}
			return index, false, cause
		}

		if errors.Is(err, io.EOF) {
			return index, false, flush()
		}
		if err != nil {
			return index, false, err
		}

		lastToken.Store(e.now().UnixNano())
		buf.write(tok)
		if buf.due(e.now()) {
			if err := flush(); err != nil {
				return index, false, err
			}
		}
	}
}

// watch heartbeats, re-reads the cancellation marker, and checks the idle
// watchdog every poll interval until done is closed.
func (e *Executor) watch(
	ctx context.Context,
	targetID string,
	lastToken *atomic.Int64,
	abort context.CancelCauseFunc,
	done <-chan struct{},
) {
	ticker := time.NewTicker(e.cfg.CancelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		activity.RecordHeartbeat(ctx)

		requested, err := e.store.CancellationRequested(ctx, targetID)
		switch {
		case err != nil:
			e.logger.Warn("polling cancellation marker", "target_id", targetID, "error", err)
		case requested:
			e.logger.Info("cancellation observed", "target_id", targetID)
			abort(errUserCancelled)
			return
		}

		if e.cfg.IdleTimeout > 0 {
			idle := e.now().Sub(time.Unix(0, lastToken.Load()))
			if idle >= e.cfg.IdleTimeout {
				abort(fmt.Errorf("%w: no token for %s", llmerrors.ErrStreamStalled, idle.Round(time.Millisecond)))
				return
			}
		}
	}
}

func (e *Executor) finalize(ctx context.Context, targetID string, chunks int, cancelled, skipEvals bool) (domain.GenerateResponseOutput, error) {
	text, err := e.chunks.Consolidate(ctx, targetID)
	if err != nil {
		return domain.GenerateResponseOutput{}, err
	}
	release := skipEvals || cancelled
	if err := e.store.FinalizeResponse(ctx, targetID, text, e.now(), release); err != nil {
		return domain.GenerateResponseOutput{}, err
	}
	return domain.GenerateResponseOutput{
		Success:           true,
		Cancelled:         cancelled,
		EvaluationPending: !release,
		Chunks:            chunks,
		Length:            utf8.RuneCountInString(text),
	}, nil
}

// recordTransient leaves the retry marker. The attempt context may already be
// cancelled, so the write runs on a detached context with its own deadline.
func (e *Executor) recordTransient(ctx context.Context, targetID string, cause error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markerWriteTimeout)
	defer cancel()
	if err := e.store.RecordTransientError(wctx, targetID, cause.Error(), e.now()); err != nil {
		e.logger.Error("recording transient error", "target_id", targetID, "cause", cause, "error", err)
	}
}

// Fail records terminal failure after the caller exhausted its retries.
func (e *Executor) Fail(ctx context.Context, targetID, workflowID, msg string) error {
	return e.store.FailGeneration(ctx, targetID, workflowID, msg, e.now())
}

package events

import (
	"context"
	"log/slog"
	"sync"
)

// SlogSink writes each envelope as a structured log record. It is the default
// sink for deployments without an event bus.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink returns a sink logging through logger, or slog.Default when nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger.With("component", "events")}
}

// Append logs the envelope at info level.
func (s *SlogSink) Append(ctx context.Context, e Envelope) error {
	s.logger.InfoContext(ctx, "event",
		"event_id", e.ID,
		"event_type", e.Type,
		"source", e.Source,
		"target_id", e.TargetID,
		"workflow_id", e.WorkflowID,
		"idempotency_key", e.IdempotencyKey,
		"payload", string(e.Payload),
	)
	return nil
}

// Recorder keeps envelopes in memory, dropping repeated idempotency keys.
// Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Envelope
	seen   map[string]struct{}
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{seen: make(map[string]struct{})}
}

// Append records e unless its idempotency key was already seen.
func (r *Recorder) Append(_ context.Context, e Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.IdempotencyKey != "" {
		if _, dup := r.seen[e.IdempotencyKey]; dup {
			return nil
		}
		r.seen[e.IdempotencyKey] = struct{}{}
	}
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the recorded envelopes.
func (r *Recorder) Events() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.events...)
}

// OfType returns the recorded envelopes with the given type.
func (r *Recorder) OfType(typ string) []Envelope {
	var out []Envelope
	for _, e := range r.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

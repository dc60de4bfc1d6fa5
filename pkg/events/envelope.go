// Package events provides the generic event infrastructure for domain event emission.
// It defines the Envelope type for wrapping domain events with consistent metadata
// and the EventSink interface for event storage/transmission.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Envelope wraps domain events with consistent metadata for reliable event processing.
type Envelope struct {
	// ID uniquely identifies this event instance.
	ID string `json:"id"`

	// Type identifies the event for routing and processing.
	// Examples: "generation.completed", "evaluation.aggregated"
	Type string `json:"type"`

	// Source identifies the component that emitted this event.
	Source string `json:"source"`

	// Version enables schema evolution. Start at "1.0.0".
	Version string `json:"version"`

	Timestamp time.Time `json:"timestamp"`

	// IdempotencyKey is derived from the workflow run and event content so that
	// a retried activity emits the same key twice rather than two events.
	IdempotencyKey string `json:"idempotency_key"`

	// TargetID is the generation target the event concerns.
	TargetID string `json:"target_id"`

	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`

	// Payload contains the domain-specific event data as JSON.
	Payload json.RawMessage `json:"payload"`
}

// EventSink defines the interface for emitting events to downstream consumers.
type EventSink interface {
	// Append adds an event to the sink with best-effort delivery.
	// Implementations should treat duplicate idempotency keys as no-ops.
	// Callers never fail their primary operation because of a sink error.
	Append(ctx context.Context, envelope Envelope) error
}

// NoOpEventSink is a null implementation of EventSink for when events are disabled.
type NoOpEventSink struct{}

// Append implements EventSink.Append with no-op behavior.
func (n *NoOpEventSink) Append(_ context.Context, _ Envelope) error {
	return nil
}

// NewNoOpEventSink creates a new no-op event sink.
func NewNoOpEventSink() EventSink {
	return &NoOpEventSink{}
}

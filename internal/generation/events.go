package generation

import (
	"context"

	"github.com/ahrav/go-canvas/internal/domain"
	"github.com/ahrav/go-canvas/pkg/activity"
)

// Event types emitted by generation activities.
const (
	EventCompleted = "generation.completed"
	EventCancelled = "generation.cancelled"
	EventFailed    = "generation.failed"
)

const eventSource = "generation-activity"

type completedEvent struct {
	Chunks            int  `json:"chunks"`
	Length            int  `json:"length"`
	EvaluationPending bool `json:"evaluation_pending"`
}

type failedEvent struct {
	Message string `json:"message"`
}

// EventEmitter publishes generation lifecycle events best-effort.
type EventEmitter struct {
	base activity.BaseActivities
}

// NewEventEmitter returns an emitter using base's sink.
func NewEventEmitter(base activity.BaseActivities) *EventEmitter {
	return &EventEmitter{base: base}
}

// EmitCompleted reports a finalized response.
func (e *EventEmitter) EmitCompleted(ctx context.Context, targetID string, out domain.GenerateResponseOutput) {
	e.base.Emit(ctx, EventCompleted, eventSource, targetID, completedEvent{
		Chunks:            out.Chunks,
		Length:            out.Length,
		EvaluationPending: out.EvaluationPending,
	})
}

// EmitCancelled reports a response committed early by the user.
func (e *EventEmitter) EmitCancelled(ctx context.Context, targetID string, out domain.GenerateResponseOutput) {
	e.base.Emit(ctx, EventCancelled, eventSource, targetID, completedEvent{
		Chunks: out.Chunks,
		Length: out.Length,
	})
}

// EmitFailed reports terminal generation failure.
func (e *EventEmitter) EmitFailed(ctx context.Context, targetID, msg string) {
	e.base.Emit(ctx, EventFailed, eventSource, targetID, failedEvent{Message: msg})
}

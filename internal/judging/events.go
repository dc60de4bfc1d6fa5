package judging

import (
	"context"

	"github.com/ahrav/go-canvas/internal/domain"
	"github.com/ahrav/go-canvas/pkg/activity"
)

// Event types emitted by judging activities.
const (
	EventItemSettled  = "evaluation.item_settled"
	EventRoundSkipped = "evaluation.skipped"
)

const eventSource = "judging-activity"

type itemSettledEvent struct {
	EvalID      string            `json:"eval_id"`
	Status      domain.EvalStatus `json:"status"`
	Score       *float64          `json:"score,omitempty"`
	Error       string            `json:"error,omitempty"`
	Recovered   bool              `json:"recovered"`
	Explanation string            `json:"explanation,omitempty"`
}

type roundSkippedEvent struct {
	Reason string `json:"reason"`
}

// EventEmitter publishes judging events best-effort.
type EventEmitter struct {
	base activity.BaseActivities
}

// NewEventEmitter returns an emitter using base's sink.
func NewEventEmitter(base activity.BaseActivities) *EventEmitter {
	return &EventEmitter{base: base}
}

// EmitItemSettled reports an item reaching complete or error. The eval ID and
// status discriminate the idempotency key so each item settles once per run.
func (e *EventEmitter) EmitItemSettled(ctx context.Context, item domain.EvalItem) {
	e.base.Emit(ctx, EventItemSettled, eventSource, item.TargetID, itemSettledEvent{
		EvalID:      item.ID,
		Status:      item.Status,
		Score:       item.Score,
		Error:       item.Error,
		Recovered:   item.Status == domain.EvalComplete && item.Error != "",
		Explanation: item.Explanation,
	}, item.ID, string(item.Status))
}

// EmitRoundSkipped reports a round closed because no item has criteria.
func (e *EventEmitter) EmitRoundSkipped(ctx context.Context, targetID string) {
	e.base.Emit(ctx, EventRoundSkipped, eventSource, targetID, roundSkippedEvent{Reason: "no criteria configured"})
}

package aggregation

import (
	"context"

	"github.com/ahrav/go-canvas/internal/domain"
	"github.com/ahrav/go-canvas/pkg/activity"
)

// EventAggregated is emitted once per committed evaluation round.
const EventAggregated = "evaluation.aggregated"

const eventSource = "aggregation"

type aggregatedEvent struct {
	AggregateScore *float64 `json:"aggregate_score"`
	IsSuccessful   *bool    `json:"is_successful"`
}

// EventEmitter handles event emission for the aggregation domain.
type EventEmitter struct {
	base activity.BaseActivities
}

// NewEventEmitter creates a new EventEmitter with the provided base activities.
func NewEventEmitter(base activity.BaseActivities) *EventEmitter {
	return &EventEmitter{base: base}
}

// EmitAggregated reports the committed outcome of a round. Emission is
// best-effort; failures are logged by the base.
func (e *EventEmitter) EmitAggregated(ctx context.Context, targetID string, agg domain.Aggregate) {
	e.base.Emit(ctx, EventAggregated, eventSource, targetID, aggregatedEvent{
		AggregateScore: agg.Score,
		IsSuccessful:   agg.Successful,
	})
}

package aggregation

import (
	"context"
	"fmt"

	"github.com/ahrav/go-canvas/internal/domain"
	"github.com/ahrav/go-canvas/internal/store"
	"github.com/ahrav/go-canvas/pkg/activity"
)

// RoundStore commits an aggregate when the round is ready.
type RoundStore interface {
	AggregateIfSettled(ctx context.Context, targetID, workflowID string, compute store.AggregateFunc) (domain.Aggregate, bool, error)
}

// Aggregator is the guarded settlement trigger. Every path that settles a
// rubric item calls Settle; only the call that finds the round running with
// all items settled commits, the rest are no-ops.
type Aggregator struct {
	store  RoundStore
	policy Policy
	events *EventEmitter
}

// NewAggregator creates an Aggregator emitting through base's event sink.
func NewAggregator(s RoundStore, base activity.BaseActivities, policy Policy) *Aggregator {
	return &Aggregator{store: s, policy: policy, events: NewEventEmitter(base)}
}

// Settle attempts to close the evaluation round that workflowID runs on
// targetID. applied reports whether this call performed the transition.
func (a *Aggregator) Settle(ctx context.Context, targetID, workflowID string) (domain.Aggregate, bool, error) {
	agg, applied, err := a.store.AggregateIfSettled(ctx, targetID, workflowID, a.policy.Compute)
	if err != nil {
		return domain.Aggregate{}, false, fmt.Errorf("settle round %s: %w", targetID, err)
	}
	if !applied {
		return agg, false, nil
	}

	activity.SafeLog(ctx, "Evaluation round aggregated",
		"target_id", targetID,
		"aggregate_score", agg.Score,
		"is_successful", agg.Successful)
	a.events.EmitAggregated(ctx, targetID, agg)
	return agg, true, nil
}

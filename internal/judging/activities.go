package judging

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/ahrav/go-canvas/internal/domain"
	llmerrors "github.com/ahrav/go-canvas/internal/llm/errors"
	"github.com/ahrav/go-canvas/internal/store"
	"github.com/ahrav/go-canvas/pkg/activity"
)

// Store is the slice of persistence the judging activities drive.
type Store interface {
	GetTarget(ctx context.Context, id string) (domain.Target, error)
	GetEval(ctx context.Context, id string) (domain.EvalItem, error)
	BeginEvaluation(ctx context.Context, targetID, workflowID string) ([]string, error)
	StartJudging(ctx context.Context, evalID string) (domain.EvalItem, error)
	CompleteEval(ctx context.Context, evalID string, res domain.EvalResult) (domain.EvalItem, bool, error)
	RecordEvalAttemptError(ctx context.Context, evalID, msg string) error
	FailEvalIfRunning(ctx context.Context, evalID, msg string, at time.Time) (domain.EvalItem, bool, error)
}

// Settler closes an evaluation round once every item has settled.
type Settler interface {
	Settle(ctx context.Context, targetID, workflowID string) (domain.Aggregate, bool, error)
}

// Activities handles judging-specific Temporal activities.
type Activities struct {
	activity.BaseActivities
	store      Store
	judge      *Judge
	aggregator Settler
	events     *EventEmitter
	now        func() time.Time
}

// NewActivities creates judging activities.
func NewActivities(base activity.BaseActivities, s Store, judge *Judge, aggregator Settler) *Activities {
	return &Activities{
		BaseActivities: base,
		store:          s,
		judge:          judge,
		aggregator:     aggregator,
		events:         NewEventEmitter(base),
		now:            time.Now,
	}
}

// BeginEvaluation opens the round for the workflow and returns the items to
// judge. An empty list means the round closed immediately.
func (a *Activities) BeginEvaluation(
	ctx context.Context,
	input domain.BeginEvaluationInput,
) (*domain.BeginEvaluationOutput, error) {
	if err := input.Validate(); err != nil {
		return nil, nonRetryable("BeginEvaluation", err, "invalid input")
	}

	ids, err := a.store.BeginEvaluation(ctx, input.TargetID, input.WorkflowID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		return nil, nonRetryable("BeginEvaluation", err, "target not found")
	case errors.Is(err, domain.ErrResponseNotReady):
		return nil, nonRetryable("BeginEvaluation", err, "response is not complete")
	case errors.Is(err, domain.ErrTargetBusy):
		return nil, nonRetryable("BeginEvaluation", err, "target owned by another run")
	default:
		return nil, retryable("BeginEvaluation", err, "failed to open evaluation round")
	}

	activity.SafeLog(ctx, "Evaluation round opened",
		"target_id", input.TargetID,
		"workflow_id", input.WorkflowID,
		"items", len(ids))
	if len(ids) == 0 {
		a.events.EmitRoundSkipped(ctx, input.TargetID)
	}
	return &domain.BeginEvaluationOutput{EvalIDs: ids}, nil
}

// JudgeEval grades one item and settles it.
//
// A failed attempt with retries left records the error on the still-running
// item and returns a retryable error. The final attempt settles the item,
// keeping a prior score when one exists, and returns a non-retryable error so
// the workflow sees the failure. Each settlement triggers aggregation.
func (a *Activities) JudgeEval(ctx context.Context, input domain.JudgeEvalInput) (*domain.JudgeEvalOutput, error) {
	if err := input.Validate(); err != nil {
		return nil, nonRetryable("JudgeEval", err, "invalid input")
	}
	wfCtx := a.GetWorkflowContext(ctx)

	item, err := a.store.GetEval(ctx, input.EvalID)
	if err != nil {
		return nil, storeError("JudgeEval", err)
	}
	if item.TargetID != input.TargetID {
		return nil, nonRetryable("JudgeEval", domain.ErrInvalidInput, "eval belongs to another target")
	}
	if item.Settled() {
		// An earlier attempt settled the item; make sure the round was offered
		// to the aggregator and report the stored outcome.
		activity.SafeLog(ctx, "JudgeEval found item settled", "eval_id", item.ID, "status", item.Status)
		return a.settled(ctx, item, input.WorkflowID)
	}
	if item.Status != domain.EvalRunning {
		if item, err = a.store.StartJudging(ctx, item.ID); err != nil {
			return nil, storeError("JudgeEval", err)
		}
	}

	target, err := a.store.GetTarget(ctx, input.TargetID)
	if err != nil {
		return nil, storeError("JudgeEval", err)
	}
	if target.ResponseStatus != domain.ResponseComplete {
		return nil, nonRetryable("JudgeEval", domain.ErrResponseNotReady, "response is not complete")
	}

	activity.SafeLog(ctx, "Judging eval",
		"target_id", input.TargetID,
		"eval_id", item.ID,
		"kind", item.Kind,
		"attempt", wfCtx.Attempt)

	res, judgeErr := a.judge.Evaluate(ctx, item, target.Response)
	if judgeErr != nil {
		return nil, a.judgeFailed(ctx, item, input.WorkflowID, judgeErr, wfCtx.Attempt >= input.MaxAttempts)
	}

	stored, applied, err := a.store.CompleteEval(ctx, item.ID, res)
	if err != nil {
		return nil, retryable("JudgeEval", err, "failed to store judgment")
	}
	if applied {
		a.events.EmitItemSettled(ctx, stored)
	}
	return a.settled(ctx, stored, input.WorkflowID)
}

// judgeFailed applies the attempt-aware failure policy and returns the error
// for the activity.
func (a *Activities) judgeFailed(ctx context.Context, item domain.EvalItem, workflowID string, cause error, final bool) error {
	msg := cause.Error()
	retryOK := llmerrors.IsRetryableError(cause)

	if !final && retryOK {
		if err := a.store.RecordEvalAttemptError(ctx, item.ID, msg); err != nil {
			activity.SafeLogError(ctx, "Failed to record judge attempt error", "eval_id", item.ID, "error", err)
		}
		tag := "JudgeEval"
		if isVerdictError(cause) {
			tag = "JudgeVerdict"
		}
		return retryable(tag, cause, msg)
	}

	stored, applied, err := a.store.FailEvalIfRunning(ctx, item.ID, msg, a.now())
	if err != nil {
		return retryable("JudgeEval", err, "failed to settle eval after judge error")
	}
	if applied {
		a.events.EmitItemSettled(ctx, stored)
	}
	if _, _, err := a.aggregator.Settle(ctx, item.TargetID, workflowID); err != nil {
		// The item is settled; FailEval from the workflow retries aggregation.
		activity.SafeLogError(ctx, "Aggregation after judge failure failed", "target_id", item.TargetID, "error", err)
	}
	activity.SafeLogWarn(ctx, "Eval settled after judge failure",
		"eval_id", item.ID,
		"status", stored.Status,
		"recovered", stored.Status == domain.EvalComplete,
		"error", msg)
	return nonRetryable("JudgeEval", cause, msg)
}

// settled triggers aggregation for item's round and reports the item.
func (a *Activities) settled(ctx context.Context, item domain.EvalItem, workflowID string) (*domain.JudgeEvalOutput, error) {
	_, aggregated, err := a.aggregator.Settle(ctx, item.TargetID, workflowID)
	if err != nil {
		return nil, retryable("JudgeEval", err, "failed to aggregate evaluation round")
	}
	return &domain.JudgeEvalOutput{
		EvalID:     item.ID,
		Status:     item.Status,
		Score:      item.Score,
		Aggregated: aggregated,
	}, nil
}

// FailEval settles an item whose JudgeEval activity ended without settling
// it, for example after a timeout, and triggers aggregation. It is a no-op for
// items that already settled apart from the aggregation attempt.
func (a *Activities) FailEval(ctx context.Context, input domain.FailEvalInput) error {
	if err := input.Validate(); err != nil {
		return nonRetryable("FailEval", err, "invalid input")
	}

	stored, applied, err := a.store.FailEvalIfRunning(ctx, input.EvalID, input.Message, a.now())
	if err != nil {
		return storeError("FailEval", err)
	}
	if applied {
		activity.SafeLogWarn(ctx, "Eval settled by workflow", "eval_id", input.EvalID, "status", stored.Status)
		a.events.EmitItemSettled(ctx, stored)
	}
	if _, _, err := a.aggregator.Settle(ctx, input.TargetID, input.WorkflowID); err != nil {
		return retryable("FailEval", err, "failed to aggregate evaluation round")
	}
	return nil
}

func storeError(tag string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nonRetryable(tag, err, "not found")
	}
	return retryable(tag, err, err.Error())
}

func nonRetryable(tag string, cause error, msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, tag, cause)
}

func retryable(tag string, cause error, msg string) error {
	return temporal.NewApplicationError(msg, tag, cause)
}

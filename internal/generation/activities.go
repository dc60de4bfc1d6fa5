package generation

import (
	"context"
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/ahrav/go-canvas/internal/domain"
	llmerrors "github.com/ahrav/go-canvas/internal/llm/errors"
	"github.com/ahrav/go-canvas/internal/store"
	"github.com/ahrav/go-canvas/pkg/activity"
)

// Activities exposes the executor as Temporal activities.
type Activities struct {
	activity.BaseActivities
	exec   *Executor
	events *EventEmitter
}

// NewActivities creates generation activities.
func NewActivities(base activity.BaseActivities, exec *Executor) *Activities {
	return &Activities{
		BaseActivities: base,
		exec:           exec,
		events:         NewEventEmitter(base),
	}
}

// GenerateResponse runs one streaming attempt. Transient provider failures come
// back as retryable errors; the target stays generating with a retry marker.
// Missing targets, ownership conflicts, and permanent provider failures are
// non-retryable.
func (a *Activities) GenerateResponse(
	ctx context.Context,
	input domain.GenerateResponseInput,
) (*domain.GenerateResponseOutput, error) {
	if err := input.Validate(); err != nil {
		return nil, nonRetryable("GenerateResponse", err, "invalid input")
	}

	wfCtx := a.GetWorkflowContext(ctx)
	activity.SafeLog(ctx, "Starting GenerateResponse activity",
		"target_id", input.TargetID,
		"workflow_id", input.WorkflowID,
		"attempt", wfCtx.Attempt)

	out, err := a.exec.Run(ctx, input.TargetID, input.WorkflowID, input.SkipEvals)
	if err != nil {
		return nil, classify(err)
	}

	switch {
	case !out.Success:
		activity.SafeLog(ctx, "GenerateResponse skipped", "target_id", input.TargetID, "reason", out.Reason)
	case out.Cancelled:
		a.events.EmitCancelled(ctx, input.TargetID, out)
	default:
		a.events.EmitCompleted(ctx, input.TargetID, out)
	}

	activity.SafeLog(ctx, "GenerateResponse completed",
		"target_id", input.TargetID,
		"chunks", out.Chunks,
		"length", out.Length,
		"cancelled", out.Cancelled,
		"evaluation_pending", out.EvaluationPending)
	return &out, nil
}

// FailGeneration moves the response to error after the workflow exhausted
// GenerateResponse retries. A response that already left generating is left
// untouched.
func (a *Activities) FailGeneration(ctx context.Context, input domain.FailGenerationInput) error {
	if err := input.Validate(); err != nil {
		return nonRetryable("FailGeneration", err, "invalid input")
	}

	err := a.exec.Fail(ctx, input.TargetID, input.WorkflowID, input.Message)
	switch {
	case err == nil:
		a.events.EmitFailed(ctx, input.TargetID, input.Message)
		return nil
	case errors.Is(err, domain.ErrIllegalTransition), errors.Is(err, domain.ErrTargetBusy):
		activity.SafeLogWarn(ctx, "FailGeneration skipped", "target_id", input.TargetID, "error", err)
		return nil
	case errors.Is(err, store.ErrNotFound):
		return nonRetryable("FailGeneration", err, "target not found")
	default:
		return retryable("FailGeneration", err, "failed to record generation failure")
	}
}

// classify maps executor errors onto Temporal application errors.
func classify(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nonRetryable("GenerateResponse", err, "target not found")
	case errors.Is(err, domain.ErrTargetBusy):
		return nonRetryable("GenerateResponse", err, "target owned by another run")
	case errors.Is(err, domain.ErrIllegalTransition):
		return nonRetryable("GenerateResponse", err, "illegal response transition")
	}
	if wfErr := llmerrors.ClassifyLLMError(err); wfErr != nil && !wfErr.ShouldRetry() {
		return nonRetryable("GenerateResponse", err, wfErr.Message)
	}
	return retryable("GenerateResponse", err, err.Error())
}

// nonRetryable wraps an error as a Temporal non-retryable application error.
func nonRetryable(tag string, cause error, msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, tag, cause)
}

// retryable wraps an error as a Temporal retryable application error.
func retryable(tag string, cause error, msg string) error {
	return temporal.NewApplicationError(msg, tag, cause)
}

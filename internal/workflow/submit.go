package workflow

import (
	"errors"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-canvas/internal/domain"
	"github.com/ahrav/go-canvas/internal/generation"
	"github.com/ahrav/go-canvas/internal/judging"
)

// Activity references for ExecuteActivity; the methods are never called on
// these nil receivers.
var (
	genActs   *generation.Activities
	judgeActs *judging.Activities
)

// SubmitPromptWorkflow generates a target's response and, unless skipped or
// cancelled, evaluates it.
//
// GenerateResponse is retried three times; when retries are exhausted the
// response is moved to error through FailGeneration and the round ends as
// generation_failed without failing the workflow.
func SubmitPromptWorkflow(ctx workflow.Context, in domain.SubmitPromptInput) (*domain.RoundResult, error) {
	if err := in.Validate(); err != nil {
		return nil, temporalValidation("invalid submit prompt input", err)
	}

	logger := workflow.GetLogger(ctx)
	wfID := workflow.GetInfo(ctx).WorkflowExecution.ID

	var out domain.GenerateResponseOutput
	gctx := workflow.WithActivityOptions(ctx, generationOptions())
	err := workflow.ExecuteActivity(gctx, genActs.GenerateResponse, domain.GenerateResponseInput{
		TargetID:   in.TargetID,
		WorkflowID: wfID,
		SkipEvals:  in.SkipEvals,
	}).Get(ctx, &out)
	if err != nil {
		msg := failureMessage(err)
		logger.Error("Generation failed", "target_id", in.TargetID, "error", msg)

		bctx := workflow.WithActivityOptions(ctx, bookkeepingOptions())
		if ferr := workflow.ExecuteActivity(bctx, genActs.FailGeneration, domain.FailGenerationInput{
			TargetID:   in.TargetID,
			WorkflowID: wfID,
			Message:    msg,
		}).Get(ctx, nil); ferr != nil {
			return nil, ferr
		}
		return &domain.RoundResult{TargetID: in.TargetID, State: domain.RoundGenerationFailed, Error: msg}, nil
	}

	switch {
	case !out.Success:
		logger.Info("Generation skipped", "target_id", in.TargetID, "reason", out.Reason)
		return &domain.RoundResult{TargetID: in.TargetID, State: domain.RoundSkipped}, nil
	case !out.EvaluationPending:
		return &domain.RoundResult{TargetID: in.TargetID, State: domain.RoundGenerated, Cancelled: out.Cancelled}, nil
	}

	return evaluate(ctx, in.TargetID, wfID, in.MaxParallelJudges)
}

func temporalValidation(msg string, err error) error {
	return temporal.NewNonRetryableApplicationError(msg, "Validation", err)
}

// failureMessage extracts the provider-facing message from an activity error.
func failureMessage(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return "generation timed out: " + timeoutErr.Error()
	}
	return err.Error()
}

package workflow

import (
	"go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-canvas/internal/domain"
)

// RunEvalsWorkflow evaluates a target's current response without generating.
func RunEvalsWorkflow(ctx workflow.Context, in domain.RunEvalsInput) (*domain.RoundResult, error) {
	if err := in.Validate(); err != nil {
		return nil, temporalValidation("invalid run evals input", err)
	}
	return evaluate(ctx, in.TargetID, workflow.GetInfo(ctx).WorkflowExecution.ID, in.MaxParallelJudges)
}

// judgeFailure is an item whose JudgeEval activity returned an error.
type judgeFailure struct {
	evalID string
	msg    string
}

// evaluate opens the round and judges every criterion-bearing item with at
// most maxParallel activities in flight.
func evaluate(ctx workflow.Context, targetID, wfID string, maxParallel int) (*domain.RoundResult, error) {
	logger := workflow.GetLogger(ctx)
	if maxParallel <= 0 {
		maxParallel = domain.DefaultMaxParallelJudges
	}
	bctx := workflow.WithActivityOptions(ctx, bookkeepingOptions())

	var begun domain.BeginEvaluationOutput
	if err := workflow.ExecuteActivity(bctx, judgeActs.BeginEvaluation, domain.BeginEvaluationInput{
		TargetID:   targetID,
		WorkflowID: wfID,
	}).Get(ctx, &begun); err != nil {
		return nil, err
	}

	result := &domain.RoundResult{TargetID: targetID, State: domain.RoundEvaluated}
	if len(begun.EvalIDs) == 0 {
		logger.Info("No criteria to evaluate", "target_id", targetID)
		return result, nil
	}

	jctx := workflow.WithActivityOptions(ctx, judgeOptions())
	sel := workflow.NewSelector(ctx)
	var failures []judgeFailure
	next, inFlight := 0, 0

	launch := func() {
		evalID := begun.EvalIDs[next]
		next++
		inFlight++
		f := workflow.ExecuteActivity(jctx, judgeActs.JudgeEval, domain.JudgeEvalInput{
			TargetID:    targetID,
			EvalID:      evalID,
			WorkflowID:  wfID,
			MaxAttempts: judgeAttempts,
		})
		sel.AddFuture(f, func(f workflow.Future) {
			inFlight--
			var out domain.JudgeEvalOutput
			if err := f.Get(ctx, &out); err != nil {
				failures = append(failures, judgeFailure{evalID: evalID, msg: failureMessage(err)})
				return
			}
			if out.Status == domain.EvalError {
				result.EvalsFailed++
				return
			}
			result.EvalsJudged++
		})
	}

	for next < len(begun.EvalIDs) && inFlight < maxParallel {
		launch()
	}
	for inFlight > 0 {
		sel.Select(ctx)
		for next < len(begun.EvalIDs) && inFlight < maxParallel {
			launch()
		}
	}

	// Settle items whose activity gave up; each call also offers the round to
	// the aggregator.
	futures := make([]workflow.Future, 0, len(failures))
	for _, fl := range failures {
		logger.Warn("Judge failed", "target_id", targetID, "eval_id", fl.evalID, "error", fl.msg)
		futures = append(futures, workflow.ExecuteActivity(bctx, judgeActs.FailEval, domain.FailEvalInput{
			TargetID:   targetID,
			EvalID:     fl.evalID,
			WorkflowID: wfID,
			Message:    fl.msg,
		}))
	}
	for _, f := range futures {
		if err := f.Get(ctx, nil); err != nil {
			return nil, err
		}
	}
	result.EvalsFailed += len(failures)

	logger.Info("Evaluation round finished",
		"target_id", targetID,
		"judged", result.EvalsJudged,
		"failed", result.EvalsFailed)
	return result, nil
}

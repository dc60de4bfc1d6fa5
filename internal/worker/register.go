package worker

import (
	"log/slog"

	"github.com/ahrav/go-canvas/internal/aggregation"
	"github.com/ahrav/go-canvas/internal/generation"
	"github.com/ahrav/go-canvas/internal/judging"
	"github.com/ahrav/go-canvas/internal/workflow"
	"github.com/ahrav/go-canvas/pkg/activity"
)

// Registry is the registration surface shared by a Temporal worker and the
// test workflow environment.
type Registry interface {
	RegisterWorkflow(w any)
	RegisterActivity(a any)
}

// RegisterAll registers both entry workflows and every activity they call.
// It must run once, before the worker starts.
//
// Activities are registered as method values so the methods promoted from
// activity.BaseActivities are not registered under each domain.
func RegisterAll(r Registry, deps *Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := activity.NewBaseActivities(deps.Sink)

	exec := generation.NewExecutor(deps.Store, deps.Chunks, deps.LLM, deps.Generation,
		generation.WithLogger(logger))
	judge := judging.NewJudge(deps.LLM, deps.Judge, judging.WithLogger(logger))
	aggregator := aggregation.NewAggregator(deps.Store, base, deps.Policy)

	genActs := generation.NewActivities(base, exec)
	judgeActs := judging.NewActivities(base, deps.Store, judge, aggregator)

	r.RegisterWorkflow(workflow.SubmitPromptWorkflow)
	r.RegisterWorkflow(workflow.RunEvalsWorkflow)

	r.RegisterActivity(genActs.GenerateResponse)
	r.RegisterActivity(genActs.FailGeneration)
	r.RegisterActivity(judgeActs.BeginEvaluation)
	r.RegisterActivity(judgeActs.JudgeEval)
	r.RegisterActivity(judgeActs.FailEval)
}

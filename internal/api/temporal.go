package api

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"

	"github.com/ahrav/go-canvas/internal/domain"
	"github.com/ahrav/go-canvas/internal/workflow"
)

// TemporalStarter starts workflows on a task queue through a Temporal client.
type TemporalStarter struct {
	client    client.Client
	taskQueue string
}

// NewTemporalStarter returns a starter for taskQueue.
func NewTemporalStarter(c client.Client, taskQueue string) *TemporalStarter {
	return &TemporalStarter{client: c, taskQueue: taskQueue}
}

// StartSubmitPrompt starts SubmitPromptWorkflow.
func (s *TemporalStarter) StartSubmitPrompt(ctx context.Context, workflowID string, in domain.SubmitPromptInput) (string, error) {
	return s.start(ctx, workflowID, workflow.SubmitPromptWorkflow, in)
}

// StartRunEvals starts RunEvalsWorkflow.
func (s *TemporalStarter) StartRunEvals(ctx context.Context, workflowID string, in domain.RunEvalsInput) (string, error) {
	return s.start(ctx, workflowID, workflow.RunEvalsWorkflow, in)
}

func (s *TemporalStarter) start(ctx context.Context, workflowID string, wf any, arg any) (string, error) {
	run, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: s.taskQueue,
	}, wf, arg)
	if err != nil {
		return "", fmt.Errorf("start workflow %s: %w", workflowID, err)
	}
	return run.GetRunID(), nil
}

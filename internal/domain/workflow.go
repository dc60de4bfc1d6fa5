package domain

// Workflow and activity payloads. Payloads carry identifiers only; large text
// such as the response is read from the store inside activities.

// DefaultMaxParallelJudges bounds concurrent judge activities per round.
const DefaultMaxParallelJudges = 10

// SubmitPromptInput starts entry point A: generate, then evaluate.
type SubmitPromptInput struct {
	TargetID  string `json:"target_id" validate:"required"`
	SkipEvals bool   `json:"skip_evals"`
	// MaxParallelJudges overrides DefaultMaxParallelJudges when positive.
	MaxParallelJudges int `json:"max_parallel_judges,omitempty" validate:"gte=0,lte=100"`
}

// Validate checks the submit prompt input.
func (in SubmitPromptInput) Validate() error { return validateStruct(in) }

// RunEvalsInput starts entry point B: evaluate the current response only.
type RunEvalsInput struct {
	TargetID          string `json:"target_id" validate:"required"`
	MaxParallelJudges int    `json:"max_parallel_judges,omitempty" validate:"gte=0,lte=100"`
}

// Validate checks the run evals input.
func (in RunEvalsInput) Validate() error { return validateStruct(in) }

// GenerateResponseInput drives a single generation attempt.
type GenerateResponseInput struct {
	TargetID   string `json:"target_id" validate:"required"`
	WorkflowID string `json:"workflow_id" validate:"required"`
	SkipEvals  bool   `json:"skip_evals"`
}

// Validate checks the generation input.
func (in GenerateResponseInput) Validate() error { return validateStruct(in) }

// GenerateResponseOutput reports how a generation attempt ended.
type GenerateResponseOutput struct {
	// Success is false only for the no-prompt soft skip.
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
	// Cancelled is true when a user cancellation cut the stream short.
	Cancelled bool `json:"cancelled"`
	// EvaluationPending tells the orchestrator to continue with judging.
	EvaluationPending bool `json:"evaluation_pending"`
	Chunks            int  `json:"chunks"`
	Length            int  `json:"length"`
}

// FailGenerationInput records terminal generation failure.
type FailGenerationInput struct {
	TargetID   string `json:"target_id" validate:"required"`
	WorkflowID string `json:"workflow_id" validate:"required"`
	Message    string `json:"message"`
}

// Validate checks the failure input.
func (in FailGenerationInput) Validate() error { return validateStruct(in) }

// BeginEvaluationInput opens an evaluation round.
type BeginEvaluationInput struct {
	TargetID   string `json:"target_id" validate:"required"`
	WorkflowID string `json:"workflow_id" validate:"required"`
}

// Validate checks the begin evaluation input.
func (in BeginEvaluationInput) Validate() error { return validateStruct(in) }

// BeginEvaluationOutput lists the criterion-bearing items to judge.
type BeginEvaluationOutput struct {
	EvalIDs []string `json:"eval_ids"`
}

// JudgeEvalInput judges one item. MaxAttempts lets the activity recognise its
// final attempt, the only one allowed to settle the item as failed.
type JudgeEvalInput struct {
	TargetID    string `json:"target_id" validate:"required"`
	EvalID      string `json:"eval_id" validate:"required"`
	WorkflowID  string `json:"workflow_id" validate:"required"`
	MaxAttempts int32  `json:"max_attempts" validate:"gte=1"`
}

// Validate checks the judge input.
func (in JudgeEvalInput) Validate() error { return validateStruct(in) }

// JudgeEvalOutput summarizes a settled item.
type JudgeEvalOutput struct {
	EvalID     string     `json:"eval_id"`
	Status     EvalStatus `json:"status"`
	Score      *float64   `json:"score,omitempty"`
	Aggregated bool       `json:"aggregated"`
}

// FailEvalInput settles an item whose judge activity could not finish.
type FailEvalInput struct {
	TargetID   string `json:"target_id" validate:"required"`
	EvalID     string `json:"eval_id" validate:"required"`
	WorkflowID string `json:"workflow_id" validate:"required"`
	Message    string `json:"message"`
}

// Validate checks the fail input.
func (in FailEvalInput) Validate() error { return validateStruct(in) }

// RoundState is the terminal orchestration state of a workflow run.
type RoundState string

// Terminal round states.
const (
	RoundSkipped          RoundState = "skipped"
	RoundGenerationFailed RoundState = "generation_failed"
	RoundGenerated        RoundState = "generated"
	RoundEvaluated        RoundState = "evaluated"
)

// RoundResult is returned by both entry workflows.
type RoundResult struct {
	TargetID    string     `json:"target_id"`
	State       RoundState `json:"state"`
	Cancelled   bool       `json:"cancelled,omitempty"`
	Error       string     `json:"error,omitempty"`
	EvalsJudged int        `json:"evals_judged"`
	EvalsFailed int        `json:"evals_failed"`
}

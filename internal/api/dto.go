package api

import "github.com/ahrav/go-canvas/internal/domain"

// EvalRequest describes one rubric item when scaffolding a target.
type EvalRequest struct {
	Criteria   string   `json:"criteria"`
	Kind       string   `json:"kind" binding:"omitempty,oneof=pass_fail subjective"`
	JudgeModel string   `json:"judge_model"`
	Required   bool     `json:"required"`
	Weight     float64  `json:"weight" binding:"gte=0"`
	Threshold  *float64 `json:"threshold" binding:"omitempty,gte=0,lte=1"`
}

// CreateTargetRequest scaffolds a target. ID is generated when empty.
type CreateTargetRequest struct {
	ID               string        `json:"id" binding:"omitempty,max=128"`
	Prompt           string        `json:"prompt"`
	Model            string        `json:"model"`
	SuccessThreshold *float64      `json:"success_threshold" binding:"omitempty,gte=0,lte=1"`
	Evals            []EvalRequest `json:"evals" binding:"dive"`
}

func (r CreateTargetRequest) toDomain(newID func() string) (domain.Target, []domain.EvalItem) {
	id := r.ID
	if id == "" {
		id = newID()
	}
	t := domain.Target{
		ID:               id,
		Prompt:           r.Prompt,
		Model:            r.Model,
		SuccessThreshold: r.SuccessThreshold,
	}

	evals := make([]domain.EvalItem, 0, len(r.Evals))
	for i, e := range r.Evals {
		kind := domain.EvalKind(e.Kind)
		if kind == "" {
			kind = domain.KindPassFail
		}
		weight := e.Weight
		if weight == 0 {
			weight = domain.DefaultEvalWeight
		}
		evals = append(evals, domain.EvalItem{
			ID:            newID(),
			TargetID:      id,
			Position:      i,
			Criteria:      e.Criteria,
			Kind:          kind,
			JudgeModel:    e.JudgeModel,
			Required:      e.Required,
			Weight:        weight,
			PassThreshold: e.Threshold,
		})
	}
	return t, evals
}

// SubmitPromptRequest starts a generation round.
type SubmitPromptRequest struct {
	Prompt    string `json:"prompt" binding:"required"`
	Model     string `json:"model"`
	SkipEvals bool   `json:"skip_evals"`
}

// RoundAccepted acknowledges a started workflow.
type RoundAccepted struct {
	TargetID   string `json:"target_id"`
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// CancelResponse reports whether a cancellation marker was written.
type CancelResponse struct {
	TargetID  string `json:"target_id"`
	Requested bool   `json:"requested"`
}

// TargetView is the reactive read model of a target.
type TargetView struct {
	Target domain.Target     `json:"target"`
	Evals  []domain.EvalItem `json:"evals"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

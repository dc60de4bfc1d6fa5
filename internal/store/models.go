package store

import (
	"time"

	"github.com/ahrav/go-canvas/internal/domain"
)

// targetRecord is the persisted shape of a generation target (canvas version).
type targetRecord struct {
	ID     string `gorm:"primaryKey;size:64"`
	Prompt string `gorm:"type:text"`
	Model  string `gorm:"size:255"`

	Response            string     `gorm:"type:text"`
	ResponseStatus      string     `gorm:"size:16;not null;default:idle;index"`
	ResponseError       string     `gorm:"type:text"`
	ResponseErrorAt     *time.Time `gorm:"column:response_error_at"`
	ResponseCompletedAt *time.Time `gorm:"column:response_completed_at"`

	GenerationCancelledAt *time.Time `gorm:"column:generation_cancelled_at"`

	EvalsStatus      string     `gorm:"size:16;not null;default:idle"`
	EvalsCompletedAt *time.Time `gorm:"column:evals_completed_at"`
	AggregateScore   *float64
	IsSuccessful     *bool
	SuccessThreshold *float64

	WorkflowID *string `gorm:"size:255;index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (targetRecord) TableName() string { return "generation_targets" }

func (r targetRecord) toDomain() domain.Target {
	t := domain.Target{
		ID:                  r.ID,
		Prompt:              r.Prompt,
		Model:               r.Model,
		Response:            r.Response,
		ResponseStatus:      domain.ResponseStatus(r.ResponseStatus),
		ResponseError:       r.ResponseError,
		ResponseErrorAt:     r.ResponseErrorAt,
		ResponseCompletedAt: r.ResponseCompletedAt,
		CancelRequestedAt:   r.GenerationCancelledAt,
		EvalsStatus:         domain.EvalsStatus(r.EvalsStatus),
		EvalsCompletedAt:    r.EvalsCompletedAt,
		AggregateScore:      r.AggregateScore,
		IsSuccessful:        r.IsSuccessful,
		SuccessThreshold:    r.SuccessThreshold,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.WorkflowID != nil {
		t.WorkflowID = *r.WorkflowID
	}
	return t
}

// evalRecord is the persisted shape of one rubric item.
type evalRecord struct {
	ID         string  `gorm:"primaryKey;size:64"`
	TargetID   string  `gorm:"size:64;not null;index:idx_evals_target_position"`
	Position   int     `gorm:"not null;default:0;index:idx_evals_target_position"`
	Criteria   string  `gorm:"type:text"`
	Kind       string  `gorm:"size:16;not null;default:pass_fail"`
	JudgeModel string  `gorm:"size:255"`
	Required   bool    `gorm:"not null;default:false"`
	Weight     float64 `gorm:"not null;default:1"`
	Threshold  *float64

	Status      string `gorm:"size:16;not null;default:idle"`
	Score       *float64
	Explanation string `gorm:"type:text"`
	Error       string `gorm:"type:text"`
	CompletedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (evalRecord) TableName() string { return "eval_items" }

func (r evalRecord) toDomain() domain.EvalItem {
	return domain.EvalItem{
		ID:            r.ID,
		TargetID:      r.TargetID,
		Position:      r.Position,
		Criteria:      r.Criteria,
		Kind:          domain.EvalKind(r.Kind),
		JudgeModel:    r.JudgeModel,
		Required:      r.Required,
		Weight:        r.Weight,
		PassThreshold: r.Threshold,
		Status:        domain.EvalStatus(r.Status),
		Score:         r.Score,
		Explanation:   r.Explanation,
		Error:         r.Error,
		CompletedAt:   r.CompletedAt,
	}
}

func evalRecordFrom(e domain.EvalItem) evalRecord {
	status := string(e.Status)
	if status == "" {
		status = string(domain.EvalIdle)
	}
	kind := string(e.Kind)
	if kind == "" {
		kind = string(domain.KindPassFail)
	}
	return evalRecord{
		ID:          e.ID,
		TargetID:    e.TargetID,
		Position:    e.Position,
		Criteria:    e.Criteria,
		Kind:        kind,
		JudgeModel:  e.JudgeModel,
		Required:    e.Required,
		Weight:      e.EffectiveWeight(),
		Threshold:   e.PassThreshold,
		Status:      status,
		Score:       e.Score,
		Explanation: e.Explanation,
		Error:       e.Error,
		CompletedAt: e.CompletedAt,
	}
}

// chunkRecord is one streamed fragment; (target_id, seq) is unique.
type chunkRecord struct {
	ID       uint   `gorm:"primaryKey"`
	TargetID string `gorm:"size:64;not null;uniqueIndex:idx_chunks_target_seq"`
	Seq      int    `gorm:"not null;uniqueIndex:idx_chunks_target_seq"`
	Content  string `gorm:"type:text"`

	CreatedAt time.Time
}

func (chunkRecord) TableName() string { return "response_chunks" }

// responseColumns returns the column writes for a response lifecycle variant.
func responseColumns(s domain.ResponseState) map[string]any {
	switch v := s.(type) {
	case domain.Generating:
		return map[string]any{
			"response_status":   string(domain.ResponseGenerating),
			"workflow_id":       nullable(v.WorkflowID),
			"response_error":    v.LastError,
			"response_error_at": v.LastErrorAt,
		}
	case domain.Completed:
		return map[string]any{
			"response_status":       string(domain.ResponseComplete),
			"response":              v.Text,
			"response_completed_at": v.CompletedAt,
			"response_error":        "",
			"response_error_at":     nil,
		}
	case domain.Failed:
		return map[string]any{
			"response_status":   string(domain.ResponseError),
			"response_error":    v.Message,
			"response_error_at": v.FailedAt,
			"workflow_id":       nil,
		}
	default:
		return map[string]any{"response_status": string(domain.ResponseIdle)}
	}
}

// evalColumns returns the column writes for a rubric item lifecycle variant.
// In-flight writes leave score and explanation untouched so the last result
// stays visible as stale.
func evalColumns(s domain.EvalState) map[string]any {
	switch v := s.(type) {
	case domain.EvalInFlight:
		return map[string]any{
			"status": string(domain.EvalRunning),
			"error":  "",
		}
	case domain.EvalDone:
		return map[string]any{
			"status":       string(domain.EvalComplete),
			"score":        v.Result.Score,
			"explanation":  v.Result.Explanation,
			"error":        v.RecoveredFrom,
			"completed_at": v.Result.CompletedAt,
		}
	case domain.EvalFailed:
		return map[string]any{
			"status":       string(domain.EvalError),
			"score":        nil,
			"explanation":  "",
			"error":        v.Message,
			"completed_at": v.FailedAt,
		}
	default:
		return map[string]any{"status": string(domain.EvalIdle)}
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

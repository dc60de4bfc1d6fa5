package domain

import (
	"strings"
	"time"
)

// EvalKind selects how a rubric item is judged.
type EvalKind string

// Supported rubric item kinds.
const (
	// KindPassFail is judged as a boolean and scored 1 or 0.
	KindPassFail EvalKind = "pass_fail"
	// KindSubjective is judged on a continuous 0..1 scale.
	KindSubjective EvalKind = "subjective"
)

// EvalStatus is the persisted lifecycle status of a single rubric item.
type EvalStatus string

// Rubric item statuses.
const (
	EvalIdle     EvalStatus = "idle"
	EvalRunning  EvalStatus = "running"
	EvalComplete EvalStatus = "complete"
	EvalError    EvalStatus = "error"
)

const (
	// DefaultEvalWeight is used when an item has no positive weight.
	DefaultEvalWeight = 1.0
	// DefaultSubjectiveThreshold is the pass mark for subjective items.
	DefaultSubjectiveThreshold = 0.5
)

// EvalItem is one weighted rubric requirement bound to a target.
type EvalItem struct {
	ID         string   `json:"id"`
	TargetID   string   `json:"target_id"`
	Position   int      `json:"position"`
	Criteria   string   `json:"criteria,omitempty"`
	Kind       EvalKind `json:"kind"`
	JudgeModel string   `json:"judge_model"`
	Required   bool     `json:"required"`
	Weight     float64  `json:"weight"`
	// PassThreshold applies to subjective items only; nil means the default.
	PassThreshold *float64 `json:"threshold,omitempty"`

	Status      EvalStatus `json:"status"`
	Score       *float64   `json:"score,omitempty"`
	Explanation string     `json:"explanation,omitempty"`
	Error       string     `json:"error,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// HasCriteria reports whether the item has been configured with a criterion.
func (e EvalItem) HasCriteria() bool {
	return strings.TrimSpace(e.Criteria) != ""
}

// EffectiveWeight returns the item's weight, defaulting non-positive values.
func (e EvalItem) EffectiveWeight() float64 {
	if e.Weight <= 0 {
		return DefaultEvalWeight
	}
	return e.Weight
}

// Threshold returns the subjective pass mark.
func (e EvalItem) Threshold() float64 {
	if e.PassThreshold == nil {
		return DefaultSubjectiveThreshold
	}
	return *e.PassThreshold
}

// Settled reports whether the item reached a terminal status.
func (e EvalItem) Settled() bool {
	return e.Status == EvalComplete || e.Status == EvalError
}

// Usable reports whether the item contributes a score to aggregation.
func (e EvalItem) Usable() bool {
	return e.Status == EvalComplete && e.Score != nil
}

// Passes reports whether a usable item meets its own pass condition.
func (e EvalItem) Passes() bool {
	if !e.Usable() {
		return false
	}
	if e.Kind == KindPassFail {
		return *e.Score == 1
	}
	return *e.Score >= e.Threshold()
}

// State projects the flat item fields onto their lifecycle variant.
func (e EvalItem) State() EvalState {
	var last *EvalResult
	if e.Score != nil {
		r := EvalResult{Score: *e.Score, Explanation: e.Explanation}
		if e.CompletedAt != nil {
			r.CompletedAt = *e.CompletedAt
		}
		last = &r
	}

	switch e.Status {
	case EvalRunning:
		return EvalInFlight{Last: last}
	case EvalComplete:
		if last == nil {
			// A complete row without a score is only produced by legacy writes.
			return EvalFailed{Message: e.Error}
		}
		return EvalDone{Result: *last, RecoveredFrom: e.Error}
	case EvalError:
		var at time.Time
		if e.CompletedAt != nil {
			at = *e.CompletedAt
		}
		return EvalFailed{Message: e.Error, FailedAt: at}
	default:
		return EvalPending{Last: last}
	}
}

// Aggregate is the settled outcome of one evaluation round. Nil fields mean the
// round had no usable scores.
type Aggregate struct {
	Score      *float64 `json:"aggregate_score,omitempty"`
	Successful *bool    `json:"is_successful,omitempty"`
}

package domain

import (
	"fmt"
	"time"
)

// ResponseState is the response lifecycle as a closed set of variants. Each
// variant carries only the fields that are meaningful in that state.
type ResponseState interface {
	ResponseStatus() ResponseStatus
}

// Idle is a response that has never been generated.
type Idle struct{}

// Generating is a response owned by an in-flight workflow run. LastError is the
// transient marker left by a failed attempt that will be retried.
type Generating struct {
	WorkflowID  string
	LastError   string
	LastErrorAt *time.Time
}

// Completed is a finalized response; Text is authoritative.
type Completed struct {
	Text        string
	CompletedAt time.Time
}

// Failed is a response whose generation retries were exhausted.
type Failed struct {
	Message  string
	FailedAt time.Time
}

func (Idle) ResponseStatus() ResponseStatus       { return ResponseIdle }
func (Generating) ResponseStatus() ResponseStatus { return ResponseGenerating }
func (Completed) ResponseStatus() ResponseStatus  { return ResponseComplete }
func (Failed) ResponseStatus() ResponseStatus     { return ResponseError }

// StartGeneration moves any response into Generating for workflowID. A response
// already generating under a different run is rejected with ErrTargetBusy; the
// same run may restart (a retried attempt), which clears the transient marker.
func StartGeneration(s ResponseState, workflowID string) (Generating, error) {
	if g, ok := s.(Generating); ok && g.WorkflowID != "" && g.WorkflowID != workflowID {
		return Generating{}, fmt.Errorf("%w: %s", ErrTargetBusy, g.WorkflowID)
	}
	return Generating{WorkflowID: workflowID}, nil
}

// MarkTransient records a retryable failure without leaving Generating.
func MarkTransient(s ResponseState, msg string, at time.Time) (Generating, error) {
	g, ok := s.(Generating)
	if !ok {
		return Generating{}, illegal(s.ResponseStatus(), "mark transient error")
	}
	g.LastError = msg
	g.LastErrorAt = &at
	return g, nil
}

// FinishGeneration finalizes a generating response with its consolidated text.
func FinishGeneration(s ResponseState, text string, at time.Time) (Completed, error) {
	if _, ok := s.(Generating); !ok {
		return Completed{}, illegal(s.ResponseStatus(), "finish generation")
	}
	return Completed{Text: text, CompletedAt: at}, nil
}

// AbandonGeneration is the terminal transition after retries are exhausted.
func AbandonGeneration(s ResponseState, workflowID, msg string, at time.Time) (Failed, error) {
	switch v := s.(type) {
	case Generating:
		if v.WorkflowID != "" && v.WorkflowID != workflowID {
			return Failed{}, fmt.Errorf("%w: %s", ErrTargetBusy, v.WorkflowID)
		}
	case Idle:
	default:
		return Failed{}, illegal(s.ResponseStatus(), "abandon generation")
	}
	return Failed{Message: msg, FailedAt: at}, nil
}

// EvalResult is a successful judgment.
type EvalResult struct {
	Score       float64
	Explanation string
	CompletedAt time.Time
}

// EvalState is the rubric item lifecycle as a closed set of variants.
type EvalState interface {
	EvalStatus() EvalStatus
}

// EvalPending is an item that has not been judged in the current round.
type EvalPending struct {
	Last *EvalResult
}

// EvalInFlight is an item being judged. Last is shown as stale meanwhile.
type EvalInFlight struct {
	Last *EvalResult
}

// EvalDone is a settled item with a usable score. RecoveredFrom holds the judge
// error when the score was retained from an earlier round.
type EvalDone struct {
	Result        EvalResult
	RecoveredFrom string
}

// EvalFailed is a settled item with no usable score.
type EvalFailed struct {
	Message  string
	FailedAt time.Time
}

func (EvalPending) EvalStatus() EvalStatus  { return EvalIdle }
func (EvalInFlight) EvalStatus() EvalStatus { return EvalRunning }
func (EvalDone) EvalStatus() EvalStatus     { return EvalComplete }
func (EvalFailed) EvalStatus() EvalStatus   { return EvalError }

// Recovered reports whether the score was retained after a judge failure.
func (d EvalDone) Recovered() bool { return d.RecoveredFrom != "" }

// LastResult returns the most recent successful judgment carried by s, if any.
func LastResult(s EvalState) *EvalResult {
	switch v := s.(type) {
	case EvalPending:
		return v.Last
	case EvalInFlight:
		return v.Last
	case EvalDone:
		r := v.Result
		return &r
	default:
		return nil
	}
}

// BeginJudging marks an item running while preserving its last result.
func BeginJudging(s EvalState) EvalInFlight {
	return EvalInFlight{Last: LastResult(s)}
}

// JudgeSucceeded overwrites the item's score and explanation.
func JudgeSucceeded(res EvalResult) EvalDone {
	return EvalDone{Result: res}
}

// JudgeFailed settles an item after a failed judgment. Scores are sticky: a prior
// result is kept and the item still completes; without one the item errors.
func JudgeFailed(s EvalState, msg string, at time.Time) EvalState {
	prior := LastResult(s)
	if prior == nil {
		return EvalFailed{Message: msg, FailedAt: at}
	}
	res := *prior
	if res.Explanation == "" {
		res.Explanation = "Previous score retained after judge error: " + msg
	}
	return EvalDone{Result: res, RecoveredFrom: msg}
}

// AutoPass is the neutral result for an item without criteria.
func AutoPass(kind EvalKind, at time.Time) EvalDone {
	score := 1.0
	if kind == KindSubjective {
		score = DefaultSubjectiveThreshold
	}
	return EvalDone{Result: EvalResult{
		Score:       score,
		Explanation: "No criteria configured; nothing to evaluate.",
		CompletedAt: at,
	}}
}

func illegal(from ResponseStatus, op string) error {
	return fmt.Errorf("%w: cannot %s from %s", ErrIllegalTransition, op, from)
}

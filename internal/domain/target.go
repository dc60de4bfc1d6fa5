// Package domain defines the core types of the canvas generation and evaluation
// pipeline: generation targets, rubric items, streamed response chunks, and the
// lifecycle states each of them moves through.
package domain

import (
	"strings"
	"time"
)

// ResponseStatus is the persisted lifecycle status of a target's response.
type ResponseStatus string

// Response lifecycle statuses.
const (
	ResponseIdle       ResponseStatus = "idle"
	ResponseGenerating ResponseStatus = "generating"
	ResponseComplete   ResponseStatus = "complete"
	ResponseError      ResponseStatus = "error"
)

// EvalsStatus is the persisted lifecycle status of a target's evaluation round.
type EvalsStatus string

// Evaluation round statuses.
const (
	EvalsIdle     EvalsStatus = "idle"
	EvalsRunning  EvalsStatus = "running"
	EvalsComplete EvalsStatus = "complete"
	EvalsError    EvalsStatus = "error"
)

// DefaultSuccessThreshold is the aggregate score a target must reach when it does
// not configure its own threshold. Every aggregation path uses this value.
const DefaultSuccessThreshold = 0.7

// Target is one prompt/response pair under orchestration (a canvas version).
//
// The response fields form a hand-persisted state machine; use Lifecycle to view
// them as a ResponseState variant instead of reading the flat fields directly.
type Target struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt,omitempty"`
	Model  string `json:"model"`

	Response            string         `json:"response,omitempty"`
	ResponseStatus      ResponseStatus `json:"response_status"`
	ResponseError       string         `json:"response_error,omitempty"`
	ResponseErrorAt     *time.Time     `json:"response_error_at,omitempty"`
	ResponseCompletedAt *time.Time     `json:"response_completed_at,omitempty"`

	// CancelRequestedAt is the generationCancelledAt marker written by a user.
	CancelRequestedAt *time.Time `json:"generation_cancelled_at,omitempty"`

	EvalsStatus      EvalsStatus `json:"evals_status"`
	EvalsCompletedAt *time.Time  `json:"evals_completed_at,omitempty"`
	AggregateScore   *float64    `json:"aggregate_score,omitempty"`
	IsSuccessful     *bool       `json:"is_successful,omitempty"`
	SuccessThreshold *float64    `json:"success_threshold,omitempty"`

	// WorkflowID is the active-workflow handle; empty when no run owns the target.
	WorkflowID string `json:"workflow_id,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// HasPrompt reports whether the target has prompt text to generate from.
func (t Target) HasPrompt() bool {
	return strings.TrimSpace(t.Prompt) != ""
}

// Threshold returns the configured success threshold or the default.
func (t Target) Threshold() float64 {
	if t.SuccessThreshold == nil {
		return DefaultSuccessThreshold
	}
	return *t.SuccessThreshold
}

// CancellationRequested reports whether a user asked to stop generation.
func (t Target) CancellationRequested() bool {
	return t.CancelRequestedAt != nil
}

// OwnedByOtherRun reports whether a live run other than workflowID holds the
// target. A handle left behind on an idle target does not block.
func (t Target) OwnedByOtherRun(workflowID string) bool {
	if t.WorkflowID == "" || t.WorkflowID == workflowID {
		return false
	}
	return t.ResponseStatus == ResponseGenerating || t.EvalsStatus == EvalsRunning
}

// Lifecycle projects the flat response fields onto their lifecycle variant.
func (t Target) Lifecycle() ResponseState {
	switch t.ResponseStatus {
	case ResponseGenerating:
		return Generating{
			WorkflowID:  t.WorkflowID,
			LastError:   t.ResponseError,
			LastErrorAt: t.ResponseErrorAt,
		}
	case ResponseComplete:
		var at time.Time
		if t.ResponseCompletedAt != nil {
			at = *t.ResponseCompletedAt
		}
		return Completed{Text: t.Response, CompletedAt: at}
	case ResponseError:
		var at time.Time
		if t.ResponseErrorAt != nil {
			at = *t.ResponseErrorAt
		}
		return Failed{Message: t.ResponseError, FailedAt: at}
	default:
		return Idle{}
	}
}

// ResponseChunk is one persisted fragment of a streaming response.
type ResponseChunk struct {
	TargetID string `json:"target_id"`
	Index    int    `json:"index"`
	Content  string `json:"content"`
}

// Package activity provides common infrastructure for all Temporal activity implementations.
// It includes base types, context extraction, safe logging, and event emission utilities
// that are shared across all domain-specific activity packages.
package activity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/ahrav/go-canvas/pkg/events"
)

// WorkflowContext contains metadata extracted from the Temporal activity context.
// Outside an activity (plain unit tests) fixed test values are returned.
type WorkflowContext struct {
	WorkflowID string
	RunID      string
	ActivityID string
	// Attempt is 1-based; 1 is the first execution of the activity.
	Attempt int32
}

// BaseActivities provides common infrastructure for all activity types.
type BaseActivities struct {
	eventSink events.EventSink
}

// NewBaseActivities creates a new BaseActivities instance with the provided event sink.
// The event sink can be nil for testing scenarios where event emission is not needed.
func NewBaseActivities(sink events.EventSink) BaseActivities {
	return BaseActivities{eventSink: sink}
}

// GetWorkflowContext safely extracts workflow context from the activity context.
// In test contexts (where activity.GetInfo would panic), it returns test IDs and
// attempt 1.
func (b *BaseActivities) GetWorkflowContext(ctx context.Context) WorkflowContext {
	var wfCtx WorkflowContext

	func() {
		defer func() {
			if r := recover(); r != nil {
				wfCtx.WorkflowID = "test-workflow"
				wfCtx.RunID = "test-run-" + uuid.New().String()[:8]
				wfCtx.ActivityID = "test-activity"
				wfCtx.Attempt = 1
			}
		}()

		info := activity.GetInfo(ctx)
		wfCtx.WorkflowID = info.WorkflowExecution.ID
		wfCtx.RunID = info.WorkflowExecution.RunID
		wfCtx.ActivityID = info.ActivityID
		wfCtx.Attempt = info.Attempt
	}()

	return wfCtx
}

// NewEnvelope builds an event envelope for targetID. The idempotency key hashes
// the workflow ID, event type, target, and discriminator parts, so a retried
// activity reproduces the same key.
func (b *BaseActivities) NewEnvelope(
	ctx context.Context,
	eventType, source, targetID string,
	payload any,
	discriminator ...string,
) (events.Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return events.Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	wf := b.GetWorkflowContext(ctx)

	h := sha256.New()
	h.Write([]byte(strings.Join(append([]string{wf.WorkflowID, eventType, targetID}, discriminator...), "\x00")))

	return events.Envelope{
		ID:             uuid.New().String(),
		Type:           eventType,
		Source:         source,
		Version:        "1.0.0",
		Timestamp:      time.Now(),
		IdempotencyKey: hex.EncodeToString(h.Sum(nil)),
		TargetID:       targetID,
		WorkflowID:     wf.WorkflowID,
		RunID:          wf.RunID,
		Payload:        raw,
	}, nil
}

// EmitEventSafe provides best-effort event emission with a short retry.
// Emission never fails the calling activity:
// - Skip emission if eventSink is nil
// - Retry up to 2 times with 200ms delay
// - Log success or failure without propagating errors.
func (b *BaseActivities) EmitEventSafe(
	ctx context.Context,
	envelope events.Envelope,
	description string,
) {
	if b.eventSink == nil {
		return
	}

	const maxAttempts = 2
	const retryDelay = 200 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				SafeLogError(ctx, fmt.Sprintf("Event emission cancelled: %s", description),
					"event_type", envelope.Type)
				return
			}
		}

		if err := b.eventSink.Append(ctx, envelope); err != nil {
			lastErr = err
			continue
		}

		SafeLog(ctx, fmt.Sprintf("Event emitted: %s", description),
			"event_type", envelope.Type,
			"idempotency_key", envelope.IdempotencyKey)
		return
	}

	SafeLogError(ctx, fmt.Sprintf("Failed to emit %s after %d attempts", description, maxAttempts),
		"event_type", envelope.Type,
		"error", lastErr)
}

// Emit builds and emits an envelope in one step. Marshal failures are logged.
func (b *BaseActivities) Emit(
	ctx context.Context,
	eventType, source, targetID string,
	payload any,
	discriminator ...string,
) {
	env, err := b.NewEnvelope(ctx, eventType, source, targetID, payload, discriminator...)
	if err != nil {
		SafeLogError(ctx, "Failed to build event", "event_type", eventType, "error", err)
		return
	}
	b.EmitEventSafe(ctx, env, eventType)
}

// RecordHeartbeat safely records a heartbeat in the Temporal activity context.
func (b *BaseActivities) RecordHeartbeat(ctx context.Context, details ...any) {
	RecordHeartbeat(ctx, details...)
}

// SafeLog performs context-safe logging that works in both activity and test contexts.
// In a Temporal activity context, it uses the activity logger for structured logging.
// In test contexts, it silently ignores the log call to avoid panics.
func SafeLog(ctx context.Context, msg string, keyvals ...any) {
	defer func() {
		if recover() != nil {
			// Not an activity context, ignore
		}
	}()
	activity.GetLogger(ctx).Info(msg, keyvals...)
}

// SafeLogWarn logs at WARN level; see SafeLog.
func SafeLogWarn(ctx context.Context, msg string, keyvals ...any) {
	defer func() {
		if recover() != nil {
			// Not an activity context, ignore
		}
	}()
	activity.GetLogger(ctx).Warn(msg, keyvals...)
}

// SafeLogError performs context-safe error logging that works in both activity and test contexts.
func SafeLogError(ctx context.Context, msg string, keyvals ...any) {
	defer func() {
		if recover() != nil {
			// Not an activity context, ignore
		}
	}()
	activity.GetLogger(ctx).Error(msg, keyvals...)
}

// RecordHeartbeat safely records activity heartbeat with details.
// This method safely handles non-activity contexts.
func RecordHeartbeat(ctx context.Context, details ...any) {
	defer func() {
		if recover() != nil {
			// Not an activity context, ignore
		}
	}()
	activity.RecordHeartbeat(ctx, details...)
}

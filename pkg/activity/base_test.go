package activity

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-canvas/pkg/events"
)

type flakySink struct {
	failures int
	got      []events.Envelope
}

func (f *flakySink) Append(_ context.Context, e events.Envelope) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("sink unavailable")
	}
	f.got = append(f.got, e)
	return nil
}

func TestGetWorkflowContextOutsideActivity(t *testing.T) {
	b := NewBaseActivities(nil)
	wf := b.GetWorkflowContext(context.Background())
	assert.Equal(t, "test-workflow", wf.WorkflowID)
	assert.Equal(t, int32(1), wf.Attempt)
	assert.NotEmpty(t, wf.RunID)
}

func TestNewEnvelopeIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	b := NewBaseActivities(nil)

	e1, err := b.NewEnvelope(ctx, "evaluation.item_settled", "judging", "t1", map[string]any{"score": 1}, "e1")
	require.NoError(t, err)
	e2, err := b.NewEnvelope(ctx, "evaluation.item_settled", "judging", "t1", map[string]any{"score": 1}, "e1")
	require.NoError(t, err)
	e3, err := b.NewEnvelope(ctx, "evaluation.item_settled", "judging", "t1", map[string]any{"score": 1}, "e2")
	require.NoError(t, err)

	assert.Equal(t, e1.IdempotencyKey, e2.IdempotencyKey, "same inputs reproduce the key")
	assert.NotEqual(t, e1.IdempotencyKey, e3.IdempotencyKey)
	assert.NotEqual(t, e1.ID, e2.ID)
	assert.Equal(t, "t1", e1.TargetID)
	assert.JSONEq(t, `{"score":1}`, string(e1.Payload))

	_, err = b.NewEnvelope(ctx, "bad", "x", "t1", make(chan int))
	var jsonErr *json.UnsupportedTypeError
	require.ErrorAs(t, err, &jsonErr)
}

func TestEmitEventSafe(t *testing.T) {
	ctx := context.Background()

	t.Run("retries once", func(t *testing.T) {
		sink := &flakySink{failures: 1}
		b := NewBaseActivities(sink)
		b.Emit(ctx, "generation.completed", "generation", "t1", map[string]int{"chunks": 3})
		require.Len(t, sink.got, 1)
		assert.Equal(t, "generation.completed", sink.got[0].Type)
	})

	t.Run("gives up without error", func(t *testing.T) {
		sink := &flakySink{failures: 5}
		b := NewBaseActivities(sink)
		b.Emit(ctx, "generation.completed", "generation", "t1", nil)
		assert.Empty(t, sink.got)
	})

	t.Run("nil sink is a no-op", func(t *testing.T) {
		b := NewBaseActivities(nil)
		b.Emit(ctx, "generation.completed", "generation", "t1", nil)
	})
}

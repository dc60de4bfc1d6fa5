package aggregation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-canvas/internal/domain"
	"github.com/ahrav/go-canvas/pkg/activity"
	"github.com/ahrav/go-canvas/pkg/events"
)

func TestAggregatorSettle(t *testing.T) {
	ctx := context.Background()

	t.Run("waits for every item then commits once", func(t *testing.T) {
		s, ids := openRound(t, 2)
		rec := events.NewRecorder()
		agg := NewAggregator(s, activity.NewBaseActivities(rec), DefaultPolicy())

		_, _, err := s.CompleteEval(ctx, ids[0], domain.EvalResult{Score: 1, Explanation: "ok", CompletedAt: testNow})
		require.NoError(t, err)
		_, applied, err := agg.Settle(ctx, "t1", "wf-1")
		require.NoError(t, err)
		assert.False(t, applied, "second item still running")

		_, _, err = s.CompleteEval(ctx, ids[1], domain.EvalResult{Score: 0.5, Explanation: "meh", CompletedAt: testNow})
		require.NoError(t, err)
		out, applied, err := agg.Settle(ctx, "t1", "wf-1")
		require.NoError(t, err)
		require.True(t, applied)
		assert.InDelta(t, 0.75, *out.Score, 1e-9)
		assert.True(t, *out.Successful)

		got, err := s.GetTarget(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, domain.EvalsComplete, got.EvalsStatus)
		assert.Empty(t, got.WorkflowID)
		require.NotNil(t, got.AggregateScore)
		assert.InDelta(t, 0.75, *got.AggregateScore, 1e-9)

		_, applied, err = agg.Settle(ctx, "t1", "wf-1")
		require.NoError(t, err)
		assert.False(t, applied, "round already closed")
		assert.Len(t, rec.OfType(EventAggregated), 1)
	})

	t.Run("missing target", func(t *testing.T) {
		s, _ := openRound(t, 1)
		agg := NewAggregator(s, activity.NewBaseActivities(nil), DefaultPolicy())
		_, _, err := agg.Settle(ctx, "nope", "wf-1")
		require.Error(t, err)
	})
}

// TestAggregatorSettleConcurrent races many settlement calls against one
// ready round. Run with -race.
func TestAggregatorSettleConcurrent(t *testing.T) {
	const callers = 16
	ctx := context.Background()
	s, ids := openRound(t, 4)
	for _, id := range ids {
		_, _, err := s.CompleteEval(ctx, id, domain.EvalResult{Score: 1, CompletedAt: testNow})
		require.NoError(t, err)
	}

	rec := events.NewRecorder()
	agg := NewAggregator(s, activity.NewBaseActivities(rec), DefaultPolicy())

	var (
		wg      sync.WaitGroup
		applied atomic.Int32
		start   = make(chan struct{})
		errs    = make(chan error, callers)
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, ok, err := agg.Settle(ctx, "t1", "wf-1")
			if err != nil {
				errs <- err
				return
			}
			if ok {
				applied.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), applied.Load())
	assert.Len(t, rec.OfType(EventAggregated), 1)
}

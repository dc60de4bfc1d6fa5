package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-canvas/internal/domain"
)

func TestTargetLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	seedTarget(t, s, "t1")

	got, err := s.GetTarget(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.ResponseIdle, got.ResponseStatus)
	assert.Equal(t, domain.EvalsIdle, got.EvalsStatus)
	assert.InDelta(t, domain.DefaultSuccessThreshold, got.Threshold(), 1e-9)

	require.NoError(t, s.BeginGeneration(ctx, "t1", "wf-1"))
	got, err = s.GetTarget(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.ResponseGenerating, got.ResponseStatus)
	assert.Equal(t, "wf-1", got.WorkflowID)

	require.NoError(t, s.RecordTransientError(ctx, "t1", "429 from provider", fixedNow))
	got, err = s.GetTarget(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.ResponseGenerating, got.ResponseStatus, "transient errors never leave generating")
	assert.Equal(t, "429 from provider", got.ResponseError)
	require.NotNil(t, got.ResponseErrorAt)

	require.NoError(t, s.FinalizeResponse(ctx, "t1", "final text", fixedNow, true))
	got, err = s.GetTarget(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.ResponseComplete, got.ResponseStatus)
	assert.Equal(t, "final text", got.Response)
	assert.Empty(t, got.ResponseError)
	assert.Nil(t, got.ResponseErrorAt)
	assert.Empty(t, got.WorkflowID)

	err = s.FinalizeResponse(ctx, "t1", "again", fixedNow, true)
	require.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestFinalizeKeepsHandleWhenEvalsPending(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	seedTarget(t, s, "t1")

	completeResponse(t, s, "t1", "wf-1")
	got, err := s.GetTarget(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", got.WorkflowID)

	require.NoError(t, s.ReleaseRun(ctx, "t1", "wf-other"))
	got, _ = s.GetTarget(ctx, "t1")
	assert.Equal(t, "wf-1", got.WorkflowID, "release by a non-owner is ignored")

	require.NoError(t, s.ReleaseRun(ctx, "t1", "wf-1"))
	got, _ = s.GetTarget(ctx, "t1")
	assert.Empty(t, got.WorkflowID)
}

func TestBeginGenerationRejectsOtherRun(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	seedTarget(t, s, "t1")

	require.NoError(t, s.BeginGeneration(ctx, "t1", "wf-1"))
	require.ErrorIs(t, s.BeginGeneration(ctx, "t1", "wf-2"), domain.ErrTargetBusy)
	require.NoError(t, s.BeginGeneration(ctx, "t1", "wf-1"), "a retried attempt of the same run restarts")
}

func TestFailGeneration(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	seedTarget(t, s, "t1")

	require.NoError(t, s.BeginGeneration(ctx, "t1", "wf-1"))
	require.NoError(t, s.FailGeneration(ctx, "t1", "wf-1", "retries exhausted", fixedNow))

	got, err := s.GetTarget(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.ResponseError, got.ResponseStatus)
	assert.Equal(t, "retries exhausted", got.ResponseError)
	assert.Empty(t, got.WorkflowID)
}

func TestCancellationMarker(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	seedTarget(t, s, "t1")

	written, err := s.RequestCancellation(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, written, "cancel is ignored while idle")

	require.NoError(t, s.BeginGeneration(ctx, "t1", "wf-1"))
	written, err = s.RequestCancellation(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, written)

	requested, err := s.CancellationRequested(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, requested)

	require.NoError(t, s.FinalizeResponse(ctx, "t1", "partial", fixedNow, true))
	require.NoError(t, s.SubmitPrompt(ctx, "t1", "Write a sonnet", ""))

	requested, err = s.CancellationRequested(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, requested, "a new prompt clears the previous marker")

	got, err := s.GetTarget(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Write a sonnet", got.Prompt)
	assert.Equal(t, "gpt-4o-mini", got.Model)
}

func TestSubmitPromptWhileGenerating(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	seedTarget(t, s, "t1")

	require.NoError(t, s.BeginGeneration(ctx, "t1", "wf-1"))
	require.ErrorIs(t, s.SubmitPrompt(ctx, "t1", "other", ""), domain.ErrTargetBusy)
}

// TestEvaluationRoundBlocksNewGeneration verifies that a running evaluation
// round keeps its target: neither a new prompt nor another run's generation
// can start until the round settles, and settling releases the handle.
func TestEvaluationRoundBlocksNewGeneration(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	seedTarget(t, s, "t1", domain.EvalItem{ID: "e1", Criteria: "a"})
	completeResponse(t, s, "t1", "wf-1")
	_, err := s.BeginEvaluation(ctx, "t1", "wf-1")
	require.NoError(t, err)

	require.ErrorIs(t, s.SubmitPrompt(ctx, "t1", "Write a sonnet", ""), domain.ErrTargetBusy)
	require.ErrorIs(t, s.BeginGeneration(ctx, "t1", "wf-2"), domain.ErrTargetBusy)

	_, _, err = s.FailEvalIfRunning(ctx, "e1", "boom", fixedNow)
	require.NoError(t, err)
	_, applied, err := s.AggregateIfSettled(ctx, "t1", "wf-1", meanOfSettled)
	require.NoError(t, err)
	require.True(t, applied)

	got, err := s.GetTarget(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, got.WorkflowID)

	require.NoError(t, s.SubmitPrompt(ctx, "t1", "Write a sonnet", ""))
	require.NoError(t, s.BeginGeneration(ctx, "t1", "wf-2"))
}

// TestAggregateIfSettledKeepsOtherRunHandle verifies that closing a round
// never clears a handle that now belongs to a different run.
func TestAggregateIfSettledKeepsOtherRunHandle(t *testing.T) {
	ctx := context.Background()
	s, db := newTestStore(t)
	seedTarget(t, s, "t1", domain.EvalItem{ID: "e1", Criteria: "a"})
	completeResponse(t, s, "t1", "wf-1")
	_, err := s.BeginEvaluation(ctx, "t1", "wf-1")
	require.NoError(t, err)
	require.NoError(t, db.Model(&targetRecord{}).Where("id = ?", "t1").Update("workflow_id", "wf-2").Error)

	_, _, err = s.CompleteEval(ctx, "e1", domain.EvalResult{Score: 1, CompletedAt: fixedNow})
	require.NoError(t, err)
	_, applied, err := s.AggregateIfSettled(ctx, "t1", "wf-1", meanOfSettled)
	require.NoError(t, err)
	require.True(t, applied)

	got, err := s.GetTarget(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.EvalsComplete, got.EvalsStatus)
	assert.Equal(t, "wf-2", got.WorkflowID)
}

func TestGetTargetNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.GetTarget(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBeginEvaluation(t *testing.T) {
	ctx := context.Background()

	t.Run("response must be complete", func(t *testing.T) {
		s, _ := newTestStore(t)
		seedTarget(t, s, "t1", domain.EvalItem{ID: "e1", Criteria: "mentions a pond"})
		_, err := s.BeginEvaluation(ctx, "t1", "wf-1")
		require.ErrorIs(t, err, domain.ErrResponseNotReady)
	})

	t.Run("criterion items run and keep prior scores", func(t *testing.T) {
		s, _ := newTestStore(t)
		seedTarget(t, s, "t1",
			domain.EvalItem{ID: "e1", Criteria: "mentions a pond", Status: domain.EvalComplete, Score: ptr(1.0), Explanation: "yes"},
			domain.EvalItem{ID: "e2", Criteria: "   "},
			domain.EvalItem{ID: "e3", Criteria: "five syllables", Kind: domain.KindSubjective},
		)
		completeResponse(t, s, "t1", "wf-1")

		ids, err := s.BeginEvaluation(ctx, "t1", "wf-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"e1", "e3"}, ids)

		target, err := s.GetTarget(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, domain.EvalsRunning, target.EvalsStatus)
		assert.Equal(t, "wf-1", target.WorkflowID)

		e1, err := s.GetEval(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, domain.EvalRunning, e1.Status)
		require.NotNil(t, e1.Score)
		assert.InDelta(t, 1.0, *e1.Score, 1e-9)
		assert.Equal(t, "yes", e1.Explanation)

		e2, err := s.GetEval(ctx, "e2")
		require.NoError(t, err)
		assert.Equal(t, domain.EvalComplete, e2.Status, "empty criteria auto-pass")
		require.NotNil(t, e2.Score)
		assert.InDelta(t, 1.0, *e2.Score, 1e-9)
	})

	t.Run("no criteria closes the round", func(t *testing.T) {
		s, _ := newTestStore(t)
		seedTarget(t, s, "t1", domain.EvalItem{ID: "e1"})
		completeResponse(t, s, "t1", "wf-1")

		ids, err := s.BeginEvaluation(ctx, "t1", "wf-1")
		require.NoError(t, err)
		assert.Empty(t, ids)

		target, err := s.GetTarget(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, domain.EvalsComplete, target.EvalsStatus)
		assert.Empty(t, target.WorkflowID)
		assert.Nil(t, target.AggregateScore)
	})

	t.Run("other live run is rejected", func(t *testing.T) {
		s, _ := newTestStore(t)
		seedTarget(t, s, "t1", domain.EvalItem{ID: "e1", Criteria: "c"})
		completeResponse(t, s, "t1", "wf-1")
		_, err := s.BeginEvaluation(ctx, "t1", "wf-1")
		require.NoError(t, err)

		_, err = s.BeginEvaluation(ctx, "t1", "wf-2")
		require.ErrorIs(t, err, domain.ErrTargetBusy)
	})
}

func TestFailEvalIfRunningIsSticky(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	seedTarget(t, s, "t1",
		domain.EvalItem{ID: "prior", Criteria: "c", Status: domain.EvalComplete, Score: ptr(0.8), Explanation: "good"},
		domain.EvalItem{ID: "fresh", Criteria: "c"},
	)
	completeResponse(t, s, "t1", "wf-1")
	_, err := s.BeginEvaluation(ctx, "t1", "wf-1")
	require.NoError(t, err)

	item, settled, err := s.FailEvalIfRunning(ctx, "prior", "judge timeout", fixedNow)
	require.NoError(t, err)
	assert.True(t, settled)
	assert.Equal(t, domain.EvalComplete, item.Status)
	require.NotNil(t, item.Score)
	assert.InDelta(t, 0.8, *item.Score, 1e-9)
	assert.Equal(t, "good", item.Explanation)
	assert.Equal(t, "judge timeout", item.Error)

	item, settled, err = s.FailEvalIfRunning(ctx, "fresh", "judge timeout", fixedNow)
	require.NoError(t, err)
	assert.True(t, settled)
	assert.Equal(t, domain.EvalError, item.Status)
	assert.Nil(t, item.Score)

	_, settled, err = s.FailEvalIfRunning(ctx, "fresh", "late failure", fixedNow)
	require.NoError(t, err)
	assert.False(t, settled, "settled items are not touched again")
}

func TestRecordEvalAttemptErrorKeepsRunning(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	seedTarget(t, s, "t1", domain.EvalItem{ID: "e1", Criteria: "c"})
	completeResponse(t, s, "t1", "wf-1")
	_, err := s.BeginEvaluation(ctx, "t1", "wf-1")
	require.NoError(t, err)

	require.NoError(t, s.RecordEvalAttemptError(ctx, "e1", "rate limited"))
	item, err := s.GetEval(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, domain.EvalRunning, item.Status)
	assert.Equal(t, "rate limited", item.Error)

	item, settled, err := s.CompleteEval(ctx, "e1", domain.EvalResult{Score: 1, Explanation: "ok", CompletedAt: fixedNow})
	require.NoError(t, err)
	require.True(t, settled)
	assert.Equal(t, domain.EvalComplete, item.Status)
	assert.Empty(t, item.Error)

	_, settled, err = s.CompleteEval(ctx, "e1", domain.EvalResult{Score: 0, Explanation: "late", CompletedAt: fixedNow})
	require.NoError(t, err)
	assert.False(t, settled, "late results do not overwrite a settled item")
	item, err = s.GetEval(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "ok", item.Explanation)
}

// meanOfSettled is a minimal aggregate used to exercise the guarded write.
func meanOfSettled(t domain.Target, items []domain.EvalItem) (domain.Aggregate, bool) {
	var sum float64
	var n int
	for _, it := range items {
		if !it.HasCriteria() {
			continue
		}
		if !it.Settled() {
			return domain.Aggregate{}, false
		}
		if it.Usable() {
			sum += *it.Score
			n++
		}
	}
	if n == 0 {
		return domain.Aggregate{}, true
	}
	score := sum / float64(n)
	ok := score >= t.Threshold()
	return domain.Aggregate{Score: &score, Successful: &ok}, true
}

func TestAggregateIfSettledWaitsForAllItems(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	seedTarget(t, s, "t1",
		domain.EvalItem{ID: "e1", Criteria: "a"},
		domain.EvalItem{ID: "e2", Criteria: "b"},
	)
	completeResponse(t, s, "t1", "wf-1")
	_, err := s.BeginEvaluation(ctx, "t1", "wf-1")
	require.NoError(t, err)

	_, _, err = s.CompleteEval(ctx, "e1", domain.EvalResult{Score: 1, CompletedAt: fixedNow})
	require.NoError(t, err)
	_, applied, err := s.AggregateIfSettled(ctx, "t1", "wf-1", meanOfSettled)
	require.NoError(t, err)
	assert.False(t, applied)

	_, _, err = s.CompleteEval(ctx, "e2", domain.EvalResult{Score: 0.6, CompletedAt: fixedNow})
	require.NoError(t, err)
	agg, applied, err := s.AggregateIfSettled(ctx, "t1", "wf-1", meanOfSettled)
	require.NoError(t, err)
	require.True(t, applied)
	require.NotNil(t, agg.Score)
	assert.InDelta(t, 0.8, *agg.Score, 1e-9)

	target, err := s.GetTarget(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.EvalsComplete, target.EvalsStatus)
	require.NotNil(t, target.AggregateScore)
	assert.InDelta(t, 0.8, *target.AggregateScore, 1e-9)
	require.NotNil(t, target.IsSuccessful)
	assert.True(t, *target.IsSuccessful)
	assert.Empty(t, target.WorkflowID)
}

// TestAggregateIfSettledExactlyOnce races many settlement attempts for the same
// round; exactly one may close it.
func TestAggregateIfSettledExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	seedTarget(t, s, "t1",
		domain.EvalItem{ID: "e1", Criteria: "a"},
		domain.EvalItem{ID: "e2", Criteria: "b"},
	)
	completeResponse(t, s, "t1", "wf-1")
	_, err := s.BeginEvaluation(ctx, "t1", "wf-1")
	require.NoError(t, err)
	for _, id := range []string{"e1", "e2"} {
		_, _, err := s.CompleteEval(ctx, id, domain.EvalResult{Score: 1, CompletedAt: fixedNow})
		require.NoError(t, err)
	}

	const callers = 16
	var applied atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.AggregateIfSettled(ctx, "t1", "wf-1", meanOfSettled)
			if err != nil {
				errs <- err
				return
			}
			if ok {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), applied.Load())
}

func TestAggregateIfSettledNoUsableScores(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	seedTarget(t, s, "t1", domain.EvalItem{ID: "e1", Criteria: "a"})
	completeResponse(t, s, "t1", "wf-1")
	_, err := s.BeginEvaluation(ctx, "t1", "wf-1")
	require.NoError(t, err)
	_, _, err = s.FailEvalIfRunning(ctx, "e1", "boom", fixedNow)
	require.NoError(t, err)

	agg, applied, err := s.AggregateIfSettled(ctx, "t1", "wf-1", meanOfSettled)
	require.NoError(t, err)
	require.True(t, applied)
	assert.Nil(t, agg.Score)
	assert.Nil(t, agg.Successful)

	target, err := s.GetTarget(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.EvalsComplete, target.EvalsStatus)
	assert.Nil(t, target.AggregateScore)
	assert.Nil(t, target.IsSuccessful)
}

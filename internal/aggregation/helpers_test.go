package aggregation

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-canvas/internal/domain"
	"github.com/ahrav/go-canvas/internal/store"
)

var testNow = time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

// item builds a criterion-bearing rubric item.
type itemOpt func(*domain.EvalItem)

func item(id string, opts ...itemOpt) domain.EvalItem {
	it := domain.EvalItem{
		ID:       id,
		Criteria: "criterion " + id,
		Kind:     domain.KindSubjective,
		Weight:   1,
		Status:   domain.EvalIdle,
	}
	for _, opt := range opts {
		opt(&it)
	}
	return it
}

func scored(score float64) itemOpt {
	return func(it *domain.EvalItem) {
		it.Status = domain.EvalComplete
		it.Score = ptr(score)
	}
}

func failed(msg string) itemOpt {
	return func(it *domain.EvalItem) {
		it.Status = domain.EvalError
		it.Score = nil
		it.Error = msg
	}
}

func running() itemOpt {
	return func(it *domain.EvalItem) { it.Status = domain.EvalRunning }
}

func required() itemOpt {
	return func(it *domain.EvalItem) { it.Required = true }
}

func passFail() itemOpt {
	return func(it *domain.EvalItem) { it.Kind = domain.KindPassFail }
}

func weight(w float64) itemOpt {
	return func(it *domain.EvalItem) { it.Weight = w }
}

func noCriteria() itemOpt {
	return func(it *domain.EvalItem) { it.Criteria = "" }
}

// openRound creates a target whose evaluation round is running over n
// subjective items and returns the store with the item IDs.
func openRound(t testing.TB, n int) (*store.SQLStore, []string) {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(filepath.Join(t.TempDir(), "agg.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	s := store.New(db, store.WithClock(func() time.Time { return testNow }))

	evals := make([]domain.EvalItem, n)
	for i := range evals {
		evals[i] = item(fmt.Sprintf("e%d", i))
	}
	require.NoError(t, s.CreateTarget(ctx, domain.Target{ID: "t1", Prompt: "p"}, evals))
	require.NoError(t, s.BeginGeneration(ctx, "t1", "wf-1"))
	require.NoError(t, s.FinalizeResponse(ctx, "t1", "response", testNow, false))

	ids, err := s.BeginEvaluation(ctx, "t1", "wf-1")
	require.NoError(t, err)
	require.Len(t, ids, n)
	return s, ids
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ahrav/go-canvas/internal/domain"
)

// fixedNow is the deterministic clock used by store tests.
var fixedNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

// openTestDB opens a migrated sqlite database in a per-test directory.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "canvas.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestStore(t *testing.T) (*SQLStore, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	return New(db, WithClock(func() time.Time { return fixedNow })), db
}

// seedTarget creates target id with a prompt and the given rubric.
func seedTarget(t *testing.T, s *SQLStore, id string, evals ...domain.EvalItem) {
	t.Helper()
	err := s.CreateTarget(context.Background(), domain.Target{ID: id, Prompt: "Write a haiku", Model: "gpt-4o-mini"}, evals)
	require.NoError(t, err)
}

// completeResponse drives a target through generation to a complete response.
func completeResponse(t *testing.T, s *SQLStore, id, wfID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.BeginGeneration(ctx, id, wfID))
	require.NoError(t, s.FinalizeResponse(ctx, id, "an old silent pond", fixedNow, false))
}

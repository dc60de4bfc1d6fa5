package judging

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-canvas/internal/aggregation"
	"github.com/ahrav/go-canvas/internal/domain"
	"github.com/ahrav/go-canvas/internal/llm"
	"github.com/ahrav/go-canvas/internal/store"
	"github.com/ahrav/go-canvas/pkg/activity"
	"github.com/ahrav/go-canvas/pkg/events"
)

var testNow = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

// reply is one scripted Complete outcome.
type reply struct {
	text string
	err  error
}

// judgeClient returns scripted replies in order and records requests.
type judgeClient struct {
	mu       sync.Mutex
	replies  []reply
	requests []llm.CompleteRequest
}

func (c *judgeClient) Stream(context.Context, llm.StreamRequest) (llm.TokenStream, error) {
	panic("judging never streams")
}

func (c *judgeClient) Complete(_ context.Context, req llm.CompleteRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.replies) == 0 {
		return `{"pass": true, "explanation": "default"}`, nil
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return r.text, r.err
}

func (c *judgeClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

type fixture struct {
	store    *store.SQLStore
	client   *judgeClient
	recorder *events.Recorder
	acts     *Activities
}

func newFixture(t *testing.T, replies ...reply) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "judge.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	s := store.New(db, store.WithClock(func() time.Time { return testNow }))
	client := &judgeClient{replies: replies}
	rec := events.NewRecorder()
	base := activity.NewBaseActivities(rec)
	judge := NewJudge(client, DefaultConfig(), WithClock(func() time.Time { return testNow }))
	acts := NewActivities(base, s, judge, aggregation.NewAggregator(s, base, aggregation.DefaultPolicy()))
	acts.now = func() time.Time { return testNow }
	return &fixture{store: s, client: client, recorder: rec, acts: acts}
}

// seedRound creates target t1 with a complete response and the given rubric,
// opens the round under wf-1, and returns the IDs to judge.
func (f *fixture) seedRound(t *testing.T, evals ...domain.EvalItem) []string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.CreateTarget(ctx, domain.Target{ID: "t1", Prompt: "Write a haiku"}, evals))
	require.NoError(t, f.store.BeginGeneration(ctx, "t1", "wf-1"))
	require.NoError(t, f.store.FinalizeResponse(ctx, "t1", "An old silent pond. A frog jumps in.", testNow, false))
	out, err := f.acts.BeginEvaluation(ctx, domain.BeginEvaluationInput{TargetID: "t1", WorkflowID: "wf-1"})
	require.NoError(t, err)
	return out.EvalIDs
}

func (f *fixture) eval(t *testing.T, id string) domain.EvalItem {
	t.Helper()
	item, err := f.store.GetEval(context.Background(), id)
	require.NoError(t, err)
	return item
}

func (f *fixture) target(t *testing.T) domain.Target {
	t.Helper()
	got, err := f.store.GetTarget(context.Background(), "t1")
	require.NoError(t, err)
	return got
}

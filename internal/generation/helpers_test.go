package generation

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-canvas/internal/domain"
	"github.com/ahrav/go-canvas/internal/llm"
	"github.com/ahrav/go-canvas/internal/store"
)

// testConfig polls quickly so cancellation tests finish fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FlushMinChars = 1
	cfg.FlushInterval = 0
	cfg.CancelPollInterval = 10 * time.Millisecond
	cfg.IdleTimeout = 0
	return cfg
}

type fixture struct {
	store  *store.SQLStore
	chunks *store.SQLChunkStore
	client *scriptedClient
	exec   *Executor
}

func newFixture(t *testing.T, cfg Config, streams ...llm.TokenStream) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "gen.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	f := &fixture{
		store:  store.New(db),
		chunks: store.NewChunkStore(db),
		client: &scriptedClient{streams: streams},
	}
	f.exec = NewExecutor(f.store, f.chunks, f.client, cfg)
	return f
}

func (f *fixture) seed(t *testing.T, id, promptText string, evals ...domain.EvalItem) {
	t.Helper()
	require.NoError(t, f.store.CreateTarget(context.Background(), domain.Target{ID: id, Prompt: promptText, Model: "test-model"}, evals))
}

func (f *fixture) target(t *testing.T, id string) domain.Target {
	t.Helper()
	got, err := f.store.GetTarget(context.Background(), id)
	require.NoError(t, err)
	return got
}

// scriptedClient hands out one prepared stream per Stream call.
type scriptedClient struct {
	mu       sync.Mutex
	streams  []llm.TokenStream
	requests []llm.StreamRequest
	openErr  error
}

func (c *scriptedClient) Stream(_ context.Context, req llm.StreamRequest) (llm.TokenStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.openErr != nil {
		return nil, c.openErr
	}
	if len(c.streams) == 0 {
		return &tokenStream{}, nil
	}
	s := c.streams[0]
	c.streams = c.streams[1:]
	return s, nil
}

func (c *scriptedClient) Complete(context.Context, llm.CompleteRequest) (string, error) {
	return "", nil
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// tokenStream yields tokens then err (io.EOF when nil).
type tokenStream struct {
	tokens []string
	err    error
	closed bool
}

func (s *tokenStream) Recv() (string, error) {
	if len(s.tokens) > 0 {
		tok := s.tokens[0]
		s.tokens = s.tokens[1:]
		return tok, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *tokenStream) Close() error {
	s.closed = true
	return nil
}

// liveStream delivers tokens pushed by the test and blocks until the stream's
// context is cancelled. waiting receives a value each time Recv is entered, so
// a test knows the previous token was fully processed.
type liveStream struct {
	ctx     context.Context
	tokens  chan string
	waiting chan struct{}
}

func newLiveStream() *liveStream {
	return &liveStream{tokens: make(chan string), waiting: make(chan struct{}, 16)}
}

func (s *liveStream) Recv() (string, error) {
	s.waiting <- struct{}{}
	select {
	case tok := <-s.tokens:
		return tok, nil
	case <-s.ctx.Done():
		return "", s.ctx.Err()
	}
}

func (s *liveStream) Close() error { return nil }

// liveClient binds liveStream to the stream context it was opened with.
type liveClient struct {
	stream *liveStream
}

func (c *liveClient) Stream(ctx context.Context, _ llm.StreamRequest) (llm.TokenStream, error) {
	c.stream.ctx = ctx
	return c.stream, nil
}

func (c *liveClient) Complete(context.Context, llm.CompleteRequest) (string, error) { return "", nil }

package llm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	llmerrors "github.com/ahrav/go-canvas/internal/llm/errors"
)

// CircuitState is the state of one model's breaker.
type CircuitState int32

const (
	// StateClosed lets requests through.
	StateClosed CircuitState = iota
	// StateOpen rejects requests until the open timeout passes.
	StateOpen
	// StateHalfOpen lets a single probe through.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes CircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold consecutive provider failures open the circuit.
	FailureThreshold int
	// OpenTimeout is how long an open circuit rejects before probing.
	OpenTimeout time.Duration
}

// CircuitBreaker wraps a Client with a breaker per model. Only retryable
// provider failures count: cancellation, auth, and validation errors say
// nothing about provider health. For streams only opening the stream is
// judged; mid-stream errors are left to the executor.
type CircuitBreaker struct {
	next     Client
	provider string
	cfg      BreakerConfig
	now      func() time.Time

	mu       sync.Mutex
	breakers map[string]*breaker
}

// NewCircuitBreaker returns next guarded by per-model breakers.
func NewCircuitBreaker(next Client, provider string, cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	return &CircuitBreaker{
		next:     next,
		provider: provider,
		cfg:      cfg,
		now:      time.Now,
		breakers: make(map[string]*breaker),
	}
}

// State reports the breaker state for model.
func (c *CircuitBreaker) State(model string) CircuitState {
	return CircuitState(c.breaker(model).state.Load())
}

func (c *CircuitBreaker) breaker(model string) *breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[model]
	if !ok {
		b = &breaker{model: model}
		c.breakers[model] = b
	}
	return b
}

func (c *CircuitBreaker) Stream(ctx context.Context, req StreamRequest) (TokenStream, error) {
	b := c.breaker(req.Model)
	if err := c.allow(b); err != nil {
		return nil, err
	}
	ts, err := c.next.Stream(ctx, req)
	c.record(b, err)
	return ts, err
}

func (c *CircuitBreaker) Complete(ctx context.Context, req CompleteRequest) (string, error) {
	b := c.breaker(req.Model)
	if err := c.allow(b); err != nil {
		return "", err
	}
	out, err := c.next.Complete(ctx, req)
	c.record(b, err)
	return out, err
}

// allow admits the request or returns a retryable circuit error.
func (c *CircuitBreaker) allow(b *breaker) error {
	switch CircuitState(b.state.Load()) {
	case StateClosed:
		return nil
	case StateOpen:
		opened := time.Unix(0, b.openedAt.Load())
		if c.now().Sub(opened) < c.cfg.OpenTimeout {
			return c.rejected(b, "circuit breaker is open")
		}
		if b.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
			b.probing.Store(true)
			logTransition(b.model, StateOpen, StateHalfOpen)
			return nil
		}
		return c.rejected(b, "circuit breaker is probing")
	default:
		if b.probing.CompareAndSwap(false, true) {
			return nil
		}
		return c.rejected(b, "circuit breaker is probing")
	}
}

func (c *CircuitBreaker) rejected(b *breaker, msg string) error {
	retryAfter := c.cfg.OpenTimeout - c.now().Sub(time.Unix(0, b.openedAt.Load()))
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return &llmerrors.ProviderError{
		Provider:   c.provider,
		Code:       "CIRCUIT_OPEN",
		Message:    msg + " for " + b.model,
		Type:       llmerrors.ErrorTypeCircuitBreaker,
		RetryAfter: int(retryAfter / time.Second),
	}
}

// record updates the breaker with the outcome of an admitted request.
func (c *CircuitBreaker) record(b *breaker, err error) {
	state := CircuitState(b.state.Load())
	if !countsAsFailure(err) {
		if err == nil {
			b.failures.Store(0)
			if state == StateHalfOpen && b.state.CompareAndSwap(int32(StateHalfOpen), int32(StateClosed)) {
				logTransition(b.model, StateHalfOpen, StateClosed)
			}
		}
		b.probing.Store(false)
		return
	}

	switch state {
	case StateClosed:
		if int(b.failures.Add(1)) >= c.cfg.FailureThreshold {
			c.open(b, StateClosed)
		}
	case StateHalfOpen:
		c.open(b, StateHalfOpen)
	}
	b.probing.Store(false)
}

func (c *CircuitBreaker) open(b *breaker, from CircuitState) {
	b.openedAt.Store(c.now().UnixNano())
	if b.state.CompareAndSwap(int32(from), int32(StateOpen)) {
		b.failures.Store(0)
		logTransition(b.model, from, StateOpen)
	}
}

// countsAsFailure reports whether err reflects provider health.
func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || llmerrors.IsRateLimitError(err) {
		return false
	}
	wf := llmerrors.ClassifyLLMError(err)
	return wf.ShouldRetry() && wf.Type != llmerrors.ErrorTypeValidation
}

func logTransition(model string, from, to CircuitState) {
	slog.Info("circuit breaker state transition", "model", model, "from", from.String(), "to", to.String())
}

type breaker struct {
	model    string
	state    atomic.Int32
	failures atomic.Int32
	openedAt atomic.Int64
	probing  atomic.Bool
}

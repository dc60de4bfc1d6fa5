package llm

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	llmerrors "github.com/ahrav/go-canvas/internal/llm/errors"
)

// minRetryAfter keeps callers from retrying in a tight loop.
const minRetryAfter = time.Second

// RateLimited wraps a Client with a per-model token bucket. A request over the
// limit fails fast with a RateLimitError instead of waiting, so the activity
// retry policy owns the backoff.
type RateLimited struct {
	next     Client
	provider string
	limit    rate.Limit
	burst    int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimited returns next limited to rps requests per second per model.
func NewRateLimited(next Client, provider string, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:     next,
		provider: provider,
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (r *RateLimited) limiter(model string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[model]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[model] = l
	}
	return l
}

// check consumes a token or reports how long until one is available. The
// reservation is cancelled so a rejected request does not consume capacity.
func (r *RateLimited) check(model string) error {
	l := r.limiter(model)
	if l.Allow() {
		return nil
	}
	reservation := l.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()

	if delay < minRetryAfter {
		delay = minRetryAfter
	}
	return &llmerrors.RateLimitError{
		Provider:   r.provider,
		Model:      model,
		RetryAfter: delay,
		LocalLimit: true,
	}
}

func (r *RateLimited) Stream(ctx context.Context, req StreamRequest) (TokenStream, error) {
	if err := r.check(req.Model); err != nil {
		return nil, err
	}
	return r.next.Stream(ctx, req)
}

func (r *RateLimited) Complete(ctx context.Context, req CompleteRequest) (string, error) {
	if err := r.check(req.Model); err != nil {
		return "", err
	}
	return r.next.Complete(ctx, req)
}

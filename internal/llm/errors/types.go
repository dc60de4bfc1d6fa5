// Package errors defines the failure taxonomy of inference calls and classifies
// raw provider errors into retry guidance for activities.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType categorizes inference failures for retry classification.
type ErrorType string

const (
	// ErrorTypeTimeout indicates request timeout or deadline exceeded (retryable).
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeRateLimit indicates rate limit exceeded, retry with backoff (retryable).
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeNetwork indicates network connectivity issues (retryable).
	ErrorTypeNetwork ErrorType = "network"

	// ErrorTypeProvider indicates provider service unavailable (retryable).
	ErrorTypeProvider ErrorType = "provider_unavailable"

	// ErrorTypeStalled indicates a stream that stopped yielding tokens (retryable).
	ErrorTypeStalled ErrorType = "stream_stalled"

	// ErrorTypeCircuitBreaker indicates the breaker in front of a model is
	// open (retryable once it half-opens).
	ErrorTypeCircuitBreaker ErrorType = "circuit_breaker"

	// ErrorTypeValidation indicates a malformed request or response (non-retryable).
	ErrorTypeValidation ErrorType = "validation_failed"

	// ErrorTypeContent indicates content blocked by safety filters (non-retryable).
	ErrorTypeContent ErrorType = "content_filtered"

	// ErrorTypeAuth indicates authentication failed (non-retryable).
	ErrorTypeAuth ErrorType = "authentication"

	// ErrorTypePermission indicates insufficient permissions (non-retryable).
	ErrorTypePermission ErrorType = "permission_denied"

	// ErrorTypeQuota indicates account quota exceeded (non-retryable).
	ErrorTypeQuota ErrorType = "quota_exceeded"

	// ErrorTypeUnknown indicates an unclassified error. Unknown failures are
	// retried; the activity retry policy bounds the attempts.
	ErrorTypeUnknown ErrorType = "unknown"
)

// Common inference errors.
var (
	// ErrProviderUnavailable indicates the provider service is down or unreachable.
	ErrProviderUnavailable = errors.New("provider service unavailable")

	// ErrRateLimitExceeded indicates rate limit has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrStreamStalled indicates no token arrived within the idle timeout.
	ErrStreamStalled = errors.New("stream stalled")

	// ErrInvalidResponse indicates the provider returned an invalid response.
	ErrInvalidResponse = errors.New("invalid provider response")

	// ErrJSONValidation indicates a structured response failed validation.
	ErrJSONValidation = errors.New("JSON validation failed")
)

// ProviderError captures structured error responses from inference providers.
type ProviderError struct {
	Provider   string    `json:"provider"`
	StatusCode int       `json:"status_code"`
	Message    string    `json:"message"`
	Code       string    `json:"code"`
	Type       ErrorType `json:"type"`
	RetryAfter int       `json:"retry_after"` // seconds
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable determines if the provider error warrants a retry attempt.
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeNetwork, ErrorTypeProvider, ErrorTypeStalled, ErrorTypeCircuitBreaker, ErrorTypeUnknown:
		return true
	default:
		return false
	}
}

// GetRetryAfter returns the server-suggested backoff.
func (e *ProviderError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// RateLimitError is returned by the local limiter before a request is sent.
type RateLimitError struct {
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	RetryAfter time.Duration `json:"retry_after"`
	LocalLimit bool          `json:"local_limit"`
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s/%s, retry after %s", e.Provider, e.Model, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded for %s/%s", e.Provider, e.Model)
}

// Is lets errors.Is match ErrRateLimitExceeded.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimitExceeded }

// ValidationError reports a structured response that did not match its schema.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// IsRetryableError reports whether err warrants another attempt.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	return ClassifyLLMError(err).ShouldRetry()
}

// IsRateLimitError identifies rate limiting errors for backoff handling.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimitExceeded) {
		return true
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Type == ErrorTypeRateLimit
	}
	var wfErr *WorkflowError
	if errors.As(err, &wfErr) {
		return wfErr.Type == ErrorTypeRateLimit
	}
	return false
}

package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyLLMError(t *testing.T) {
	t.Run("nil_error", func(t *testing.T) {
		assert.Nil(t, ClassifyLLMError(nil))
	})

	t.Run("provider_error_classification", func(t *testing.T) {
		providerErr := &ProviderError{
			Provider:   "openai",
			StatusCode: http.StatusTooManyRequests,
			Message:    "Rate limit exceeded",
			Code:       "rate_limit_exceeded",
			Type:       ErrorTypeRateLimit,
			RetryAfter: 60,
		}

		result := ClassifyLLMError(providerErr)
		require.NotNil(t, result)
		assert.Equal(t, ErrorTypeRateLimit, result.Type)
		assert.Equal(t, "rate_limit_exceeded", result.Code)
		assert.True(t, result.Retryable)
		assert.Equal(t, "openai", result.Details["provider"])
		assert.Equal(t, providerErr, result.Cause)
		assert.Equal(t, time.Minute, providerErr.GetRetryAfter())
	})

	t.Run("local_rate_limit_error", func(t *testing.T) {
		rlErr := &RateLimitError{Provider: "openai", Model: "gpt-4o-mini", RetryAfter: 2 * time.Second, LocalLimit: true}

		result := ClassifyLLMError(fmt.Errorf("stream: %w", rlErr))
		require.NotNil(t, result)
		assert.Equal(t, ErrorTypeRateLimit, result.Type)
		assert.True(t, result.Retryable)
		assert.Equal(t, true, result.Details["local_limit"])
		assert.True(t, IsRateLimitError(rlErr))
		assert.ErrorIs(t, rlErr, ErrRateLimitExceeded)
	})

	t.Run("validation_error_not_retryable", func(t *testing.T) {
		result := ClassifyLLMError(&ValidationError{Field: "score", Message: "out of range"})
		require.NotNil(t, result)
		assert.Equal(t, ErrorTypeValidation, result.Type)
		assert.False(t, result.Retryable)
	})

	t.Run("workflow_error_passthrough", func(t *testing.T) {
		wf := &WorkflowError{Type: ErrorTypeAuth, Message: "nope"}
		assert.Same(t, wf, ClassifyLLMError(fmt.Errorf("wrapped: %w", wf)))
	})
}

func TestClassifyOpenAIErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		wantRetry bool
	}{
		{
			name:      "429 rate limit",
			err:       &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Code: "rate_limit_exceeded", Message: "slow down"},
			wantType:  ErrorTypeRateLimit,
			wantRetry: true,
		},
		{
			name:      "429 insufficient quota",
			err:       &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Code: "insufficient_quota", Message: "pay up"},
			wantType:  ErrorTypeQuota,
			wantRetry: false,
		},
		{
			name:      "401 auth",
			err:       &openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "bad key"},
			wantType:  ErrorTypeAuth,
			wantRetry: false,
		},
		{
			name:      "503 provider",
			err:       &openai.APIError{HTTPStatusCode: http.StatusServiceUnavailable, Message: "overloaded"},
			wantType:  ErrorTypeProvider,
			wantRetry: true,
		},
		{
			name:      "400 validation",
			err:       &openai.APIError{HTTPStatusCode: http.StatusBadRequest, Message: "bad model"},
			wantType:  ErrorTypeValidation,
			wantRetry: false,
		},
		{
			name:      "request error 502",
			err:       &openai.RequestError{HTTPStatus: "502 Bad Gateway", HTTPStatusCode: http.StatusBadGateway, Err: errors.New("upstream")},
			wantType:  ErrorTypeProvider,
			wantRetry: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ClassifyLLMError(fmt.Errorf("create stream: %w", tt.err))
			require.NotNil(t, result)
			assert.Equal(t, tt.wantType, result.Type)
			assert.Equal(t, tt.wantRetry, result.ShouldRetry())
			assert.Equal(t, tt.wantRetry, IsRetryableError(tt.err))
		})
	}
}

func TestClassifySentinelAndPatterns(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		wantRetry bool
	}{
		{"stalled stream", fmt.Errorf("recv: %w", ErrStreamStalled), ErrorTypeStalled, true},
		{"deadline", context.DeadlineExceeded, ErrorTypeTimeout, true},
		{"provider unavailable", ErrProviderUnavailable, ErrorTypeProvider, true},
		{"bad json", fmt.Errorf("verdict: %w", ErrJSONValidation), ErrorTypeValidation, true},
		{"connection reset text", errors.New("read: connection reset by peer"), ErrorTypeNetwork, true},
		{"forbidden text", errors.New("403 Forbidden"), ErrorTypePermission, false},
		{"unknown is retried", errors.New("something odd"), ErrorTypeUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ClassifyLLMError(tt.err)
			require.NotNil(t, result)
			assert.Equal(t, tt.wantType, result.Type)
			assert.Equal(t, tt.wantRetry, result.Retryable)
			assert.ErrorIs(t, result, tt.err)
		})
	}
}

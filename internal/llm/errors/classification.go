package errors

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ClassifyLLMError transforms inference errors into a WorkflowError with retry
// guidance. Typed errors are examined first, then sentinels, then message
// patterns for untyped errors.
func ClassifyLLMError(err error) *WorkflowError {
	if err == nil {
		return nil
	}

	var wfErr *WorkflowError
	if errors.As(err, &wfErr) {
		return wfErr
	}

	if workflowErr := classifyTypedErrors(err); workflowErr != nil {
		return workflowErr
	}

	if workflowErr := classifySentinelErrors(err); workflowErr != nil {
		return workflowErr
	}

	return classifyStringPatternErrors(err)
}

// classifyTypedErrors handles our own typed errors and the go-openai error types.
func classifyTypedErrors(err error) *WorkflowError {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return &WorkflowError{
			Type:      providerErr.Type,
			Message:   providerErr.Message,
			Code:      providerErr.Code,
			Retryable: providerErr.IsRetryable(),
			Details: map[string]any{
				"provider":    providerErr.Provider,
				"status_code": providerErr.StatusCode,
			},
			Cause: err,
		}
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return &WorkflowError{
			Type:      ErrorTypeRateLimit,
			Message:   rateLimitErr.Error(),
			Code:      "RATE_LIMIT",
			Retryable: true,
			Details: map[string]any{
				"provider":    rateLimitErr.Provider,
				"model":       rateLimitErr.Model,
				"retry_after": rateLimitErr.RetryAfter.String(),
				"local_limit": rateLimitErr.LocalLimit,
			},
			Cause: err,
		}
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return &WorkflowError{
			Type:      ErrorTypeValidation,
			Message:   valErr.Error(),
			Code:      "VALIDATION",
			Retryable: false,
			Details:   map[string]any{"field": valErr.Field},
			Cause:     err,
		}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code, _ := apiErr.Code.(string)
		typ := typeForStatus(apiErr.HTTPStatusCode)
		if code == "insufficient_quota" {
			typ = ErrorTypeQuota
		}
		if code == "content_filter" {
			typ = ErrorTypeContent
		}
		pe := &ProviderError{Provider: "openai", StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Code: code, Type: typ}
		return &WorkflowError{
			Type:      typ,
			Message:   apiErr.Message,
			Code:      code,
			Retryable: pe.IsRetryable(),
			Details: map[string]any{
				"provider":    "openai",
				"status_code": apiErr.HTTPStatusCode,
				"error_type":  apiErr.Type,
			},
			Cause: err,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		typ := typeForStatus(reqErr.HTTPStatusCode)
		pe := &ProviderError{Provider: "openai", StatusCode: reqErr.HTTPStatusCode, Type: typ}
		return &WorkflowError{
			Type:      typ,
			Message:   reqErr.Error(),
			Code:      reqErr.HTTPStatus,
			Retryable: pe.IsRetryable(),
			Details: map[string]any{
				"provider":    "openai",
				"status_code": reqErr.HTTPStatusCode,
			},
			Cause: err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		typ := ErrorTypeNetwork
		if netErr.Timeout() {
			typ = ErrorTypeTimeout
		}
		return &WorkflowError{
			Type:      typ,
			Message:   err.Error(),
			Code:      "NETWORK_ERROR",
			Retryable: true,
			Cause:     err,
		}
	}

	return nil
}

func typeForStatus(code int) ErrorType {
	switch {
	case code == http.StatusUnauthorized:
		return ErrorTypeAuth
	case code == http.StatusForbidden:
		return ErrorTypePermission
	case code == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	case code >= http.StatusInternalServerError:
		return ErrorTypeProvider
	case code >= http.StatusBadRequest:
		return ErrorTypeValidation
	default:
		return ErrorTypeUnknown
	}
}

// classifySentinelErrors handles sentinel errors from this package and the
// standard library.
func classifySentinelErrors(err error) *WorkflowError {
	switch {
	case errors.Is(err, ErrRateLimitExceeded):
		return &WorkflowError{Type: ErrorTypeRateLimit, Message: err.Error(), Code: "RATE_LIMIT", Retryable: true, Cause: err}
	case errors.Is(err, ErrStreamStalled):
		return &WorkflowError{Type: ErrorTypeStalled, Message: err.Error(), Code: "STREAM_STALLED", Retryable: true, Cause: err}
	case errors.Is(err, ErrProviderUnavailable):
		return &WorkflowError{Type: ErrorTypeProvider, Message: err.Error(), Code: "PROVIDER_UNAVAILABLE", Retryable: true, Cause: err}
	case errors.Is(err, ErrJSONValidation), errors.Is(err, ErrInvalidResponse):
		return &WorkflowError{Type: ErrorTypeValidation, Message: err.Error(), Code: "INVALID_RESPONSE", Retryable: true, Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &WorkflowError{Type: ErrorTypeTimeout, Message: err.Error(), Code: "TIMEOUT", Retryable: true, Cause: err}
	case errors.Is(err, io.ErrUnexpectedEOF):
		return &WorkflowError{Type: ErrorTypeNetwork, Message: err.Error(), Code: "NETWORK_ERROR", Retryable: true, Cause: err}
	}
	return nil
}

// classifyStringPatternErrors handles untyped errors by message. Anything not
// recognised as permanent is retried.
func classifyStringPatternErrors(err error) *WorkflowError {
	errMsg := strings.ToLower(err.Error())

	wf := func(t ErrorType, msg, code string, retry bool) *WorkflowError {
		return &WorkflowError{
			Type:      t,
			Message:   msg,
			Code:      code,
			Retryable: retry,
			Details:   map[string]any{"original_error": err.Error()},
			Cause:     err,
		}
	}

	switch {
	case strings.Contains(errMsg, "rate limit"):
		return wf(ErrorTypeRateLimit, "Rate limit exceeded", "RATE_LIMIT", true)
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline"):
		return wf(ErrorTypeTimeout, "Request timeout", "TIMEOUT", true)
	case strings.Contains(errMsg, "unauthorized") || strings.Contains(errMsg, "authentication"):
		return wf(ErrorTypeAuth, "Authentication failed", "AUTH_FAILED", false)
	case strings.Contains(errMsg, "forbidden") || strings.Contains(errMsg, "permission"):
		return wf(ErrorTypePermission, "Permission denied", "PERMISSION_DENIED", false)
	case strings.Contains(errMsg, "quota"):
		return wf(ErrorTypeQuota, "Quota exceeded", "QUOTA_EXCEEDED", false)
	case strings.Contains(errMsg, "network") || strings.Contains(errMsg, "connection"):
		return wf(ErrorTypeNetwork, "Network error", "NETWORK_ERROR", true)
	default:
		return wf(ErrorTypeUnknown, err.Error(), "UNKNOWN", true)
	}
}

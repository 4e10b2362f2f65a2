package modelrelay

import (
	"fmt"
	"time"
)

// RelayError is the base error type for all modelrelay errors.
type RelayError struct {
	Message string
	Cause   error
}

func (e *RelayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *RelayError) Unwrap() error {
	return e.Cause
}

// ProviderError represents an error returned by a model provider.
type ProviderError struct {
	RelayError
	Provider   string
	StatusCode int
	Code       string
	Retryable  bool
	RetryAfter *time.Duration
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// Concrete provider error types.

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type NotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContentFilterError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }

// Non-provider errors.

type TimeoutError struct{ RelayError }
type AbortError struct{ RelayError }
type NetworkError struct{ RelayError }
type ConfigError struct{ RelayError }

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
func ErrorFromStatusCode(statusCode int, message, provider, code string, retryAfter *time.Duration) error {
	pe := ProviderError{
		RelayError: RelayError{Message: message},
		Provider:   provider,
		StatusCode: statusCode,
		Code:       code,
		RetryAfter: retryAfter,
	}

	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{ProviderError: pe}
	case 401:
		return &AuthenticationError{ProviderError: pe}
	case 403:
		return &AccessDeniedError{ProviderError: pe}
	case 404:
		return &NotFoundError{ProviderError: pe}
	case 408:
		return &TimeoutError{RelayError: RelayError{Message: message}}
	case 413:
		return &ContextLengthError{ProviderError: pe}
	case 429:
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case 500, 502, 503, 504:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		// Unknown statuses default to retryable.
		pe.Retryable = true
		return &pe
	}
}

// IsRetryable reports whether the error is safe to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *ProviderError:
		return e.Retryable
	case *AuthenticationError, *AccessDeniedError, *NotFoundError,
		*InvalidRequestError, *ContextLengthError, *ContentFilterError,
		*ConfigError, *AbortError:
		return false
	case *RateLimitError, *ServerError, *NetworkError, *TimeoutError:
		return true
	default:
		// Unknown errors default to retryable.
		return true
	}
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Category groups provider failures by what the caller can do about them.
type Category string

const (
	CategoryAuth           Category = "auth"
	CategoryRateLimit      Category = "rate_limit"
	CategoryTimeout        Category = "timeout"
	CategoryServer         Category = "server"
	CategoryConnection     Category = "connection"
	CategoryInvalidRequest Category = "invalid_request"
)

// CompletionError is returned when an external model provider call fails.
type CompletionError struct {
	Category   Category
	StatusCode int
	Err        error
}

func (e *CompletionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("completion failed (%s, status %d): %v", e.Category, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("completion failed (%s): %v", e.Category, e.Err)
}

func (e *CompletionError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the same request later may succeed.
func (e *CompletionError) Retryable() bool {
	switch e.Category {
	case CategoryRateLimit, CategoryTimeout, CategoryServer, CategoryConnection:
		return true
	default:
		return false
	}
}

// UserMessage returns a message suitable for showing to an end user.
func (e *CompletionError) UserMessage() string {
	switch e.Category {
	case CategoryAuth:
		return "Invalid OpenAI API key. Please check your configuration."
	case CategoryRateLimit:
		return "Rate limit exceeded. Please try again in a moment."
	case CategoryTimeout:
		return "The model took too long to respond. Please try again."
	case CategoryConnection:
		return "Unable to connect to OpenAI API. Please check your internet connection."
	case CategoryInvalidRequest:
		return "The request was rejected by the model provider."
	default:
		return "The model provider returned an error. Please try again."
	}
}

// CategoryForStatus maps an HTTP status code returned by a provider to a Category.
func CategoryForStatus(code int) Category {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return CategoryAuth
	case code == http.StatusTooManyRequests:
		return CategoryRateLimit
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return CategoryTimeout
	case code >= 500:
		return CategoryServer
	case code >= 400:
		return CategoryInvalidRequest
	default:
		return CategoryServer
	}
}

// Classify wraps err into a *CompletionError. statusCode is the HTTP status
// reported by the provider, or 0 when the request never got a response.
func Classify(err error, statusCode int) *CompletionError {
	var ce *CompletionError
	if errors.As(err, &ce) {
		return ce
	}
	if statusCode != 0 {
		return &CompletionError{Category: CategoryForStatus(statusCode), StatusCode: statusCode, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &CompletionError{Category: CategoryTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &CompletionError{Category: CategoryTimeout, Err: err}
		}
		return &CompletionError{Category: CategoryConnection, Err: err}
	}
	return &CompletionError{Category: CategoryConnection, Err: err}
}

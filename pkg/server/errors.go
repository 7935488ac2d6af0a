package server

import (
	"errors"
	"net/http"

	"github.com/barekit/ragchat/pkg/chat"
	"github.com/barekit/ragchat/pkg/llm"
	"github.com/barekit/ragchat/pkg/store"
	"github.com/labstack/echo/v4"
)

type errorResponse struct {
	Error     string `json:"error"`
	Category  string `json:"category,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// statusFor maps a service error to an HTTP status and a client-facing body.
func statusFor(err error) (int, errorResponse) {
	var (
		ve *chat.ValidationError
		ce *llm.CompletionError
		te *chat.TimeoutError
		pe *chat.PersistenceError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, errorResponse{Error: ve.Reason, Category: "validation"}
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: "session not found", Category: "not_found"}
	case errors.As(err, &te):
		return http.StatusGatewayTimeout, errorResponse{Error: "The request took too long. Please try again.", Category: "timeout", Retryable: true}
	case errors.As(err, &ce):
		return completionStatus(ce.Category), errorResponse{Error: ce.UserMessage(), Category: string(ce.Category), Retryable: ce.Retryable()}
	case errors.As(err, &pe):
		return http.StatusInternalServerError, errorResponse{Error: "Failed to save data. Please try again.", Category: "persistence"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal error"}
	}
}

func completionStatus(c llm.Category) int {
	switch c {
	case llm.CategoryAuth, llm.CategoryConnection:
		return http.StatusServiceUnavailable
	case llm.CategoryRateLimit:
		return http.StatusTooManyRequests
	case llm.CategoryTimeout:
		return http.StatusGatewayTimeout
	case llm.CategoryInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func (h *Handler) fail(c echo.Context, err error) error {
	status, body := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.Path(), "status", status, "error", err)
	}
	return c.JSON(status, body)
}

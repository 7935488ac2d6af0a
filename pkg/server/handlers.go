package server

import (
	"net/http"
	"time"

	"github.com/barekit/ragchat/pkg/chat"
	"github.com/barekit/ragchat/pkg/retrieval"
	"github.com/barekit/ragchat/pkg/store"
	"github.com/labstack/echo/v4"
)

type sessionRequest struct {
	Name string `json:"name"`
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type messageResponse struct {
	ID               int64      `json:"id"`
	SessionID        string     `json:"session_id"`
	Role             store.Role `json:"role"`
	Content          string     `json:"content"`
	Timestamp        time.Time  `json:"timestamp"`
	TokenCount       *int       `json:"token_count,omitempty"`
	ProcessingTimeMS *int64     `json:"processing_time_ms,omitempty"`
}

type chatResponse struct {
	Session          *store.Session  `json:"session"`
	UserMessage      messageResponse `json:"user_message"`
	AssistantMessage messageResponse `json:"assistant_message"`
	Context          []retrieval.Hit `json:"context"`
	Warnings         []string        `json:"warnings"`
}

func toMessage(m *store.Message) messageResponse {
	out := messageResponse{
		ID:         m.ID,
		SessionID:  m.SessionID,
		Role:       m.Role,
		Content:    m.Content,
		Timestamp:  m.Timestamp,
		TokenCount: m.TokenCount,
	}
	if m.ProcessingTime != nil {
		ms := m.ProcessingTime.Milliseconds()
		out.ProcessingTimeMS = &ms
	}
	return out
}

// ListSessions returns all sessions, newest first.
func (h *Handler) ListSessions(c echo.Context) error {
	sessions, err := h.sessions.List(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handler) CreateSession(c echo.Context) error {
	var req sessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body", Category: "validation"})
	}
	sess, err := h.sessions.Create(c.Request().Context(), req.Name)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, sess)
}

func (h *Handler) GetSession(c echo.Context) error {
	sess, err := h.sessions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) RenameSession(c echo.Context) error {
	var req sessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body", Category: "validation"})
	}
	sess, err := h.sessions.Rename(c.Request().Context(), c.Param("id"), req.Name)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) DeleteSession(c echo.Context) error {
	if err := h.sessions.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListMessages returns the messages of a session in chronological order.
func (h *Handler) ListMessages(c echo.Context) error {
	msgs, err := h.sessions.Messages(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessage(m))
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": out})
}

// SessionChat runs a turn in the session named by the path.
func (h *Handler) SessionChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body", Category: "validation"})
	}
	return h.turn(c, c.Param("id"), req.Message)
}

// Chat runs a turn in session_id, or in the most recent session when it is
// omitted.
func (h *Handler) Chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body", Category: "validation"})
	}
	return h.turn(c, req.SessionID, req.Message)
}

func (h *Handler) turn(c echo.Context, sessionID, message string) error {
	res, err := h.chat.Turn(c.Request().Context(), sessionID, message)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, newChatResponse(res))
}

func newChatResponse(res *chat.TurnResult) chatResponse {
	hits := res.Context()
	if hits == nil {
		hits = []retrieval.Hit{}
	}
	warnings := res.Warnings()
	if warnings == nil {
		warnings = []string{}
	}
	return chatResponse{
		Session:          res.Session,
		UserMessage:      toMessage(res.UserMessage),
		AssistantMessage: toMessage(res.AssistantMessage),
		Context:          hits,
		Warnings:         warnings,
	}
}

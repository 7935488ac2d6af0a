// Package server exposes chat turns and session management over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/barekit/ragchat/pkg/chat"
	"github.com/barekit/ragchat/pkg/store"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Chatter runs chat turns. *chat.Orchestrator implements it.
type Chatter interface {
	Turn(ctx context.Context, sessionID, content string) (*chat.TurnResult, error)
}

// SessionService manages sessions. *chat.Sessions implements it.
type SessionService interface {
	Create(ctx context.Context, name string) (*store.Session, error)
	Get(ctx context.Context, id string) (*store.Session, error)
	List(ctx context.Context) ([]*store.Session, error)
	Rename(ctx context.Context, id, name string) (*store.Session, error)
	Delete(ctx context.Context, id string) error
	Messages(ctx context.Context, id string) ([]*store.Message, error)
}

// Handler handles HTTP requests.
type Handler struct {
	chat     Chatter
	sessions SessionService
	logger   *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(c Chatter, sessions SessionService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{chat: c, sessions: sessions, logger: logger}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api")

	api.GET("/health", h.Health)

	api.GET("/sessions", h.ListSessions)
	api.POST("/sessions", h.CreateSession)
	api.GET("/sessions/:id", h.GetSession)
	api.PUT("/sessions/:id", h.RenameSession)
	api.DELETE("/sessions/:id", h.DeleteSession)
	api.GET("/sessions/:id/messages", h.ListMessages)
	api.POST("/sessions/:id/chat", h.SessionChat)

	api.POST("/chat", h.Chat)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// New builds an echo server with the API routes and, when staticDir is set,
// the browser client.
func New(h *Handler, staticDir string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				h.logger.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			h.logger.Info("request", attrs...)
			return nil
		},
	}))

	h.RegisterRoutes(e)

	if staticDir != "" {
		e.Static("/", staticDir)
	}
	return e
}

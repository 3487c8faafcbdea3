// Package server exposes the chat engine over HTTP.
package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/comigor/chatd/internal/agent"
	"github.com/comigor/chatd/internal/history"
	"github.com/comigor/chatd/internal/logger"
)

// Handler handles HTTP requests.
type Handler struct {
	agent *agent.Agent
}

// NewHandler creates a new handler.
func NewHandler(a *agent.Agent) *Handler {
	return &Handler{agent: a}
}

// New builds the echo server with middleware and routes installed.
func New(a *agent.Agent) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Pre(middleware.AddTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.L.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			)
			return nil
		},
	}))

	NewHandler(a).RegisterRoutes(e)
	return e
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/prompt_gpt/", h.PromptGPT)
	e.GET("/get_chat_messages/:id/", h.GetChatMessages)
	e.GET("/recent_chat/", h.RecentChat)
	e.POST("/end_chat/", h.EndChat)
	e.POST("/search_chats/", h.SearchChats)

	e.GET("/health/", h.Health)
}

type promptRequest struct {
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

// PromptGPT submits one user turn.
// POST /prompt_gpt/
func (h *Handler) PromptGPT(c echo.Context) error {
	var req promptRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	out, err := h.agent.Prompt(c.Request().Context(), req.ChatID, req.Content)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, out)
}

// GetChatMessages returns a chat's transcript.
// GET /get_chat_messages/:id/
func (h *Handler) GetChatMessages(c echo.Context) error {
	out, err := h.agent.Messages(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// RecentChat lists chats started today.
// GET /recent_chat/
func (h *Handler) RecentChat(c echo.Context) error {
	chats, err := h.agent.RecentChats(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	if chats == nil {
		chats = []history.Session{}
	}
	return c.JSON(http.StatusOK, chats)
}

type endRequest struct {
	ChatID string `json:"chat_id"`
}

// EndChat summarizes and closes a chat.
// POST /end_chat/
func (h *Handler) EndChat(c echo.Context) error {
	var req endRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	out, err := h.agent.EndChat(c.Request().Context(), req.ChatID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// SearchChats ranks chats against a free-text query.
// POST /search_chats/
func (h *Handler) SearchChats(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	results, err := h.agent.Search(c.Request().Context(), req.Query, req.Limit)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// fail maps engine errors to HTTP responses.
func (h *Handler) fail(c echo.Context, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.L.Error("request failed", "path", c.Path(), "status", status, "error", err)
	}
	return c.JSON(status, errorBody(err.Error()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, agent.ErrSummarizationFailed):
		return http.StatusBadGateway
	case errors.Is(err, agent.ErrInference):
		return http.StatusInternalServerError
	case errors.Is(err, agent.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrValidation),
		errors.Is(err, agent.ErrInvalidContent),
		errors.Is(err, agent.ErrSessionClosed),
		errors.Is(err, agent.ErrEmptyQuery):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/chatrelay/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "online",
		"message": "Chat server is running",
	})
}

// handleListMessages returns recent chat messages in chronological order.
func (s *Server) handleListMessages(c echo.Context) error {
	limit := parseLimit(c.QueryParam("limit"))

	messages, err := s.messages.ListRecent(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load messages")
	}
	if messages == nil {
		messages = []domain.ChatMessage{}
	}
	return c.JSON(http.StatusOK, messages)
}

// handleListConnectionEvents returns recent lifecycle events, newest first.
func (s *Server) handleListConnectionEvents(c echo.Context) error {
	limit := parseLimit(c.QueryParam("limit"))

	events, err := s.events.ListRecent(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load connection events")
	}
	if events == nil {
		events = []domain.LifecycleEvent{}
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) handleConnectionStats(c echo.Context) error {
	stats, err := s.events.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to aggregate connection events")
	}
	return c.JSON(http.StatusOK, stats)
}

func parseLimit(raw string) int {
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/version", s.handleVersion)

	// Chat API
	s.echo.GET("/api/status", s.handleStatus)
	s.echo.GET("/api/messages", s.handleListMessages)
	s.echo.GET("/api/diagnostics/connections", s.handleListConnectionEvents)
	s.echo.GET("/api/diagnostics/stats", s.handleConnectionStats)

	// WebSocket endpoint
	s.echo.GET("/ws/chat", s.handleChatWebSocket)
}

// Package server implements the HTTP server using Echo framework.
//
// Routes: WebSocket chat endpoint, message/diagnostics API, health and
// metrics. Handlers split by concern: handlers_ws.go, handlers_api.go,
// handlers_health.go. Connection admission runs through a three-stage
// limiter chain (rate, global, per-IP) before the WebSocket upgrade.
package server

package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/pscheid92/chatrelay/internal/metrics"
	"github.com/pscheid92/chatrelay/internal/platform/correlation"
	"github.com/pscheid92/chatrelay/internal/relay"
)

func (s *Server) handleChatWebSocket(c echo.Context) error {
	ip := clientIP(c.Request())

	ok, reason := s.limits.Acquire(ip)
	if !ok {
		metrics.ConnectionLimitRejections.WithLabelValues(string(reason)).Inc()
		if reason == LimitReasonRate {
			return c.String(http.StatusTooManyRequests, "Connection rate limit exceeded")
		}
		return c.String(http.StatusServiceUnavailable, "Connection limit reached")
	}
	defer s.limits.Release(ip)

	ctx := correlation.WithID(c.Request().Context(), correlation.NewID())
	scope := relay.ConnectionScope{
		ClientIP:  ip,
		UserAgent: c.Request().UserAgent(),
		Path:      c.Request().URL.Path,
		Headers:   headerSnapshot(c.Request().Header),
	}

	connectionID := s.coordinator.BeginAttempt(ctx, scope)

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the error response.
		s.coordinator.HandshakeFailed(ctx, connectionID, scope, err)
		return nil
	}

	if err := s.coordinator.Accept(ctx, connectionID, scope, conn); err != nil {
		// Already recorded as a handshake failure; close with an error
		// indication rather than silently.
		closeMsg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "unable to join room")
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		_ = conn.Close()
		return nil
	}

	closeCode := s.readPump(ctx, connectionID, scope, conn)
	s.coordinator.Disconnected(ctx, connectionID, scope, closeCode)
	return nil
}

// readPump blocks reading inbound messages until the connection closes.
// Returns the peer's close code, or 1006 when the connection died without a
// close frame.
func (s *Server) readPump(ctx context.Context, connectionID uuid.UUID, scope relay.ConnectionScope, conn *websocket.Conn) int {
	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return closeErr.Code
			}
			return websocket.CloseAbnormalClosure
		}

		if messageType != websocket.TextMessage {
			continue
		}
		s.coordinator.HandleInbound(ctx, connectionID, scope, raw)
	}
}

// clientIP prefers the first X-Forwarded-For entry, falling back to the
// socket's remote address.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// headerSnapshot flattens the request headers for the diagnostic record.
func headerSnapshot(header http.Header) map[string]string {
	snapshot := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) > 0 {
			snapshot[strings.ToLower(key)] = values[0]
		}
	}
	return snapshot
}

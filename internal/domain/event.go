package domain

import (
	"context"
	"time"
)

// Stage identifies where in its lifecycle a connection was when an event
// was recorded.
type Stage string

const (
	StagePreHandshake    Stage = "pre_handshake"
	StageHandshake       Stage = "handshake"
	StageConnected       Stage = "connected"
	StageMessageReceived Stage = "message_received"
	StageMessageSent     Stage = "message_sent"
	StageDisconnected    Stage = "disconnected"
)

// LifecycleEvent is an append-only diagnostic record of a connection
// transitioning through a lifecycle stage. Nullable columns map to pointer
// fields; Timestamp defaults to creation time when left zero.
type LifecycleEvent struct {
	ID           int64             `json:"id"`
	ClientIP     *string           `json:"client_ip"`
	UserAgent    *string           `json:"user_agent"`
	Successful   bool              `json:"successful"`
	ErrorMessage *string           `json:"error_message"`
	Timestamp    time.Time         `json:"timestamp"`
	Path         *string           `json:"connection_path"`
	Headers      map[string]string `json:"headers"`
	CloseCode    *int              `json:"close_code"`
	DurationMS   *int64            `json:"connection_duration_ms"`
	Stage        Stage             `json:"connection_stage"`
}

// ErrorCount pairs an error message with how often it was recorded.
type ErrorCount struct {
	ErrorMessage string `json:"error_message"`
	Count        int64  `json:"count"`
}

// ConnectionStats aggregates lifecycle events for the diagnostics API.
type ConnectionStats struct {
	TotalAttempts      int64        `json:"total_attempts"`
	SuccessfulAttempts int64        `json:"successful_attempts"`
	FailedAttempts     int64        `json:"failed_attempts"`
	SuccessRate        float64      `json:"success_rate"`
	CommonErrors       []ErrorCount `json:"common_errors"`
	AvgDurationMS      float64      `json:"avg_duration_ms"`
}

// EventRepository persists lifecycle events. Inserts are issued concurrently
// and are independently durable; no cross-write transaction is required.
type EventRepository interface {
	Insert(ctx context.Context, event LifecycleEvent) error
	ListRecent(ctx context.Context, limit int) ([]LifecycleEvent, error)
	Stats(ctx context.Context) (ConnectionStats, error)
}

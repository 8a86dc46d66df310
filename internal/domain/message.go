package domain

import (
	"context"
	"time"
)

// AnonymousUsername is used when a client omits the username field.
const AnonymousUsername = "Anonymous"

// ChatMessage is a persisted chat message. Username is client-supplied free
// text, not an authenticated identity.
type ChatMessage struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageRepository persists chat messages. ListRecent returns the newest
// messages in chronological order for replay.
type MessageRepository interface {
	Insert(ctx context.Context, username, message string) (ChatMessage, error)
	ListRecent(ctx context.Context, limit int) ([]ChatMessage, error)
}

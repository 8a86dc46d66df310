package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pscheid92/chatrelay/internal/domain"
)

// MessageRepo implements domain.MessageRepository backed by PostgreSQL.
type MessageRepo struct {
	pool *pgxpool.Pool
}

// NewMessageRepo creates a MessageRepo from the shared connection pool.
func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) Insert(ctx context.Context, username, message string) (domain.ChatMessage, error) {
	query := `
		INSERT INTO chat_messages (username, message)
		VALUES ($1, $2)
		RETURNING id, username, message, created_at`

	var msg domain.ChatMessage
	err := r.pool.QueryRow(ctx, query, username, message).
		Scan(&msg.ID, &msg.Username, &msg.Message, &msg.Timestamp)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("failed to insert chat message: %w", err)
	}
	return msg, nil
}

// ListRecent returns the newest messages in chronological order for replay.
func (r *MessageRepo) ListRecent(ctx context.Context, limit int) ([]domain.ChatMessage, error) {
	query := `
		SELECT id, username, message, created_at FROM (
			SELECT id, username, message, created_at
			FROM chat_messages
			ORDER BY created_at DESC, id DESC
			LIMIT $1
		) newest
		ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.Username, &msg.Message, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chat messages: %w", err)
	}
	return messages, nil
}

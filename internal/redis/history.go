package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// HistoryCache keeps the most recent broadcast envelopes per room in a capped
// Redis list, replayed to clients on connect. Best effort: the relay works
// without it.
type HistoryCache struct {
	rdb   *goredis.Client
	room  string
	limit int
}

// NewHistoryCache creates a history cache for a room, keeping up to limit
// envelopes.
func NewHistoryCache(rdb *goredis.Client, room string, limit int) *HistoryCache {
	return &HistoryCache{rdb: rdb, room: room, limit: limit}
}

func (h *HistoryCache) key() string {
	return "chatrelay:history:" + h.room
}

// Append pushes an envelope and trims the list to the configured limit.
func (h *HistoryCache) Append(ctx context.Context, data []byte) error {
	pipe := h.rdb.TxPipeline()
	pipe.LPush(ctx, h.key(), data)
	pipe.LTrim(ctx, h.key(), 0, int64(h.limit-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// Recent returns up to limit envelopes in chronological order.
func (h *HistoryCache) Recent(ctx context.Context) ([][]byte, error) {
	values, err := h.rdb.LRange(ctx, h.key(), 0, int64(h.limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	// LPUSH stores newest first; reverse for chronological replay.
	envelopes := make([][]byte, len(values))
	for i, v := range values {
		envelopes[len(values)-1-i] = []byte(v)
	}
	return envelopes, nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pscheid92/chatrelay/internal/domain"
)

// eventColumns must match the Scan order in scanEvent.
const eventColumns = `id, client_ip, user_agent, successful, error_message, created_at, connection_path, headers, close_code, duration_ms, stage`

// EventRepo implements domain.EventRepository backed by PostgreSQL.
type EventRepo struct {
	pool *pgxpool.Pool
}

// NewEventRepo creates an EventRepo from the shared connection pool.
func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

func (r *EventRepo) Insert(ctx context.Context, event domain.LifecycleEvent) error {
	query := `
		INSERT INTO connection_events
			(client_ip, user_agent, successful, error_message, created_at, connection_path, headers, close_code, duration_ms, stage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		event.ClientIP, event.UserAgent, event.Successful, event.ErrorMessage,
		event.Timestamp, event.Path, event.Headers, event.CloseCode,
		event.DurationMS, string(event.Stage),
	)
	if err != nil {
		return fmt.Errorf("failed to insert connection event: %w", err)
	}
	return nil
}

// ListRecent returns the newest events in reverse-chronological order.
func (r *EventRepo) ListRecent(ctx context.Context, limit int) ([]domain.LifecycleEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM connection_events ORDER BY created_at DESC, id DESC LIMIT $1`, eventColumns)

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list connection events: %w", err)
	}
	defer rows.Close()

	var events []domain.LifecycleEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read connection events: %w", err)
	}
	return events, nil
}

// Stats aggregates lifecycle events for the diagnostics API: totals, success
// rate, the five most common error messages, and average connection duration.
func (r *EventRepo) Stats(ctx context.Context) (domain.ConnectionStats, error) {
	var stats domain.ConnectionStats

	totalsQuery := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE successful),
			COALESCE(AVG(duration_ms) FILTER (WHERE duration_ms IS NOT NULL), 0)
		FROM connection_events`

	err := r.pool.QueryRow(ctx, totalsQuery).Scan(&stats.TotalAttempts, &stats.SuccessfulAttempts, &stats.AvgDurationMS)
	if err != nil {
		return domain.ConnectionStats{}, fmt.Errorf("failed to aggregate connection events: %w", err)
	}

	stats.FailedAttempts = stats.TotalAttempts - stats.SuccessfulAttempts
	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(stats.SuccessfulAttempts) / float64(stats.TotalAttempts) * 100
	}

	errorsQuery := `
		SELECT error_message, COUNT(*)
		FROM connection_events
		WHERE NOT successful AND error_message IS NOT NULL AND error_message <> ''
		GROUP BY error_message
		ORDER BY COUNT(*) DESC
		LIMIT 5`

	rows, err := r.pool.Query(ctx, errorsQuery)
	if err != nil {
		return domain.ConnectionStats{}, fmt.Errorf("failed to aggregate error messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ec domain.ErrorCount
		if err := rows.Scan(&ec.ErrorMessage, &ec.Count); err != nil {
			return domain.ConnectionStats{}, fmt.Errorf("failed to scan error count: %w", err)
		}
		stats.CommonErrors = append(stats.CommonErrors, ec)
	}
	if err := rows.Err(); err != nil {
		return domain.ConnectionStats{}, fmt.Errorf("failed to read error counts: %w", err)
	}

	return stats, nil
}

func scanEvent(row pgx.Row) (domain.LifecycleEvent, error) {
	var event domain.LifecycleEvent
	var stage string
	err := row.Scan(
		&event.ID, &event.ClientIP, &event.UserAgent, &event.Successful,
		&event.ErrorMessage, &event.Timestamp, &event.Path, &event.Headers,
		&event.CloseCode, &event.DurationMS, &stage,
	)
	if err != nil {
		return domain.LifecycleEvent{}, fmt.Errorf("failed to scan connection event: %w", err)
	}
	event.Stage = domain.Stage(stage)
	return event, nil
}

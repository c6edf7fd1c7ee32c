package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reachforge/crm-api/internal/entity"
)

// MessageEventsRepository stores provider webhook events for auditing.
type MessageEventsRepository interface {
	Insert(ctx context.Context, event *entity.MessageEvent) error
	ListRecent(ctx context.Context, limit int) ([]entity.MessageEvent, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
}

// PGXMessageEventsRepository implements MessageEventsRepository using pgx.
type PGXMessageEventsRepository struct {
	pool pgxPool
}

// NewPGXMessageEventsRepository wires a pgx backed repository.
func NewPGXMessageEventsRepository(pool pgxPool) *PGXMessageEventsRepository {
	return &PGXMessageEventsRepository{pool: pool}
}

// Insert stores one webhook event with its raw payload.
func (r *PGXMessageEventsRepository) Insert(ctx context.Context, event *entity.MessageEvent) error {
	if event == nil {
		return fmt.Errorf("message event payload is nil")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	raw := event.Raw
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO message_events (id, provider_message_id, email, event_type, occurred_at, raw)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		RETURNING created_at
	`, event.ID, event.ProviderMessageID, event.Email, event.EventType, event.OccurredAt, string(raw))

	if err := row.Scan(&event.CreatedAt); err != nil {
		return fmt.Errorf("insert message event: %w", err)
	}
	return nil
}

// ListRecent returns the newest events first.
func (r *PGXMessageEventsRepository) ListRecent(ctx context.Context, limit int) ([]entity.MessageEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_message_id, email, event_type, occurred_at, raw, created_at
		FROM message_events
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list message events: %w", err)
	}
	defer rows.Close()

	var events []entity.MessageEvent
	for rows.Next() {
		var (
			event entity.MessageEvent
			raw   []byte
		)
		err := rows.Scan(&event.ID, &event.ProviderMessageID, &event.Email,
			&event.EventType, &event.OccurredAt, &raw, &event.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan message event: %w", err)
		}
		if len(raw) > 0 {
			event.Raw = json.RawMessage(raw)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message events: %w", err)
	}
	return events, nil
}

// CountSince counts events recorded after the given instant.
func (r *PGXMessageEventsRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM message_events WHERE created_at > $1`, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count message events: %w", err)
	}
	return count, nil
}

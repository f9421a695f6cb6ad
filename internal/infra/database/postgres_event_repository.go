// internal/infra/database/postgres_event_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"

	"event_digest_service/internal/domain/event"

	"github.com/lib/pq" // For pq.Array and driver registration
)

type PostgresEventRepository struct {
	db *sql.DB
}

func NewPostgresEventRepository(db *sql.DB) *PostgresEventRepository {
	return &PostgresEventRepository{db: db}
}

func (r *PostgresEventRepository) ListPublishedUpcoming(ctx context.Context, lookaheadDays int) ([]*event.Event, error) {
	// Candidates per the matching contract: PUBLISHED, starting strictly in
	// the future, within the lookahead window.
	query := `SELECT id, title, categories, genres, venue_city, price_cents, starts_at, status, created_at
               FROM events
               WHERE status = $1
                 AND starts_at > NOW()
                 AND starts_at <= NOW() + ($2 * INTERVAL '1 day')
               ORDER BY starts_at, id`

	rows, err := r.db.QueryContext(ctx, query, event.StatusPublished, lookaheadDays)
	if err != nil {
		return nil, fmt.Errorf("error listing published upcoming events: %w", err)
	}
	defer rows.Close()

	events := make([]*event.Event, 0)
	for rows.Next() {
		e := &event.Event{}
		if err := rows.Scan(
			&e.ID, &e.Title, pq.Array(&e.Categories), pq.Array(&e.Genres),
			&e.VenueCity, &e.PriceCents, &e.StartsAt, &e.Status, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning event: %w", err)
		}
		events = append(events, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

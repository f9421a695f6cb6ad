// internal/infra/database/postgres_notification_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"

	"event_digest_service/internal/domain/digest"

	"github.com/google/uuid"
	"github.com/lib/pq" // For pq.Array and driver registration
)

type PostgresNotificationRepository struct {
	db *sql.DB
}

func NewPostgresNotificationRepository(db *sql.DB) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{db: db}
}

// Create persists one notification record per dispatched digest. The matched
// event IDs are stored as an array on the record, not one row per event.
func (r *PostgresNotificationRepository) Create(ctx context.Context, rec *digest.NotificationRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	query := `INSERT INTO digest_notifications (id, user_id, cadence, period_bucket, event_ids)
               VALUES ($1, $2, $3, $4, $5)
               RETURNING created_at`
	err := r.db.QueryRowContext(ctx, query,
		rec.ID, rec.UserID, rec.Cadence, rec.PeriodBucket, pq.Array(rec.EventIDs),
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating digest notification: %w", err)
	}
	return nil
}

// internal/infra/database/postgres_run_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"event_digest_service/internal/domain/digest"
)

// Custom errors specific to the run ledger
var ErrRunNotFound = fmt.Errorf("digest run record not found")

// PostgresRunRepository implements digest.Ledger. The unique constraint on
// (user_id, cadence, period_bucket) is the idempotency guard; correctness
// holds across concurrent process instances because the conditional insert
// is resolved by the database, not by in-process locking.
type PostgresRunRepository struct {
	db *sql.DB
}

func NewPostgresRunRepository(db *sql.DB) *PostgresRunRepository {
	return &PostgresRunRepository{db: db}
}

func (r *PostgresRunRepository) Reserve(ctx context.Context, userID int64, cadence digest.Cadence, periodBucket string, staleAfter time.Duration) (bool, error) {
	query := `INSERT INTO digest_runs (user_id, cadence, period_bucket, status)
               VALUES ($1, $2, $3, $4)
               ON CONFLICT (user_id, cadence, period_bucket) DO NOTHING
               RETURNING id`
	var id int64
	err := r.db.QueryRowContext(ctx, query, userID, cadence, periodBucket, digest.RunStatusPending).Scan(&id)
	if err == nil {
		return true, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("error reserving digest run: %w", err)
	}

	// The slot is taken. A PENDING row that has not been touched within
	// staleAfter belongs to a run that crashed before Finalize; re-claim it.
	reclaim := `UPDATE digest_runs
               SET updated_at = NOW()
               WHERE user_id = $1 AND cadence = $2 AND period_bucket = $3
                 AND status = $4
                 AND updated_at < NOW() - ($5 * INTERVAL '1 second')
               RETURNING id`
	err = r.db.QueryRowContext(ctx, reclaim, userID, cadence, periodBucket,
		digest.RunStatusPending, int64(staleAfter.Seconds())).Scan(&id)
	if err == nil {
		return true, nil
	}
	if err == sql.ErrNoRows {
		return false, nil // already sent, in flight, or terminal
	}
	return false, fmt.Errorf("error reclaiming stale digest run: %w", err)
}

func (r *PostgresRunRepository) Finalize(ctx context.Context, userID int64, cadence digest.Cadence, periodBucket string, status digest.RunStatus) error {
	query := `UPDATE digest_runs
               SET status = $1,
                   dispatched_at = CASE WHEN $1 = $2 THEN NOW() ELSE dispatched_at END,
                   updated_at = NOW()
               WHERE user_id = $3 AND cadence = $4 AND period_bucket = $5
               RETURNING id`
	var id int64
	err := r.db.QueryRowContext(ctx, query, status, digest.RunStatusSent, userID, cadence, periodBucket).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrRunNotFound
		}
		return fmt.Errorf("error finalizing digest run: %w", err)
	}
	return nil
}

func (r *PostgresRunRepository) ListFailed(ctx context.Context, cadence digest.Cadence, periodBucket string) ([]*digest.RunRecord, error) {
	query := `SELECT id, user_id, cadence, period_bucket, status, dispatched_at, created_at, updated_at
               FROM digest_runs
               WHERE cadence = $1 AND period_bucket = $2 AND status = $3
               ORDER BY user_id`
	rows, err := r.db.QueryContext(ctx, query, cadence, periodBucket, digest.RunStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("error querying failed digest runs: %w", err)
	}
	defer rows.Close()

	records := make([]*digest.RunRecord, 0)
	for rows.Next() {
		rec := &digest.RunRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.Cadence, &rec.PeriodBucket, &rec.Status,
			&rec.DispatchedAt, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning digest run row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating digest run rows: %w", err)
	}
	return records, nil
}

func (r *PostgresRunRepository) ReclaimFailed(ctx context.Context, userID int64, cadence digest.Cadence, periodBucket string) (bool, error) {
	query := `UPDATE digest_runs
               SET status = $1, updated_at = NOW()
               WHERE user_id = $2 AND cadence = $3 AND period_bucket = $4 AND status = $5
               RETURNING id`
	var id int64
	err := r.db.QueryRowContext(ctx, query, digest.RunStatusPending, userID, cadence, periodBucket, digest.RunStatusFailed).Scan(&id)
	if err == nil {
		return true, nil
	}
	if err == sql.ErrNoRows {
		return false, nil // another retry already claimed it, or it was never FAILED
	}
	return false, fmt.Errorf("error reclaiming failed digest run: %w", err)
}

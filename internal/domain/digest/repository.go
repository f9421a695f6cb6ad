// internal/domain/digest/repository.go
package digest

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Ledger defines the idempotency operations for digest runs.
type Ledger interface {
	// Reserve atomically claims the (userID, cadence, periodBucket) slot.
	// It returns false when a non-stale row already occupies the slot.
	// A PENDING row older than staleAfter is treated as an abandoned
	// reservation from a crashed run and may be re-claimed.
	Reserve(ctx context.Context, userID int64, cadence Cadence, periodBucket string, staleAfter time.Duration) (bool, error)

	// Finalize records the terminal outcome of a reserved slot.
	Finalize(ctx context.Context, userID int64, cadence Cadence, periodBucket string, status RunStatus) error

	// ListFailed returns the run records finalized FAILED for a bucket,
	// for the manual retry operation.
	ListFailed(ctx context.Context, cadence Cadence, periodBucket string) ([]*RunRecord, error)

	// ReclaimFailed flips a FAILED row back to PENDING so a retry run may
	// dispatch it again. Returns false if the row is no longer FAILED.
	ReclaimFailed(ctx context.Context, userID int64, cadence Cadence, periodBucket string) (bool, error)
}

// NotificationRecord is persisted once per successfully dispatched digest.
// It references the contributing event IDs rather than duplicating a row per
// event.
type NotificationRecord struct {
	ID           uuid.UUID
	UserID       int64
	Cadence      Cadence
	PeriodBucket string
	EventIDs     []int64
	CreatedAt    time.Time
}

// NotificationRepository persists digest notification records.
type NotificationRepository interface {
	Create(ctx context.Context, rec *NotificationRecord) error
}

// internal/domain/digest/run.go
package digest

import (
	"database/sql"
	"fmt"
	"time"
)

// RunRecord tracks one (user, cadence, period) dispatch attempt.
// Corresponds to the 'digest_runs' table; the unique constraint on
// (user_id, cadence, period_bucket) is the sole idempotency guard.
type RunRecord struct {
	ID           int64
	UserID       int64
	Cadence      Cadence
	PeriodBucket string
	Status       RunStatus
	DispatchedAt sql.NullTime
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PeriodBucketFor derives the idempotency key for a cadence at a given
// instant, in UTC so the key is independent of the server's wall clock zone:
// the calendar date for DAILY, the ISO year-week for WEEKLY. Two cron
// triggers firing in the same period therefore compute the same bucket.
func PeriodBucketFor(cadence Cadence, at time.Time) string {
	utc := at.UTC()
	switch cadence {
	case CadenceWeekly:
		year, week := utc.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	default:
		return utc.Format("2006-01-02")
	}
}

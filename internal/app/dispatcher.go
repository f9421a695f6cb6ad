// internal/app/dispatcher.go
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"event_digest_service/internal/domain/delivery"
	"event_digest_service/internal/domain/digest"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffCap  = 5 * time.Second
)

// DispatchJob is one user's digest ready for delivery.
type DispatchJob struct {
	UserID       int64
	Cadence      digest.Cadence
	PeriodBucket string
	Items        []delivery.Item
}

// Dispatcher delivers a single user's digest with retry-with-backoff for
// transient failures and persists the notification record on success.
// A failure for one user never affects dispatch for any other user.
type Dispatcher struct {
	notifRepo   digest.NotificationRepository
	sender      delivery.Sender
	logger      *log.Logger
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
}

func NewDispatcher(nr digest.NotificationRepository, sender delivery.Sender, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		notifRepo:   nr,
		sender:      sender,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		backoffCap:  defaultBackoffCap,
	}
}

// Dispatch attempts delivery for one user. Transient failures are retried up
// to maxAttempts with exponential backoff (base doubling, capped); permanent
// failures and context expiry end the attempt immediately. On success one
// NotificationRecord referencing the matched event IDs is persisted.
func (d *Dispatcher) Dispatch(ctx context.Context, job DispatchJob) error {
	var lastErr error
	backoff := d.backoffBase

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("dispatch canceled for user %d: %w", job.UserID, err)
		}

		err := d.sender.SendDigest(ctx, job.UserID, job.Items)
		if err == nil {
			d.persistRecord(ctx, job)
			return nil
		}
		if delivery.IsPermanent(err) {
			return fmt.Errorf("permanent delivery failure for user %d: %w", job.UserID, err)
		}

		lastErr = err
		d.logger.Printf("WARN: Transient delivery failure for UserID %d (attempt %d/%d): %v", job.UserID, attempt, d.maxAttempts, err)

		if attempt < d.maxAttempts {
			select {
			case <-ctx.Done():
				return fmt.Errorf("dispatch canceled for user %d during backoff: %w", job.UserID, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > d.backoffCap {
				backoff = d.backoffCap
			}
		}
	}
	return fmt.Errorf("delivery failed for user %d after %d attempts: %w", job.UserID, d.maxAttempts, lastErr)
}

// persistRecord writes the notification record after a successful send. The
// write is detached from the run deadline: the delivery already happened, so
// losing the record to a deadline would understate what was sent. A write
// failure is logged, not surfaced; the run ledger, not this record, carries
// the idempotency guarantee.
func (d *Dispatcher) persistRecord(ctx context.Context, job DispatchJob) {
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	eventIDs := make([]int64, len(job.Items))
	for i, it := range job.Items {
		eventIDs[i] = it.Event.ID
	}
	rec := &digest.NotificationRecord{
		UserID:       job.UserID,
		Cadence:      job.Cadence,
		PeriodBucket: job.PeriodBucket,
		EventIDs:     eventIDs,
	}
	if err := d.notifRepo.Create(recCtx, rec); err != nil {
		d.logger.Printf("ERROR: Failed to persist notification record for UserID %d: %v", job.UserID, err)
	}
}

// internal/app/admin_service.go
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"event_digest_service/internal/domain/digest"
	"event_digest_service/internal/domain/event"
	"event_digest_service/internal/domain/profile"
	idb "event_digest_service/internal/infra/database"
)

// AdminService hosts operator-facing maintenance operations. Authorization
// happens at the transport layer (the cron trigger token); this service
// assumes the caller is trusted.
type AdminService struct {
	profileRepo   profile.Repository
	eventRepo     event.Repository
	ledger        digest.Ledger
	dispatcher    digestDispatcher
	matcher       *Matcher
	logger        *log.Logger
	lookaheadDays int
}

func NewAdminService(
	pr profile.Repository,
	er event.Repository,
	ledger digest.Ledger,
	dispatcher digestDispatcher,
	matcher *Matcher,
	logger *log.Logger,
	lookaheadDays int,
) *AdminService {
	if lookaheadDays <= 0 {
		lookaheadDays = 30
	}
	return &AdminService{
		profileRepo:   pr,
		eventRepo:     er,
		ledger:        ledger,
		dispatcher:    dispatcher,
		matcher:       matcher,
		logger:        logger,
		lookaheadDays: lookaheadDays,
	}
}

// RetryFailedRuns re-dispatches digests for every FAILED run record in the
// given (cadence, periodBucket). Each record is re-claimed back to PENDING
// before dispatch so two concurrent retries cannot double-send the same user.
func (s *AdminService) RetryFailedRuns(ctx context.Context, cadence digest.Cadence, periodBucket string) (*digest.RunSummary, error) {
	if !cadence.IsSchedulable() {
		return nil, fmt.Errorf("cadence %q is not schedulable", cadence)
	}

	records, err := s.ledger.ListFailed(ctx, cadence, periodBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to list FAILED runs for bucket %s: %w", periodBucket, err)
	}

	summary := &digest.RunSummary{Cadence: cadence, PeriodBucket: periodBucket, UsersDue: len(records)}
	if len(records) == 0 {
		s.logger.Printf("INFO: No FAILED runs to retry for %s bucket %s", cadence, periodBucket)
		return summary, nil
	}

	events, err := s.eventRepo.ListPublishedUpcoming(ctx, s.lookaheadDays)
	if err != nil {
		return nil, fmt.Errorf("failed to load event snapshot: %w", err)
	}
	eventsByID := indexEvents(events)

	s.logger.Printf("INFO: Retrying %d FAILED runs for %s bucket %s", len(records), cadence, periodBucket)

	for _, rec := range records {
		if ctx.Err() != nil {
			summary.Failed += 1
			continue
		}

		p, err := s.profileRepo.GetByUserID(ctx, rec.UserID)
		if err != nil {
			if err == idb.ErrProfileNotFound {
				// Deactivated since the failed run; nothing to deliver.
				s.logger.Printf("INFO: UserID %d no longer has an active profile. Skipping retry.", rec.UserID)
				summary.Skipped++
				continue
			}
			s.logger.Printf("ERROR: Failed to load profile for UserID %d: %v", rec.UserID, err)
			summary.Failed++
			continue
		}

		claimed, err := s.ledger.ReclaimFailed(ctx, rec.UserID, cadence, periodBucket)
		if err != nil {
			s.logger.Printf("ERROR: Failed to reclaim FAILED run for UserID %d: %v", rec.UserID, err)
			summary.Failed++
			continue
		}
		if !claimed {
			s.logger.Printf("INFO: FAILED run for UserID %d already claimed by another retry. Skipping.", rec.UserID)
			summary.Skipped++
			continue
		}

		userMatches := s.matcher.Score(p, events)
		if len(userMatches) == 0 {
			// The window moved on; the events that matched are gone.
			s.finalize(ctx, rec.UserID, cadence, periodBucket, digest.RunStatusSkipped)
			summary.Skipped++
			continue
		}

		job := DispatchJob{
			UserID:       rec.UserID,
			Cadence:      cadence,
			PeriodBucket: periodBucket,
			Items:        buildItems(userMatches, eventsByID),
		}
		if err := s.dispatcher.Dispatch(ctx, job); err != nil {
			s.logger.Printf("ERROR: Retry dispatch failed for UserID %d: %v", rec.UserID, err)
			s.finalize(ctx, rec.UserID, cadence, periodBucket, digest.RunStatusFailed)
			summary.Failed++
			continue
		}
		s.finalize(ctx, rec.UserID, cadence, periodBucket, digest.RunStatusSent)
		summary.Sent++
	}

	s.logger.Printf("INFO: Retry for %s bucket %s complete: due=%d sent=%d skipped=%d failed=%d",
		cadence, periodBucket, summary.UsersDue, summary.Sent, summary.Skipped, summary.Failed)
	return summary, nil
}

func (s *AdminService) finalize(ctx context.Context, userID int64, cadence digest.Cadence, bucket string, status digest.RunStatus) {
	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.ledger.Finalize(finCtx, userID, cadence, bucket, status); err != nil {
		s.logger.Printf("ERROR: Failed to finalize %s run for UserID %d: %v", status, userID, err)
	}
}

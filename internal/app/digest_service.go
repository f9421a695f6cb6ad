// internal/app/digest_service.go
package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"event_digest_service/internal/domain/delivery"
	"event_digest_service/internal/domain/digest"
	"event_digest_service/internal/domain/event"
	"event_digest_service/internal/domain/profile"
)

// DigestRunner is the single internal entry point behind every trigger
// binding (HTTP push, HTTP pull, in-process cron), so the
// idempotency-sensitive logic exists exactly once.
type DigestRunner interface {
	RunDigest(ctx context.Context, cadence digest.Cadence) (*digest.RunSummary, error)
}

// digestDispatcher is what the service needs from the Dispatcher.
type digestDispatcher interface {
	Dispatch(ctx context.Context, job DispatchJob) error
}

// DigestServiceConfig carries the run-level tunables.
type DigestServiceConfig struct {
	LookaheadDays   int
	MatchWorkers    int // CPU-bound pool for per-user scoring
	DispatchWorkers int // I/O-bound pool for reserve/dispatch/finalize
	StaleReserveAge time.Duration
}

// DigestService orchestrates one digest run: snapshot loads, per-user
// matching, idempotent reservation, dispatch, and ledger finalization.
// Per user the states are NotDue -> Due -> Reserved -> {Dispatched, Skipped, Failed}.
type DigestService struct {
	profileRepo profile.Repository
	eventRepo   event.Repository
	ledger      digest.Ledger
	dispatcher  digestDispatcher
	matcher     *Matcher
	logger      *log.Logger
	cfg         DigestServiceConfig
	now         func() time.Time
}

func NewDigestService(
	pr profile.Repository,
	er event.Repository,
	ledger digest.Ledger,
	dispatcher digestDispatcher,
	matcher *Matcher,
	logger *log.Logger,
	cfg DigestServiceConfig,
) *DigestService {
	if cfg.LookaheadDays <= 0 {
		cfg.LookaheadDays = 30
	}
	if cfg.MatchWorkers <= 0 {
		cfg.MatchWorkers = 4
	}
	if cfg.DispatchWorkers <= 0 {
		cfg.DispatchWorkers = 10
	}
	if cfg.StaleReserveAge <= 0 {
		cfg.StaleReserveAge = time.Hour
	}
	return &DigestService{
		profileRepo: pr,
		eventRepo:   er,
		ledger:      ledger,
		dispatcher:  dispatcher,
		matcher:     matcher,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// RunDigest executes one cadence run and returns summary counts. Snapshot
// load errors abort the run before any reservation is made; per-user dispatch
// failures only surface as counts, never as an error to the caller.
func (s *DigestService) RunDigest(ctx context.Context, cadence digest.Cadence) (*digest.RunSummary, error) {
	if !cadence.IsSchedulable() {
		return nil, fmt.Errorf("cadence %q is not schedulable", cadence)
	}

	bucket := digest.PeriodBucketFor(cadence, s.now())
	s.logger.Printf("INFO: Starting %s digest run for period bucket %s", cadence, bucket)

	profiles, err := s.profileRepo.ListOptedIn(ctx, cadence)
	if err != nil {
		return nil, fmt.Errorf("failed to load preference snapshot: %w", err)
	}

	due := profiles[:0:0]
	for _, p := range profiles {
		if p.DueFor(cadence) {
			due = append(due, p)
		}
	}

	summary := &digest.RunSummary{Cadence: cadence, PeriodBucket: bucket, UsersDue: len(due)}
	if len(due) == 0 {
		s.logger.Printf("INFO: No users due for %s digest in bucket %s", cadence, bucket)
		return summary, nil
	}

	events, err := s.eventRepo.ListPublishedUpcoming(ctx, s.cfg.LookaheadDays)
	if err != nil {
		return nil, fmt.Errorf("failed to load event snapshot: %w", err)
	}
	s.logger.Printf("INFO: Matching %d due users against %d candidate events", len(due), len(events))

	matches := s.matchAll(due, events)
	eventsByID := indexEvents(events)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	sem := make(chan struct{}, s.cfg.DispatchWorkers)

	for i, p := range due {
		userMatches := matches[i]
		if len(userMatches) == 0 {
			// Nothing worth sending; a digest with zero events is never
			// dispatched and no reservation is made.
			mu.Lock()
			summary.Skipped++
			mu.Unlock()
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(p *profile.PreferenceProfile, userMatches []digest.MatchScore) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := s.processUser(ctx, p.UserID, cadence, bucket, userMatches, eventsByID)
			mu.Lock()
			switch outcome {
			case digest.RunStatusSent:
				summary.Sent++
			case digest.RunStatusSkipped:
				summary.Skipped++
			default:
				summary.Failed++
			}
			mu.Unlock()
		}(p, userMatches)
	}
	wg.Wait()

	s.logger.Printf("INFO: %s digest run for bucket %s complete: due=%d sent=%d skipped=%d failed=%d",
		cadence, bucket, summary.UsersDue, summary.Sent, summary.Skipped, summary.Failed)
	return summary, nil
}

// matchAll scores every due profile against the event snapshot on a bounded
// pool. Scoring is pure computation; the pool size only controls CPU fan-out.
func (s *DigestService) matchAll(due []*profile.PreferenceProfile, events []*event.Event) [][]digest.MatchScore {
	results := make([][]digest.MatchScore, len(due))
	sem := make(chan struct{}, s.cfg.MatchWorkers)
	var wg sync.WaitGroup
	for i, p := range due {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, p *profile.PreferenceProfile) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.matcher.Score(p, events)
		}(i, p)
	}
	wg.Wait()
	return results
}

// processUser runs the Due -> Reserved -> terminal portion of the state
// machine for one user and returns the terminal status.
func (s *DigestService) processUser(ctx context.Context, userID int64, cadence digest.Cadence, bucket string, userMatches []digest.MatchScore, eventsByID map[int64]*event.Event) digest.RunStatus {
	if ctx.Err() != nil {
		// Run deadline expired before this user was reserved. Reported as
		// Failed, not Skipped: nothing was sent and nothing guards the bucket.
		s.logger.Printf("WARN: Run deadline expired before dispatch for UserID %d", userID)
		return digest.RunStatusFailed
	}

	acquired, err := s.ledger.Reserve(ctx, userID, cadence, bucket, s.cfg.StaleReserveAge)
	if err != nil {
		s.logger.Printf("ERROR: Failed to reserve digest run for UserID %d, bucket %s: %v", userID, bucket, err)
		return digest.RunStatusFailed
	}
	if !acquired {
		// Already sent (or in flight) for this period. Normal outcome, not an error.
		s.logger.Printf("INFO: Digest for UserID %d already dispatched for bucket %s. Skipping.", userID, bucket)
		return digest.RunStatusSkipped
	}

	job := DispatchJob{
		UserID:       userID,
		Cadence:      cadence,
		PeriodBucket: bucket,
		Items:        buildItems(userMatches, eventsByID),
	}

	dispatchErr := s.dispatcher.Dispatch(ctx, job)

	// Finalize must land even when the run deadline killed the dispatch,
	// otherwise the reservation dangles until the staleness threshold.
	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if dispatchErr != nil {
		s.logger.Printf("ERROR: Dispatch failed for UserID %d, bucket %s: %v", userID, bucket, dispatchErr)
		if err := s.ledger.Finalize(finCtx, userID, cadence, bucket, digest.RunStatusFailed); err != nil {
			s.logger.Printf("ERROR: Failed to finalize FAILED run for UserID %d: %v", userID, err)
		}
		return digest.RunStatusFailed
	}

	if err := s.ledger.Finalize(finCtx, userID, cadence, bucket, digest.RunStatusSent); err != nil {
		// The send happened; the reservation still guards the bucket.
		s.logger.Printf("ERROR: Failed to finalize SENT run for UserID %d: %v", userID, err)
	}
	return digest.RunStatusSent
}

func buildItems(userMatches []digest.MatchScore, eventsByID map[int64]*event.Event) []delivery.Item {
	items := make([]delivery.Item, 0, len(userMatches))
	for _, m := range userMatches {
		ev, ok := eventsByID[m.EventID]
		if !ok {
			continue
		}
		items = append(items, delivery.Item{Event: ev, Score: m.Score, Reasons: m.Reasons})
	}
	return items
}

func indexEvents(events []*event.Event) map[int64]*event.Event {
	byID := make(map[int64]*event.Event, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}
	return byID
}

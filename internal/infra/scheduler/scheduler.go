package scheduler

import (
	"context"
	"log"
	"time"

	"event_digest_service/internal/app"
	"event_digest_service/internal/domain/digest"

	"github.com/robfig/cron/v3"
)

// DigestScheduler is the in-process trigger binding: cron jobs for the daily
// and weekly cadences calling the same RunDigest the HTTP triggers call.
// An overlapping external trigger in the same period is harmless: the run
// ledger's period bucket makes the second invocation skip every user.
type DigestScheduler struct {
	cronEngine     *cron.Cron
	runner         app.DigestRunner
	logger         *log.Logger
	cronSpecDaily  string
	cronSpecWeekly string
	runTimeout     time.Duration
}

func NewDigestScheduler(
	runner app.DigestRunner,
	logger *log.Logger,
	cronSpecDaily string, // e.g., "0 9 * * *" (9:00 AM daily)
	cronSpecWeekly string, // e.g., "0 9 * * 1" (9:00 AM on Mondays)
	runTimeout time.Duration,
) *DigestScheduler {
	return &DigestScheduler{
		cronEngine:     cron.New(cron.WithLocation(time.Local)), // Use server's local time for cron
		runner:         runner,
		logger:         logger,
		cronSpecDaily:  cronSpecDaily,
		cronSpecWeekly: cronSpecWeekly,
		runTimeout:     runTimeout,
	}
}

func (s *DigestScheduler) Start() {
	s.logger.Println("INFO: Starting digest scheduler...")

	_, err := s.cronEngine.AddFunc(s.cronSpecDaily, func() {
		s.logger.Println("INFO: Cron job triggered for daily digest run.")
		s.executeRun(digest.CadenceDaily)
	})
	if err != nil {
		s.logger.Fatalf("FATAL: Could not add daily digest cron job: %v", err)
	}

	_, err = s.cronEngine.AddFunc(s.cronSpecWeekly, func() {
		s.logger.Println("INFO: Cron job triggered for weekly digest run.")
		s.executeRun(digest.CadenceWeekly)
	})
	if err != nil {
		s.logger.Fatalf("FATAL: Could not add weekly digest cron job: %v", err)
	}

	s.cronEngine.Start()
	s.logger.Println("INFO: Digest scheduler started with jobs.")
}

func (s *DigestScheduler) executeRun(cadence digest.Cadence) {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	summary, err := s.runner.RunDigest(ctx, cadence)
	if err != nil {
		s.logger.Printf("ERROR: %s digest run failed: %v", cadence, err)
		return
	}
	s.logger.Printf("INFO: %s digest run finished: due=%d sent=%d skipped=%d failed=%d",
		cadence, summary.UsersDue, summary.Sent, summary.Skipped, summary.Failed)
}

func (s *DigestScheduler) Stop() {
	s.logger.Println("INFO: Stopping digest scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()               // Wait for graceful shutdown
	s.logger.Println("INFO: Digest scheduler gracefully stopped.")
}

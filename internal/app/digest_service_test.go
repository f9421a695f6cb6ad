package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"event_digest_service/internal/domain/delivery"
	"event_digest_service/internal/domain/digest"
	"event_digest_service/internal/domain/event"
	"event_digest_service/internal/domain/profile"
	idb "event_digest_service/internal/infra/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes shared by the service, dispatcher, and admin tests ---

type fakeProfileRepo struct {
	profiles []*profile.PreferenceProfile
	err      error
}

func (f *fakeProfileRepo) ListOptedIn(_ context.Context, _ digest.Cadence) ([]*profile.PreferenceProfile, error) {
	return f.profiles, f.err
}

func (f *fakeProfileRepo) GetByUserID(_ context.Context, userID int64) (*profile.PreferenceProfile, error) {
	for _, p := range f.profiles {
		if p.UserID == userID {
			return p, nil
		}
	}
	return nil, idb.ErrProfileNotFound
}

type fakeEventRepo struct {
	events []*event.Event
	err    error
}

func (f *fakeEventRepo) ListPublishedUpcoming(_ context.Context, _ int) ([]*event.Event, error) {
	return f.events, f.err
}

// memLedger is an in-memory digest.Ledger with the same at-most-once and
// stale-reclaim semantics as the postgres implementation.
type memLedger struct {
	mu   sync.Mutex
	rows map[string]*ledgerRow
}

type ledgerRow struct {
	status    digest.RunStatus
	updatedAt time.Time
}

func newMemLedger() *memLedger {
	return &memLedger{rows: make(map[string]*ledgerRow)}
}

func ledgerKey(userID int64, cadence digest.Cadence, bucket string) string {
	return fmt.Sprintf("%d|%s|%s", userID, cadence, bucket)
}

func (l *memLedger) Reserve(_ context.Context, userID int64, cadence digest.Cadence, bucket string, staleAfter time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := ledgerKey(userID, cadence, bucket)
	row, exists := l.rows[key]
	if !exists {
		l.rows[key] = &ledgerRow{status: digest.RunStatusPending, updatedAt: time.Now()}
		return true, nil
	}
	// A PENDING row untouched for staleAfter belongs to a crashed run and may
	// be re-claimed; terminal rows never are.
	if row.status == digest.RunStatusPending && time.Since(row.updatedAt) >= staleAfter {
		row.updatedAt = time.Now()
		return true, nil
	}
	return false, nil
}

func (l *memLedger) Finalize(_ context.Context, userID int64, cadence digest.Cadence, bucket string, status digest.RunStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, exists := l.rows[ledgerKey(userID, cadence, bucket)]
	if !exists {
		return idb.ErrRunNotFound
	}
	row.status = status
	row.updatedAt = time.Now()
	return nil
}

func (l *memLedger) ListFailed(_ context.Context, cadence digest.Cadence, bucket string) ([]*digest.RunRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*digest.RunRecord
	for userID := int64(1); userID <= 1000; userID++ {
		if row, ok := l.rows[ledgerKey(userID, cadence, bucket)]; ok && row.status == digest.RunStatusFailed {
			out = append(out, &digest.RunRecord{UserID: userID, Cadence: cadence, PeriodBucket: bucket, Status: digest.RunStatusFailed})
		}
	}
	return out, nil
}

func (l *memLedger) ReclaimFailed(_ context.Context, userID int64, cadence digest.Cadence, bucket string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[ledgerKey(userID, cadence, bucket)]
	if !ok || row.status != digest.RunStatusFailed {
		return false, nil
	}
	row.status = digest.RunStatusPending
	row.updatedAt = time.Now()
	return true, nil
}

func (l *memLedger) statusOf(userID int64, cadence digest.Cadence, bucket string) digest.RunStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	if row, ok := l.rows[ledgerKey(userID, cadence, bucket)]; ok {
		return row.status
	}
	return ""
}

func (l *memLedger) countWithStatus(status digest.RunStatus) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, row := range l.rows {
		if row.status == status {
			n++
		}
	}
	return n
}

// backdate ages a row so staleness paths can be exercised.
func (l *memLedger) backdate(userID int64, cadence digest.Cadence, bucket string, age time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if row, ok := l.rows[ledgerKey(userID, cadence, bucket)]; ok {
		row.updatedAt = time.Now().Add(-age)
	}
}

// fakeSender scripts per-user delivery outcomes.
type fakeSender struct {
	mu            sync.Mutex
	permanentFail map[int64]bool
	transientFail map[int64]int // remaining failures before success
	sent          []int64
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		permanentFail: make(map[int64]bool),
		transientFail: make(map[int64]int),
	}
}

func (f *fakeSender) SendDigest(_ context.Context, userID int64, _ []delivery.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.permanentFail[userID] {
		return delivery.Permanent(errors.New("recipient rejected"))
	}
	if f.transientFail[userID] > 0 {
		f.transientFail[userID]--
		return errors.New("temporary provider hiccup")
	}
	f.sent = append(f.sent, userID)
	return nil
}

func (f *fakeSender) sentTo() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.sent))
	copy(out, f.sent)
	return out
}

type memNotifRepo struct {
	mu      sync.Mutex
	records []*digest.NotificationRecord
	err     error
}

func (r *memNotifRepo) Create(_ context.Context, rec *digest.NotificationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *memNotifRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func dailyProfile(userID int64, weight float64) *profile.PreferenceProfile {
	return &profile.PreferenceProfile{
		UserID:            userID,
		CategoryWeights:   map[string]float64{"jazz": weight},
		IncludeFreeEvents: true,
		NotifyMatches:     true,
		DigestCadence:     digest.CadenceDaily,
	}
}

func freeJazzEvent(id int64) *event.Event {
	return &event.Event{
		ID:         id,
		Title:      fmt.Sprintf("Jazz night %d", id),
		Categories: []string{"jazz"},
		StartsAt:   time.Date(2026, 9, 4, 20, 0, 0, 0, time.UTC),
		Status:     event.StatusPublished,
	}
}

func newTestService(pr *fakeProfileRepo, er *fakeEventRepo, ledger digest.Ledger, sender delivery.Sender, notifRepo digest.NotificationRepository) *DigestService {
	d := NewDispatcher(notifRepo, sender, testLogger())
	d.backoffBase = time.Millisecond
	d.backoffCap = 2 * time.Millisecond
	return NewDigestService(pr, er, ledger, d, NewMatcher(DefaultMatcherConfig()), testLogger(), DigestServiceConfig{
		LookaheadDays:   30,
		MatchWorkers:    2,
		DispatchWorkers: 4,
		StaleReserveAge: time.Hour,
	})
}

// --- tests ---

func TestRunDigest_SecondRunInSamePeriodSkips(t *testing.T) {
	pr := &fakeProfileRepo{profiles: []*profile.PreferenceProfile{dailyProfile(1, 3), dailyProfile(2, 3)}}
	er := &fakeEventRepo{events: []*event.Event{freeJazzEvent(10)}}
	ledger := newMemLedger()
	sender := newFakeSender()
	notifRepo := &memNotifRepo{}
	svc := newTestService(pr, er, ledger, sender, notifRepo)

	first, err := svc.RunDigest(context.Background(), digest.CadenceDaily)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Sent)
	assert.Equal(t, 0, first.Skipped)

	second, err := svc.RunDigest(context.Background(), digest.CadenceDaily)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Sent)
	assert.Equal(t, 2, second.Skipped)

	// Exactly one SENT row per user, and no duplicate delivery.
	assert.Equal(t, 2, ledger.countWithStatus(digest.RunStatusSent))
	assert.Len(t, sender.sentTo(), 2)
	assert.Equal(t, 2, notifRepo.count())
}

func TestRunDigest_FailureIsolation(t *testing.T) {
	profiles := make([]*profile.PreferenceProfile, 0, 5)
	for id := int64(1); id <= 5; id++ {
		profiles = append(profiles, dailyProfile(id, 3))
	}
	pr := &fakeProfileRepo{profiles: profiles}
	er := &fakeEventRepo{events: []*event.Event{freeJazzEvent(10)}}
	ledger := newMemLedger()
	sender := newFakeSender()
	sender.permanentFail[3] = true
	notifRepo := &memNotifRepo{}
	svc := newTestService(pr, er, ledger, sender, notifRepo)

	summary, err := svc.RunDigest(context.Background(), digest.CadenceDaily)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.UsersDue)
	assert.Equal(t, 4, summary.Sent)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Skipped)

	// The four successes persisted their records regardless of user 3.
	assert.Equal(t, 4, notifRepo.count())
	bucket := digest.PeriodBucketFor(digest.CadenceDaily, time.Now())
	assert.Equal(t, digest.RunStatusFailed, ledger.statusOf(3, digest.CadenceDaily, bucket))
}

func TestRunDigest_CadenceOptInBoundary(t *testing.T) {
	// DAILY cadence with notify_matches=false is never due, even with every
	// other flag set.
	p := dailyProfile(1, 3)
	p.NotifyMatches = false
	p.NotifyNewEvents = true
	p.NotifyWeekly = true

	pr := &fakeProfileRepo{profiles: []*profile.PreferenceProfile{p}}
	er := &fakeEventRepo{events: []*event.Event{freeJazzEvent(10)}}
	ledger := newMemLedger()
	sender := newFakeSender()
	svc := newTestService(pr, er, ledger, sender, &memNotifRepo{})

	summary, err := svc.RunDigest(context.Background(), digest.CadenceDaily)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.UsersDue)
	assert.Empty(t, sender.sentTo())
}

func TestRunDigest_ZeroMatchesSkipsWithoutReservation(t *testing.T) {
	p := dailyProfile(1, 3)
	p.CategoryWeights = map[string]float64{"opera": 3} // nothing will match jazz

	pr := &fakeProfileRepo{profiles: []*profile.PreferenceProfile{p}}
	er := &fakeEventRepo{events: []*event.Event{freeJazzEvent(10)}}
	ledger := newMemLedger()
	sender := newFakeSender()
	svc := newTestService(pr, er, ledger, sender, &memNotifRepo{})

	summary, err := svc.RunDigest(context.Background(), digest.CadenceDaily)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Sent)

	// No reservation was burned: a later run with matching events may send.
	bucket := digest.PeriodBucketFor(digest.CadenceDaily, time.Now())
	assert.Equal(t, digest.RunStatus(""), ledger.statusOf(1, digest.CadenceDaily, bucket))
}

func TestRunDigest_SnapshotErrorAbortsBeforeReservation(t *testing.T) {
	pr := &fakeProfileRepo{profiles: []*profile.PreferenceProfile{dailyProfile(1, 3)}}
	er := &fakeEventRepo{err: errors.New("storage unavailable")}
	ledger := newMemLedger()
	svc := newTestService(pr, er, ledger, newFakeSender(), &memNotifRepo{})

	_, err := svc.RunDigest(context.Background(), digest.CadenceDaily)
	require.Error(t, err)
	assert.Equal(t, 0, ledger.countWithStatus(digest.RunStatusPending))
}

func TestRunDigest_RejectsUnschedulableCadence(t *testing.T) {
	svc := newTestService(&fakeProfileRepo{}, &fakeEventRepo{}, newMemLedger(), newFakeSender(), &memNotifRepo{})

	_, err := svc.RunDigest(context.Background(), digest.CadenceNone)
	assert.Error(t, err)
}

func TestRunDigest_TransientFailureRecoversWithinRun(t *testing.T) {
	pr := &fakeProfileRepo{profiles: []*profile.PreferenceProfile{dailyProfile(1, 3)}}
	er := &fakeEventRepo{events: []*event.Event{freeJazzEvent(10)}}
	ledger := newMemLedger()
	sender := newFakeSender()
	sender.transientFail[1] = 2 // succeeds on the third attempt
	svc := newTestService(pr, er, ledger, sender, &memNotifRepo{})

	summary, err := svc.RunDigest(context.Background(), digest.CadenceDaily)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 0, summary.Failed)
}

func TestRunDigest_WeeklyUsesWeeklyGate(t *testing.T) {
	weekly := &profile.PreferenceProfile{
		UserID:            7,
		CategoryWeights:   map[string]float64{"jazz": 2},
		IncludeFreeEvents: true,
		NotifyWeekly:      true,
		DigestCadence:     digest.CadenceWeekly,
		HomeCity:          sql.NullString{String: "South Bend", Valid: true},
	}
	pr := &fakeProfileRepo{profiles: []*profile.PreferenceProfile{weekly}}
	er := &fakeEventRepo{events: []*event.Event{freeJazzEvent(10)}}
	ledger := newMemLedger()
	sender := newFakeSender()
	svc := newTestService(pr, er, ledger, sender, &memNotifRepo{})

	summary, err := svc.RunDigest(context.Background(), digest.CadenceWeekly)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)

	bucket := digest.PeriodBucketFor(digest.CadenceWeekly, time.Now())
	assert.Equal(t, digest.RunStatusSent, ledger.statusOf(7, digest.CadenceWeekly, bucket))
}

func TestRunDigest_DeadlineExpiredBeforeDispatchCountsFailed(t *testing.T) {
	pr := &fakeProfileRepo{profiles: []*profile.PreferenceProfile{dailyProfile(1, 3), dailyProfile(2, 3)}}
	er := &fakeEventRepo{events: []*event.Event{freeJazzEvent(10)}}
	ledger := newMemLedger()
	sender := newFakeSender()
	svc := newTestService(pr, er, ledger, sender, &memNotifRepo{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // run deadline already gone when the users reach dispatch

	summary, err := svc.RunDigest(ctx, digest.CadenceDaily)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 0, summary.Sent)
	assert.Equal(t, 0, summary.Skipped)
	assert.Empty(t, sender.sentTo())

	// Nothing was reserved, so a later run in the same period may still send.
	bucket := digest.PeriodBucketFor(digest.CadenceDaily, time.Now())
	assert.Equal(t, digest.RunStatus(""), ledger.statusOf(1, digest.CadenceDaily, bucket))
	assert.Equal(t, digest.RunStatus(""), ledger.statusOf(2, digest.CadenceDaily, bucket))
}

// cancelOnSendSender kills the run context on first contact, simulating the
// run deadline expiring while a dispatch is in flight.
type cancelOnSendSender struct {
	cancel context.CancelFunc
}

func (s *cancelOnSendSender) SendDigest(context.Context, int64, []delivery.Item) error {
	s.cancel()
	return errors.New("connection reset")
}

func TestRunDigest_CancelMidDispatchFinalizesFailed(t *testing.T) {
	pr := &fakeProfileRepo{profiles: []*profile.PreferenceProfile{dailyProfile(1, 3)}}
	er := &fakeEventRepo{events: []*event.Event{freeJazzEvent(10)}}
	ledger := newMemLedger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newTestService(pr, er, ledger, &cancelOnSendSender{cancel: cancel}, &memNotifRepo{})

	summary, err := svc.RunDigest(ctx, digest.CadenceDaily)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Sent)

	// The reservation was finalized FAILED even though the run context was
	// dead, so the row is eligible for the manual retry, not a stale reclaim.
	bucket := digest.PeriodBucketFor(digest.CadenceDaily, time.Now())
	assert.Equal(t, digest.RunStatusFailed, ledger.statusOf(1, digest.CadenceDaily, bucket))
}

func TestRunDigest_StaleReservationIsReclaimed(t *testing.T) {
	pr := &fakeProfileRepo{profiles: []*profile.PreferenceProfile{dailyProfile(1, 3)}}
	er := &fakeEventRepo{events: []*event.Event{freeJazzEvent(10)}}
	ledger := newMemLedger()
	sender := newFakeSender()
	svc := newTestService(pr, er, ledger, sender, &memNotifRepo{})

	// A crashed run left a PENDING row well past the staleness threshold.
	bucket := digest.PeriodBucketFor(digest.CadenceDaily, time.Now())
	acquired, err := ledger.Reserve(context.Background(), 1, digest.CadenceDaily, bucket, time.Hour)
	require.NoError(t, err)
	require.True(t, acquired)
	ledger.backdate(1, digest.CadenceDaily, bucket, 2*time.Hour)

	summary, err := svc.RunDigest(context.Background(), digest.CadenceDaily)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, digest.RunStatusSent, ledger.statusOf(1, digest.CadenceDaily, bucket))
}

func TestRunDigest_FreshPendingReservationBlocksRedispatch(t *testing.T) {
	pr := &fakeProfileRepo{profiles: []*profile.PreferenceProfile{dailyProfile(1, 3)}}
	er := &fakeEventRepo{events: []*event.Event{freeJazzEvent(10)}}
	ledger := newMemLedger()
	sender := newFakeSender()
	svc := newTestService(pr, er, ledger, sender, &memNotifRepo{})

	// Another run instance holds a live reservation for this user.
	bucket := digest.PeriodBucketFor(digest.CadenceDaily, time.Now())
	acquired, err := ledger.Reserve(context.Background(), 1, digest.CadenceDaily, bucket, time.Hour)
	require.NoError(t, err)
	require.True(t, acquired)

	summary, err := svc.RunDigest(context.Background(), digest.CadenceDaily)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Sent)
	assert.Empty(t, sender.sentTo())
	assert.Equal(t, digest.RunStatusPending, ledger.statusOf(1, digest.CadenceDaily, bucket))
}

func TestLedgerReserve_OnlyStalePendingIsReclaimable(t *testing.T) {
	ledger := newMemLedger()
	ctx := context.Background()
	bucket := "2026-08-29"

	acquired, err := ledger.Reserve(ctx, 1, digest.CadenceDaily, bucket, time.Hour)
	require.NoError(t, err)
	require.True(t, acquired)

	// A fresh PENDING row refuses a second claimant.
	acquired, err = ledger.Reserve(ctx, 1, digest.CadenceDaily, bucket, time.Hour)
	require.NoError(t, err)
	assert.False(t, acquired)

	// Past the staleness threshold the slot opens again.
	ledger.backdate(1, digest.CadenceDaily, bucket, 2*time.Hour)
	acquired, err = ledger.Reserve(ctx, 1, digest.CadenceDaily, bucket, time.Hour)
	require.NoError(t, err)
	assert.True(t, acquired)

	// Terminal rows are never reclaimed, however old.
	require.NoError(t, ledger.Finalize(ctx, 1, digest.CadenceDaily, bucket, digest.RunStatusSent))
	ledger.backdate(1, digest.CadenceDaily, bucket, 48*time.Hour)
	acquired, err = ledger.Reserve(ctx, 1, digest.CadenceDaily, bucket, time.Hour)
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestLedgerReserve_ConcurrentReclaimersGetOneClaim(t *testing.T) {
	ledger := newMemLedger()
	ctx := context.Background()
	bucket := "2026-08-29"

	_, err := ledger.Reserve(ctx, 1, digest.CadenceDaily, bucket, time.Hour)
	require.NoError(t, err)
	ledger.backdate(1, digest.CadenceDaily, bucket, 2*time.Hour)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ledger.Reserve(ctx, 1, digest.CadenceDaily, bucket, time.Hour)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

package app

import (
	"context"
	"testing"
	"time"

	"event_digest_service/internal/domain/digest"
	"event_digest_service/internal/domain/event"
	"event_digest_service/internal/domain/profile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdminService(pr *fakeProfileRepo, er *fakeEventRepo, ledger digest.Ledger, sender *fakeSender, notifRepo digest.NotificationRepository) *AdminService {
	d := NewDispatcher(notifRepo, sender, testLogger())
	d.backoffBase = time.Millisecond
	d.backoffCap = 2 * time.Millisecond
	return NewAdminService(pr, er, ledger, d, NewMatcher(DefaultMatcherConfig()), testLogger(), 30)
}

func TestRetryFailedRuns_RedispatchesFailedUsers(t *testing.T) {
	bucket := "2026-08-29"
	ledger := newMemLedger()
	// Seed two FAILED rows from an earlier run.
	for _, id := range []int64{1, 2} {
		_, err := ledger.Reserve(context.Background(), id, digest.CadenceDaily, bucket, time.Hour)
		require.NoError(t, err)
		require.NoError(t, ledger.Finalize(context.Background(), id, digest.CadenceDaily, bucket, digest.RunStatusFailed))
	}

	pr := &fakeProfileRepo{profiles: []*profile.PreferenceProfile{dailyProfile(1, 3), dailyProfile(2, 3)}}
	er := &fakeEventRepo{events: []*event.Event{freeJazzEvent(10)}}
	sender := newFakeSender()
	svc := newTestAdminService(pr, er, ledger, sender, &memNotifRepo{})

	summary, err := svc.RetryFailedRuns(context.Background(), digest.CadenceDaily, bucket)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.UsersDue)
	assert.Equal(t, 2, summary.Sent)
	assert.Equal(t, digest.RunStatusSent, ledger.statusOf(1, digest.CadenceDaily, bucket))
	assert.Equal(t, digest.RunStatusSent, ledger.statusOf(2, digest.CadenceDaily, bucket))
}

func TestRetryFailedRuns_SkipsDeactivatedProfiles(t *testing.T) {
	bucket := "2026-08-29"
	ledger := newMemLedger()
	_, err := ledger.Reserve(context.Background(), 5, digest.CadenceDaily, bucket, time.Hour)
	require.NoError(t, err)
	require.NoError(t, ledger.Finalize(context.Background(), 5, digest.CadenceDaily, bucket, digest.RunStatusFailed))

	pr := &fakeProfileRepo{} // user 5 no longer active
	er := &fakeEventRepo{events: []*event.Event{freeJazzEvent(10)}}
	sender := newFakeSender()
	svc := newTestAdminService(pr, er, ledger, sender, &memNotifRepo{})

	summary, err := svc.RetryFailedRuns(context.Background(), digest.CadenceDaily, bucket)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, sender.sentTo())
}

func TestRetryFailedRuns_NothingToRetry(t *testing.T) {
	svc := newTestAdminService(&fakeProfileRepo{}, &fakeEventRepo{}, newMemLedger(), newFakeSender(), &memNotifRepo{})

	summary, err := svc.RetryFailedRuns(context.Background(), digest.CadenceWeekly, "2026-W35")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.UsersDue)
}

func TestRetryFailedRuns_PersistentFailureStaysFailed(t *testing.T) {
	bucket := "2026-08-29"
	ledger := newMemLedger()
	_, err := ledger.Reserve(context.Background(), 1, digest.CadenceDaily, bucket, time.Hour)
	require.NoError(t, err)
	require.NoError(t, ledger.Finalize(context.Background(), 1, digest.CadenceDaily, bucket, digest.RunStatusFailed))

	pr := &fakeProfileRepo{profiles: []*profile.PreferenceProfile{dailyProfile(1, 3)}}
	er := &fakeEventRepo{events: []*event.Event{freeJazzEvent(10)}}
	sender := newFakeSender()
	sender.permanentFail[1] = true
	svc := newTestAdminService(pr, er, ledger, sender, &memNotifRepo{})

	summary, err := svc.RetryFailedRuns(context.Background(), digest.CadenceDaily, bucket)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, digest.RunStatusFailed, ledger.statusOf(1, digest.CadenceDaily, bucket))
}

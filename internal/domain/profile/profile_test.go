package profile

import (
	"testing"
	"time"

	"event_digest_service/internal/domain/digest"
)

func TestBucketForTime(t *testing.T) {
	cases := []struct {
		hour int
		want TimeBucket
	}{
		{5, BucketMorning},
		{11, BucketMorning},
		{12, BucketAfternoon},
		{16, BucketAfternoon},
		{17, BucketEvening},
		{21, BucketEvening},
		{22, BucketNight},
		{3, BucketNight},
	}
	for _, tc := range cases {
		at := time.Date(2026, 8, 29, tc.hour, 15, 0, 0, time.UTC)
		if got := BucketForTime(at); got != tc.want {
			t.Errorf("BucketForTime(hour=%d) = %s, want %s", tc.hour, got, tc.want)
		}
	}
}

func TestDueFor(t *testing.T) {
	cases := []struct {
		name    string
		p       PreferenceProfile
		cadence digest.Cadence
		want    bool
	}{
		{
			name:    "daily cadence with matches opt-in",
			p:       PreferenceProfile{DigestCadence: digest.CadenceDaily, NotifyMatches: true},
			cadence: digest.CadenceDaily,
			want:    true,
		},
		{
			name:    "daily cadence without matches opt-in",
			p:       PreferenceProfile{DigestCadence: digest.CadenceDaily, NotifyMatches: false, NotifyNewEvents: true, NotifyWeekly: true},
			cadence: digest.CadenceDaily,
			want:    false,
		},
		{
			name:    "weekly cadence with weekly opt-in",
			p:       PreferenceProfile{DigestCadence: digest.CadenceWeekly, NotifyWeekly: true},
			cadence: digest.CadenceWeekly,
			want:    true,
		},
		{
			name:    "cadence mismatch",
			p:       PreferenceProfile{DigestCadence: digest.CadenceWeekly, NotifyWeekly: true, NotifyMatches: true},
			cadence: digest.CadenceDaily,
			want:    false,
		},
		{
			name:    "cadence NONE is never due",
			p:       PreferenceProfile{DigestCadence: digest.CadenceNone, NotifyMatches: true, NotifyWeekly: true},
			cadence: digest.CadenceDaily,
			want:    false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.p.DueFor(tc.cadence); got != tc.want {
				t.Fatalf("DueFor(%s) = %v, want %v", tc.cadence, got, tc.want)
			}
		})
	}
}

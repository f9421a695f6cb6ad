// internal/domain/profile/profile.go
package profile

import (
	"database/sql"
	"time"

	"event_digest_service/internal/domain/digest"
)

// TimeBucket is a coarse time-of-day preference slot.
type TimeBucket string

const (
	BucketMorning   TimeBucket = "MORNING"   // 05:00–11:59
	BucketAfternoon TimeBucket = "AFTERNOON" // 12:00–16:59
	BucketEvening   TimeBucket = "EVENING"   // 17:00–21:59
	BucketNight     TimeBucket = "NIGHT"     // 22:00–04:59
)

// BucketForTime maps a clock time to its TimeBucket.
func BucketForTime(t time.Time) TimeBucket {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return BucketMorning
	case h >= 12 && h < 17:
		return BucketAfternoon
	case h >= 17 && h < 22:
		return BucketEvening
	default:
		return BucketNight
	}
}

// PreferenceProfile holds one user's matching preferences and digest opt-ins.
// Created with defaults at signup and mutated only through the settings
// surface; this service reads it as a snapshot.
type PreferenceProfile struct {
	UserID            int64
	CategoryWeights   map[string]float64 // category name -> non-negative weight
	Genres            map[string]bool
	PreferredDays     map[time.Weekday]bool
	PreferredTimes    map[TimeBucket]bool
	PriceMaxCents     sql.NullInt64 // absent = no price ceiling
	IncludeFreeEvents bool
	HomeCity          sql.NullString
	NotifyNewEvents   bool
	NotifyMatches     bool
	NotifyWeekly      bool
	DigestCadence     digest.Cadence
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DueFor reports whether this profile is due for a run of the given cadence:
// the stored cadence must match AND the corresponding opt-in flag must be
// set. NotifyNewEvents gates the instant new-event path, not the digest.
func (p *PreferenceProfile) DueFor(cadence digest.Cadence) bool {
	if p.DigestCadence != cadence {
		return false
	}
	switch cadence {
	case digest.CadenceDaily:
		return p.NotifyMatches
	case digest.CadenceWeekly:
		return p.NotifyWeekly
	default:
		return false
	}
}

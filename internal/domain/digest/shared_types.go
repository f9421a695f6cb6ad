// internal/domain/digest/shared_types.go
package digest

// Cadence selects the digest frequency for a user.
type Cadence string

const (
	CadenceNone   Cadence = "NONE"
	CadenceDaily  Cadence = "DAILY"
	CadenceWeekly Cadence = "WEEKLY"
)

// IsSchedulable reports whether the cadence can ever produce a run.
func (c Cadence) IsSchedulable() bool {
	return c == CadenceDaily || c == CadenceWeekly
}

// RunStatus represents the terminal (or in-flight) state of a digest run row.
type RunStatus string

const (
	RunStatusPending RunStatus = "PENDING" // reserved, dispatch outcome unknown yet
	RunStatusSent    RunStatus = "SENT"
	RunStatusFailed  RunStatus = "FAILED"
	RunStatusSkipped RunStatus = "SKIPPED"
)

// MatchScore is the relevance of one event for one user within a single run.
// Computed per run and discarded; only the event IDs survive into the
// notification record.
type MatchScore struct {
	EventID int64
	UserID  int64
	Score   float64
	Reasons []string // ordered contributing signals, for rendering/debugging
}

// RunSummary is what a trigger caller gets back: counts only, never raw
// per-user errors.
type RunSummary struct {
	Cadence      Cadence
	PeriodBucket string
	UsersDue     int
	Sent         int
	Skipped      int
	Failed       int
}

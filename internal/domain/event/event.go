package event

import (
	"time"
)

// Status is the moderation state of an event. Only PUBLISHED events are
// digest candidates.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPublished Status = "PUBLISHED"
	StatusRejected  Status = "REJECTED"
)

// Event is a catalog entry, read-only to this service; the moderation
// pipeline owns its lifecycle.
type Event struct {
	ID         int64
	Title      string
	Categories []string
	Genres     []string
	VenueCity  string
	PriceCents int64 // 0 = free
	StartsAt   time.Time
	Status     Status
	CreatedAt  time.Time
}

// IsFree reports whether the event has no admission price.
func (e *Event) IsFree() bool {
	return e.PriceCents == 0
}

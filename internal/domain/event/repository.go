package event

import (
	"context"
)

// Repository defines the event snapshot read this service consumes.
type Repository interface {
	// ListPublishedUpcoming returns PUBLISHED events starting in the future
	// within the lookahead window, ordered by starts_at.
	ListPublishedUpcoming(ctx context.Context, lookaheadDays int) ([]*Event, error)
}

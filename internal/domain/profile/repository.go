package profile

import (
	"context"

	"event_digest_service/internal/domain/digest"
)

// Repository defines the read operations this service needs over stored
// preference profiles. CRUD lives in the settings service, not here.
type Repository interface {
	// ListOptedIn returns all active profiles whose stored cadence matches
	// and whose corresponding opt-in flag is set.
	ListOptedIn(ctx context.Context, cadence digest.Cadence) ([]*PreferenceProfile, error)

	// GetByUserID fetches a single profile, for the manual retry path.
	GetByUserID(ctx context.Context, userID int64) (*PreferenceProfile, error)
}

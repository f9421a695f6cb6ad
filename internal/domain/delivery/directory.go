package delivery

import "context"

// Directory resolves a user ID to a deliverable address. An unknown user is
// a permanent delivery failure, not a transient one.
type Directory interface {
	EmailForUser(ctx context.Context, userID int64) (string, error)
	ChatIDForUser(ctx context.Context, userID int64) (int64, error)
}

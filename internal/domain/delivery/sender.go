// internal/domain/delivery/sender.go
package delivery

import (
	"context"
	"errors"

	"event_digest_service/internal/domain/event"
)

// Item is one ranked entry of an outbound digest: the event plus the score
// and reasons the matcher produced for it.
type Item struct {
	Event   *event.Event
	Score   float64
	Reasons []string
}

// Sender delivers a digest to one user. Implementations decide the transport
// (Telegram, email); the dispatcher only cares about success and whether a
// failure is worth retrying.
type Sender interface {
	SendDigest(ctx context.Context, userID int64, items []Item) error
}

// PermanentError marks a delivery failure that retrying cannot fix
// (invalid recipient, permanent rejection by the provider).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent delivery failure: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so IsPermanent recognizes it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is a non-retryable delivery failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

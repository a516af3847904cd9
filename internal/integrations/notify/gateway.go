package notify

import (
	"context"
	"errors"

	"github.com/BearBump/SafeZone/internal/models"
)

// Gateway sends one notification to one address. It never retries.
type Gateway interface {
	Channel() models.Channel
	Send(ctx context.Context, address, subject, body string) (messageID string, err error)
}

// Error carries the transient/permanent classification of a failed send.
type Error struct {
	Permanent bool
	Err       error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Permanent: true, Err: err}
}

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Err: err}
}

// IsTransient reports whether a send error is worth retrying later.
// Unclassified errors count as transient unless they are context cancellations.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ne *Error
	if errors.As(err, &ne) {
		return !ne.Permanent
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

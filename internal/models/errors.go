package models

import "github.com/pkg/errors"

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNoContacts       = errors.New("no emergency contacts")
	ErrNotFound         = errors.New("not found")
	ErrInvalidState     = errors.New("invalid state")
	ErrConflict         = errors.New("version conflict")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// StoreError passes domain errors through and tags anything else as
// ErrStoreUnavailable, keeping the original message.
func StoreError(err error, op string) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrNotFound, ErrConflict, ErrInvalidInput, ErrInvalidState, ErrStoreUnavailable} {
		if errors.Is(err, known) {
			return errors.Wrap(err, op)
		}
	}
	return errors.Wrapf(ErrStoreUnavailable, "%s: %v", op, err)
}

package coordinator

import (
	"errors"
)

// ErrNotReady is returned when the startup refresh fails.
// No cached state exists yet, so the entry cannot be set up.
var ErrNotReady = errors.New("coordinator not ready")

// UpdateFailedError wraps any failure from a single refresh.
// Its message is the original error text.
type UpdateFailedError struct {
	Err error
}

func (e *UpdateFailedError) Error() string {
	return e.Err.Error()
}

func (e *UpdateFailedError) Unwrap() error {
	return e.Err
}

// IsUpdateFailed reports whether err came from a failed refresh
func IsUpdateFailed(err error) bool {
	var updateErr *UpdateFailedError
	return errors.As(err, &updateErr)
}

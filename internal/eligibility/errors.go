package eligibility

import "errors"

var (
	// ErrNilStateStore is returned when the engine has no user-state store.
	ErrNilStateStore = errors.New("user state store is nil")
	// ErrInvalidLocation is returned for an unknown display location.
	ErrInvalidLocation = errors.New("invalid display location")
	// ErrMissingUser is returned when a per-user write has no user ID.
	ErrMissingUser = errors.New("user id required")
)

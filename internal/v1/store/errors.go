package store

import "errors"

// Sentinel errors shared by every Store implementation. Callers branch with
// errors.Is, never on error strings.
var (
	// ErrNotFound means the row does not exist or is not visible (deleted).
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateJoinCode means another session already holds the code.
	ErrDuplicateJoinCode = errors.New("store: join code already in use")

	// ErrDuplicateThought means the author already has a live thought for
	// this prompt use.
	ErrDuplicateThought = errors.New("store: thought already submitted for this prompt")

	// ErrNotActive means the session has already been completed.
	ErrNotActive = errors.New("store: session is not active")

	// ErrForbidden means the caller does not own the row it tried to change.
	ErrForbidden = errors.New("store: operation not permitted")
)

// IsNotFound reports whether err is the missing-row sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is one of the uniqueness sentinels.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateJoinCode) || errors.Is(err, ErrDuplicateThought)
}

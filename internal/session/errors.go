package session

import "errors"

// Sentinel errors for session establishment.
var (
	// ErrNoProvider is returned when no compatible signer is configured or reachable.
	ErrNoProvider = errors.New("no wallet provider")

	// ErrUserRejected is returned when the user denies account access or signing.
	ErrUserRejected = errors.New("user rejected request")
)

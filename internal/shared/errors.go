package shared

import "errors"

var (
	// ErrSessionNotFound indicates the bearer token has no session record.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionInvalid indicates a session record that cannot be decoded.
	ErrSessionInvalid = errors.New("session record invalid")
)

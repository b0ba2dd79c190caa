package auth

import "errors"

// Sentinel kinds for token errors.
var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrEmptySecret  = errors.New("empty signing secret")
)

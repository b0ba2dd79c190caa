package wallet

import "errors"

// Sentinel kinds for wallet errors.
var (
	ErrNotFound        = errors.New("wallet not found")
	ErrInvalidPassword = errors.New("invalid password")
	ErrExists          = errors.New("wallet already exists")
)

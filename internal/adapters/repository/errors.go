package repository

import "errors"

// Sentinel kinds for ledger errors. Unknown accounts and bad units use
// model.ErrNotFound and model.ErrInvalidArgument.
var (
	ErrUnknownBackend = errors.New("unknown ledger backend")
	ErrOverflow       = errors.New("balance overflow")
)

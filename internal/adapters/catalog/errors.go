package catalog

import "errors"

// Sentinel kinds for catalog errors.
var (
	ErrUnknownItem = errors.New("unknown item")
	ErrUnavailable = errors.New("catalog unavailable")
)

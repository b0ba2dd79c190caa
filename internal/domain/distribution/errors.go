package distribution

import "errors"

// ErrNotPersisted marks a round or retry that ran but whose record could not
// be written to the Store. The returned event is still valid.
var ErrNotPersisted = errors.New("distribution not persisted")

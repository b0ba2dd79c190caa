package dedupe

import "time"

// Option applies a configuration option to the InMemoryDeduper.
type Option func(*inMemoryDeduper)

// WithMaxSize sets the maximum number of keys to keep in memory.
// If maxSize > 0 the oldest key is evicted when full.
// If maxSize <= 0 the deduper is unbounded.
func WithMaxSize(maxSize int) Option {
	return func(d *inMemoryDeduper) {
		d.maxSize = maxSize
	}
}

// WithWindow sets the cooldown after which a key may be recorded again.
// A zero window keeps keys until evicted or unrecorded.
func WithWindow(window time.Duration) Option {
	return func(d *inMemoryDeduper) {
		if window >= 0 {
			d.window = window
		}
	}
}

// WithClock overrides the time source. Useful in tests.
func WithClock(now func() time.Time) Option {
	return func(d *inMemoryDeduper) {
		if now != nil {
			d.now = now
		}
	}
}

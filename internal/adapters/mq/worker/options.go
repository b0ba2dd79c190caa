package worker

import (
	"time"

	"github.com/okian/greenpoints/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithRetry sets how many times a failed disbursement is retried and the
// first backoff interval.
func WithRetry(maxRetries int, initialInterval time.Duration) Option {
	return func(w *InMemoryWorker) {
		if maxRetries >= 0 {
			w.maxRetries = uint64(maxRetries)
		}
		if initialInterval > 0 {
			w.initialInterval = initialInterval
		}
	}
}

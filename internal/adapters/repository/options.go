package repository

import "time"

type options struct {
	shardCount            int
	metricsUpdateInterval time.Duration
	now                   func() time.Time
}

func defaultOptions() options {
	return options{
		shardCount:            8,
		metricsUpdateInterval: 5 * time.Second,
		now:                   time.Now,
	}
}

// Option applies a configuration option to a Ledger.
type Option func(*options)

// WithShardCount sets the number of shards used by the memory ledger.
func WithShardCount(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.shardCount = n
		}
	}
}

// WithMetricsUpdateInterval sets the interval for background metrics updates.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.metricsUpdateInterval = interval
		}
	}
}

// WithClock overrides the time source stamped on sqlite rows.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

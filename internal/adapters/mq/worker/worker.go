// Package worker runs the payout workers that disburse distribution
// allocations taken off the payout queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/greenpoints/internal/domain/model"
	"github.com/okian/greenpoints/pkg/logger"
	"github.com/okian/greenpoints/pkg/metrics"
)

const (
	defaultMaxRetries      = 2
	defaultInitialInterval = 50 * time.Millisecond
	defaultMaxInterval     = time.Second
	poolShutdownTimeout    = 30 * time.Second
)

// Job is what workers read off the queue.
type Job = model.PayoutJob

// Disburser pays units to an account and returns a transaction reference.
type Disburser interface {
	Disburse(ctx context.Context, accountID string, units int64) (string, error)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Job
}

// Worker processes payout jobs.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue closes.
	Run(ctx context.Context)

	// Shutdown stops the worker after the job in flight.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue     Queue
	disburser Disburser
	name      string

	maxRetries      uint64
	initialInterval time.Duration

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, disburser Disburser, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:           queue,
		disburser:       disburser,
		name:            "payout-worker",
		maxRetries:      defaultMaxRetries,
		initialInterval: defaultInitialInterval,
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
		logger:          logger.Get().Named("payout-worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run implements Worker.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			w.process(ctx, job)
		}
	}
}

// Shutdown implements Worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out", logger.String("worker", w.name))
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process disburses one job, retrying transient failures with exponential
// backoff, and always reports exactly one result.
func (w *InMemoryWorker) process(ctx context.Context, job Job) {
	start := time.Now()

	attempts := 0
	var txRef string
	op := func() error {
		if job.IsAbandoned() {
			return backoff.Permanent(model.ErrPayoutAbandoned)
		}
		attempts++
		ref, err := w.disburser.Disburse(ctx, job.AccountID, job.Units)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			return err
		}
		txRef = ref
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = w.initialInterval
	eb.MaxInterval = defaultMaxInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, w.maxRetries), ctx)

	err := backoff.Retry(op, policy)
	latency := float64(time.Since(start).Milliseconds())

	res := model.PayoutResult{AccountID: job.AccountID, Units: job.Units, TxRef: txRef, Attempts: attempts}
	switch {
	case errors.Is(err, model.ErrPayoutAbandoned):
		res.Err = fmt.Errorf("%w: %s: %w", model.ErrDisbursement, job.AccountID, err)
		metrics.RecordDisbursement("abandoned", latency)
		w.logger.Debug(ctx, "disbursement abandoned",
			logger.String("event", job.EventID),
			logger.String("account", job.AccountID),
			logger.Int("attempts", attempts),
		)
	case err != nil:
		res.Err = fmt.Errorf("%w: %s: %w", model.ErrDisbursement, job.AccountID, err)
		metrics.RecordDisbursement("failed", latency)
		w.logger.Warn(ctx, "disbursement failed",
			logger.String("event", job.EventID),
			logger.String("account", job.AccountID),
			logger.Int64("units", job.Units),
			logger.Int("attempts", attempts),
			logger.Error(err),
		)
	default:
		metrics.RecordDisbursement("ok", latency)
	}

	if job.Result != nil {
		job.Result <- res
	}
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger

	mu      sync.Mutex
	started bool
}

// NewPool creates a pool of workerCount workers sharing queue and disburser.
func NewPool(workerCount int, queue Queue, disburser Disburser, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue,
		logger:  logger.Get().Named("payout-pool"),
	}
	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{WithName("payout-worker-" + strconv.Itoa(i))}, opts...)
		p.workers[i] = NewInMemoryWorker(queue, disburser, workerOpts...)
	}
	metrics.UpdatePayoutWorkers(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue and waits for every worker to stop.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var firstErr error
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			if firstErr == nil {
				firstErr = shutdownCtx.Err()
			}
		}
	}
	metrics.UpdatePayoutWorkers(0)
	return firstErr
}

// Package queue carries payout jobs from the distributor to the payout workers.
package queue

import (
	"context"
	"sync"

	"github.com/okian/greenpoints/internal/domain/model"
	"github.com/okian/greenpoints/pkg/metrics"
)

const defaultQueueCapacity = 1024

// Job is the payload flowing through the queue.
type Job = model.PayoutJob

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a job to the queue.
	// Returns ErrFull or ErrClosed if the job was not enqueued.
	Enqueue(ctx context.Context, j Job) error

	// Dequeue returns a channel that receives jobs as they become available.
	// The channel is closed when the queue is closed or ctx is done.
	Dequeue(ctx context.Context) <-chan Job

	// Len returns the current number of queued jobs.
	Len(ctx context.Context) int

	// Close stops accepting jobs and closes the dequeue channels once drained.
	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	jobs     chan Job
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.jobs = make(chan Job, q.capacity)
	metrics.UpdatePayoutQueueSize(0)
	return q
}

// Enqueue implements Queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, j Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}

	select {
	case q.jobs <- j:
		metrics.UpdatePayoutQueueSize(len(q.jobs))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrFull
	}
}

// EnqueueWait is Enqueue with backpressure: it blocks while the queue is full
// until the job is accepted or ctx is done.
func (q *InMemoryQueue) EnqueueWait(ctx context.Context, j Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}

	select {
	case q.jobs <- j:
		metrics.UpdatePayoutQueueSize(len(q.jobs))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue implements Queue.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Job {
	out := make(chan Job)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case j, ok := <-q.jobs:
				if !ok {
					return
				}
				metrics.UpdatePayoutQueueSize(len(q.jobs))
				select {
				case out <- j:
				case <-ctx.Done():
					// The job was taken off the queue but never handed out.
					if j.Result != nil {
						j.Result <- model.PayoutResult{AccountID: j.AccountID, Units: j.Units, Err: ctx.Err()}
					}
					return
				}
			}
		}
	}()
	return out
}

// Len implements Queue.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return len(q.jobs)
}

// Close implements Queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.jobs)
	q.closed = true
	return nil
}

// IsClosed implements Queue.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/greenpoints/internal/domain/model"
)

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if err := q.Enqueue(ctx, model.PayoutJob{EventID: "evt", AccountID: "alice", Units: 3}); err != nil {
		t.Fatalf("expected enqueue to succeed: %v", err)
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	job := <-q.Dequeue(ctx)
	if job.AccountID != "alice" || job.Units != 3 {
		t.Errorf("unexpected job %+v", job)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := q.Enqueue(ctx, model.PayoutJob{AccountID: id, Units: 1}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	if err := q.Enqueue(ctx, model.PayoutJob{AccountID: "c", Units: 1}); !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull, got %v", err)
	}
}

func TestInMemoryQueue_Close(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	if err := q.Enqueue(ctx, model.PayoutJob{AccountID: "a", Units: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second close should be a no-op: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to report closed")
	}
	if err := q.Enqueue(ctx, model.PayoutJob{AccountID: "b", Units: 1}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	// Pending jobs are still delivered, then the channel closes.
	ch := q.Dequeue(ctx)
	if job, ok := <-ch; !ok || job.AccountID != "a" {
		t.Errorf("expected pending job, got %+v ok=%v", job, ok)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Error("dequeue channel not closed")
	}
}

func TestInMemoryQueue_CancelledEnqueue(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A cancelled context either wins the select or the job fits; both are
	// valid, but a full queue must never block.
	_ = q.Enqueue(ctx, model.PayoutJob{AccountID: "a", Units: 1})
	done := make(chan struct{})
	go func() {
		_ = q.Enqueue(ctx, model.PayoutJob{AccountID: "b", Units: 1})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked")
	}
}

func TestInMemoryQueue_DequeueStopsOnContext(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	ch := q.Dequeue(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected no job")
		}
	case <-time.After(time.Second):
		t.Error("dequeue channel not closed after cancel")
	}
}

func TestInMemoryQueue_EnqueueWait(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	ctx := context.Background()

	if err := q.EnqueueWait(ctx, model.PayoutJob{AccountID: "a"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- q.EnqueueWait(ctx, model.PayoutJob{AccountID: "b"}) }()

	select {
	case err := <-done:
		t.Fatalf("enqueue on a full queue returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	jobs := q.Dequeue(dctx)
	if j := <-jobs; j.AccountID != "a" {
		t.Fatalf("expected a, got %s", j.AccountID)
	}
	if err := <-done; err != nil {
		t.Fatalf("blocked enqueue: %v", err)
	}
	if j := <-jobs; j.AccountID != "b" {
		t.Fatalf("expected b, got %s", j.AccountID)
	}

	tctx, tcancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer tcancel()
	full := NewInMemoryQueue(WithCapacity(1))
	_ = full.Enqueue(ctx, model.PayoutJob{AccountID: "x"})
	if err := full.EnqueueWait(tctx, model.PayoutJob{AccountID: "y"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

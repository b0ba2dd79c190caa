// Package dedupe tracks recently seen submission keys so that an identical
// proof cannot be credited twice within a cooldown window.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Deduper records seen keys to ensure at-most-once crediting per window.
type Deduper interface {
	// SeenAndRecord atomically checks if key was seen within the window and
	// records it if not. Returns true if key is a duplicate.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord removes a key so it can be submitted again. Used when a key was
	// recorded but the credit that followed failed.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

// node is an entry in the insertion-ordered list; head is newest, tail oldest.
type node struct {
	key        string
	recordedAt time.Time
	prev, next *node
}

func (n *node) reset() {
	n.key = ""
	n.recordedAt = time.Time{}
	n.prev, n.next = nil, nil
}

// inMemoryDeduper keeps keys in a map plus a doubly linked list ordered by
// record time. Expired keys are treated as unseen and pruned from the tail.
// When maxSize > 0 the oldest key is evicted to make room.
type inMemoryDeduper struct {
	mu       sync.Mutex
	seen     map[string]*node
	head     *node
	tail     *node
	window   time.Duration // 0 = keys never expire
	maxSize  int           // 0 or negative = unbounded
	now      func() time.Time
	size     atomic.Int64
	nodePool sync.Pool
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		window:  time.Hour,
		maxSize: 100_000,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]*node)
	d.nodePool = sync.Pool{New: func() interface{} { return &node{} }}
	return d
}

// SeenAndRecord implements Deduper.
func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.pruneExpired(now)

	if _, exists := d.seen[key]; exists {
		return true
	}

	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.remove(d.tail)
	}

	n := d.nodePool.Get().(*node)
	n.key = key
	n.recordedAt = now
	n.next = d.head
	if d.head != nil {
		d.head.prev = n
	}
	d.head = n
	if d.tail == nil {
		d.tail = n
	}
	d.seen[key] = n
	d.size.Add(1)
	return false
}

// Unrecord implements Deduper.
func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, exists := d.seen[key]; exists {
		d.remove(n)
	}
}

// pruneExpired drops keys older than the window, oldest first.
// Must be called with d.mu held.
func (d *inMemoryDeduper) pruneExpired(now time.Time) {
	if d.window <= 0 {
		return
	}
	for d.tail != nil && now.Sub(d.tail.recordedAt) >= d.window {
		d.remove(d.tail)
	}
}

// remove unlinks n. Must be called with d.mu held.
func (d *inMemoryDeduper) remove(n *node) {
	if n == nil {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		d.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		d.tail = n.prev
	}
	delete(d.seen, n.key)
	n.reset()
	d.nodePool.Put(n)
	d.size.Add(-1)
}

// Size returns the number of keys currently tracked, including expired keys
// not yet pruned.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}

// Key builds the dedupe key for a submission.
func Key(accountID, itemReference, proofDigest string) string {
	return accountID + "|" + itemReference + "|" + proofDigest
}

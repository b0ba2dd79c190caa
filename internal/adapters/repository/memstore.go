package repository

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/okian/greenpoints/internal/domain/model"
	"github.com/okian/greenpoints/pkg/metrics"
)

// shard owns a slice of the account space. An account's submissions live on
// the same shard as its balance so both change under one lock.
type shard struct {
	mu          sync.Mutex
	balances    map[string]int64
	submissions map[string][]model.Submission // oldest first
	seen        map[string]struct{}           // submission ids
}

// MemoryLedger is an in-memory Ledger. Accounts are hashed onto shards, each
// guarded by its own mutex, so credits to different accounts rarely contend.
// Whole-ledger operations lock every shard in index order.
type MemoryLedger struct {
	shards []*shard

	eventsMu sync.Mutex
	events   map[string]model.DistributionEvent

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	interval time.Duration
}

// NewMemoryLedger constructs a sharded in-memory ledger and starts its
// background metrics updater, which stops on ctx cancellation or Close.
func NewMemoryLedger(ctx context.Context, opts ...Option) *MemoryLedger {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	l := &MemoryLedger{
		shards:   make([]*shard, o.shardCount),
		events:   make(map[string]model.DistributionEvent),
		stopChan: make(chan struct{}),
		interval: o.metricsUpdateInterval,
	}
	for i := range l.shards {
		l.shards[i] = &shard{
			balances:    make(map[string]int64),
			submissions: make(map[string][]model.Submission),
			seen:        make(map[string]struct{}),
		}
	}

	l.startMetricsUpdater(ctx)
	return l
}

func (l *MemoryLedger) shardFor(accountID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(accountID))
	return l.shards[h.Sum32()%uint32(len(l.shards))]
}

func (l *MemoryLedger) lockAll() {
	for _, s := range l.shards {
		s.mu.Lock()
	}
}

func (l *MemoryLedger) unlockAll() {
	for i := len(l.shards) - 1; i >= 0; i-- {
		l.shards[i].mu.Unlock()
	}
}

// Register implements Ledger.
func (l *MemoryLedger) Register(_ context.Context, accountID string) error {
	if accountID == "" {
		return fmt.Errorf("register: empty account id: %w", model.ErrInvalidArgument)
	}
	s := l.shardFor(accountID)
	s.mu.Lock()
	if _, ok := s.balances[accountID]; !ok {
		s.balances[accountID] = 0
	}
	s.mu.Unlock()
	return nil
}

// Credit implements Ledger.
func (l *MemoryLedger) Credit(_ context.Context, accountID string, units int64) (int64, error) {
	start := time.Now()
	defer func() {
		metrics.RecordLedgerLatency("credit", float64(time.Since(start).Microseconds())/1000)
	}()

	if accountID == "" {
		return 0, fmt.Errorf("credit: empty account id: %w", model.ErrInvalidArgument)
	}
	if units <= 0 {
		return 0, fmt.Errorf("credit %d units: %w", units, model.ErrInvalidArgument)
	}

	s := l.shardFor(accountID)
	s.mu.Lock()
	defer s.mu.Unlock()

	bal := s.balances[accountID]
	if bal > math.MaxInt64-units {
		return bal, fmt.Errorf("credit %s: %w", accountID, ErrOverflow)
	}
	bal += units
	s.balances[accountID] = bal
	return bal, nil
}

// CreditSubmission implements Ledger.
func (l *MemoryLedger) CreditSubmission(_ context.Context, sub model.Submission) (model.Submission, error) {
	start := time.Now()
	defer func() {
		metrics.RecordLedgerLatency("credit_submission", float64(time.Since(start).Microseconds())/1000)
	}()

	if err := validSubmission(sub); err != nil {
		return model.Submission{}, err
	}

	s := l.shardFor(sub.AccountID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[sub.ID]; ok {
		return model.Submission{}, fmt.Errorf("submission %s: %w", sub.ID, model.ErrDuplicateSubmission)
	}
	bal := s.balances[sub.AccountID]
	if bal > math.MaxInt64-sub.AwardedUnits {
		return model.Submission{}, fmt.Errorf("credit %s: %w", sub.AccountID, ErrOverflow)
	}
	sub.Balance = bal + sub.AwardedUnits
	s.balances[sub.AccountID] = sub.Balance
	s.submissions[sub.AccountID] = append(s.submissions[sub.AccountID], sub)
	s.seen[sub.ID] = struct{}{}
	return sub, nil
}

// Submissions implements Ledger.
func (l *MemoryLedger) Submissions(_ context.Context, accountID string, limit int) ([]model.Submission, error) {
	s := l.shardFor(accountID)
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.submissions[accountID]
	n := len(subs)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]model.Submission, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, subs[i])
	}
	return out, nil
}

// SaveDistribution implements Ledger.
func (l *MemoryLedger) SaveDistribution(_ context.Context, evt model.DistributionEvent) error {
	if evt.ID == "" {
		return fmt.Errorf("save distribution: empty id: %w", model.ErrInvalidArgument)
	}
	l.eventsMu.Lock()
	l.events[evt.ID] = evt.Clone()
	l.eventsMu.Unlock()
	return nil
}

// LoadDistributions implements Ledger.
func (l *MemoryLedger) LoadDistributions(_ context.Context, limit int) ([]model.DistributionEvent, error) {
	l.eventsMu.Lock()
	out := make([]model.DistributionEvent, 0, len(l.events))
	for _, evt := range l.events {
		out = append(out, evt.Clone())
	}
	l.eventsMu.Unlock()

	newestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Balance implements Ledger.
func (l *MemoryLedger) Balance(_ context.Context, accountID string) (int64, error) {
	s := l.shardFor(accountID)
	s.mu.Lock()
	bal, ok := s.balances[accountID]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("account %s: %w", accountID, model.ErrNotFound)
	}
	return bal, nil
}

// SnapshotAll implements Ledger.
func (l *MemoryLedger) SnapshotAll(_ context.Context) (map[string]int64, error) {
	l.lockAll()
	defer l.unlockAll()
	return l.copyLocked(), nil
}

// ResetAll implements Ledger.
func (l *MemoryLedger) ResetAll(_ context.Context, accountIDs []string) error {
	l.lockAll()
	defer l.unlockAll()
	for _, id := range accountIDs {
		s := l.shardFor(id)
		if _, ok := s.balances[id]; ok {
			s.balances[id] = 0
		}
	}
	return nil
}

// Drain implements Ledger.
func (l *MemoryLedger) Drain(_ context.Context) (map[string]int64, error) {
	start := time.Now()
	defer func() {
		metrics.RecordLedgerLatency("drain", float64(time.Since(start).Microseconds())/1000)
	}()

	l.lockAll()
	defer l.unlockAll()
	snap := l.copyLocked()
	for _, s := range l.shards {
		for id := range s.balances {
			s.balances[id] = 0
		}
	}
	return snap, nil
}

// copyLocked must be called with every shard locked.
func (l *MemoryLedger) copyLocked() map[string]int64 {
	n := 0
	for _, s := range l.shards {
		n += len(s.balances)
	}
	out := make(map[string]int64, n)
	for _, s := range l.shards {
		for id, bal := range s.balances {
			out[id] = bal
		}
	}
	return out
}

// Count implements Ledger.
func (l *MemoryLedger) Count(_ context.Context) int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.balances)
		s.mu.Unlock()
	}
	return n
}

// Close stops the metrics updater.
func (l *MemoryLedger) Close() error {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()
	return nil
}

func (l *MemoryLedger) startMetricsUpdater(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopChan:
				return
			case <-ticker.C:
				metrics.UpdateLedgerAccounts(l.Count(ctx))
			}
		}
	}()
}

// Package distribution splits a fixed reward pool across accounts in
// proportion to their accrued balances and hands the allocations to the
// payout workers.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/greenpoints/internal/domain/model"
)

const defaultHistoryLimit = 100

// Ledger is the part of the account ledger the distributor needs.
type Ledger interface {
	// Drain snapshots and zeroes every balance atomically.
	Drain(ctx context.Context) (map[string]int64, error)
	// Credit is used to restore a drained snapshot when the split fails.
	Credit(ctx context.Context, accountID string, units int64) (int64, error)
}

// Payouts accepts disbursement jobs; the payout worker pool consumes them.
type Payouts interface {
	Enqueue(ctx context.Context, job model.PayoutJob) error
}

// Store persists distribution events.
type Store interface {
	// SaveDistribution inserts or replaces the event with the same ID.
	SaveDistribution(ctx context.Context, evt model.DistributionEvent) error
	// LoadDistributions returns up to limit events, newest first.
	LoadDistributions(ctx context.Context, limit int) ([]model.DistributionEvent, error)
}

// Distributor runs distribution rounds. Rounds and retries are serialized.
//
// A round's disbursements are waited on until its context ends. Jobs that
// have not started by then are abandoned by the workers and come back
// failed; jobs already running stay Pending until their result arrives in
// the background. Pending entries are never re-sent by RetryFailed.
type Distributor struct {
	ledger  Ledger
	payouts Payouts
	store   Store
	onError func(error)
	now     func() time.Time
	limit   int

	runMu  sync.Mutex // one round or retry at a time
	saveMu sync.Mutex // keeps store writes in state order

	mu      sync.RWMutex
	history []*model.DistributionEvent // newest last
	byID    map[string]*model.DistributionEvent

	closed     chan struct{}
	closeOnce  sync.Once
	collectors sync.WaitGroup
}

// Option configures a Distributor.
type Option func(*Distributor)

// WithHistoryLimit bounds how many past events are kept in memory.
func WithHistoryLimit(n int) Option {
	return func(d *Distributor) {
		if n > 0 {
			d.limit = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Distributor) {
		if now != nil {
			d.now = now
		}
	}
}

// WithStore persists every event change to s.
func WithStore(s Store) Option {
	return func(d *Distributor) { d.store = s }
}

// WithErrorHandler receives errors from background result collection, which
// has no caller to return them to.
func WithErrorHandler(fn func(error)) Option {
	return func(d *Distributor) {
		if fn != nil {
			d.onError = fn
		}
	}
}

// NewDistributor wires a Distributor.
func NewDistributor(ledger Ledger, payouts Payouts, opts ...Option) *Distributor {
	d := &Distributor{
		ledger:  ledger,
		payouts: payouts,
		onError: func(error) {},
		now:     time.Now,
		limit:   defaultHistoryLimit,
		byID:    make(map[string]*model.DistributionEvent),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Load replaces the in-memory history with the newest events in the store.
func (d *Distributor) Load(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	evts, err := d.store.LoadDistributions(ctx, d.limit)
	if err != nil {
		return fmt.Errorf("load distributions: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = make([]*model.DistributionEvent, 0, len(evts))
	d.byID = make(map[string]*model.DistributionEvent, len(evts))
	for i := len(evts) - 1; i >= 0; i-- {
		evt := evts[i].Clone()
		d.history = append(d.history, &evt)
		d.byID[evt.ID] = &evt
	}
	return nil
}

// Close stops collecting late payout results and waits for the collectors
// to exit. Entries still in flight stay Pending.
func (d *Distributor) Close() {
	d.closeOnce.Do(func() { close(d.closed) })
	d.collectors.Wait()
}

// Distribute drains the ledger, splits pool across every account with a
// positive balance and disburses the allocations. Disbursement failures are
// recorded on the returned event and do not undo the round; RetryFailed
// re-sends them. An all-zero ledger returns model.ErrNoEligibleAccounts.
//
// The event is stored before any payout is sent. If that write fails the
// drained balances are restored and nothing is paid. A failure to store a
// later update returns the event together with ErrNotPersisted.
func (d *Distributor) Distribute(ctx context.Context, pool int64) (model.DistributionEvent, error) {
	if pool <= 0 {
		return model.DistributionEvent{}, fmt.Errorf("pool %d: %w", pool, model.ErrInvalidArgument)
	}

	d.runMu.Lock()
	defer d.runMu.Unlock()

	started := d.now().UTC()
	snapshot, err := d.ledger.Drain(ctx)
	if err != nil {
		return model.DistributionEvent{}, fmt.Errorf("drain ledger: %w", err)
	}

	alloc, err := Split(snapshot, pool)
	if err != nil {
		if !errors.Is(err, model.ErrNoEligibleAccounts) {
			err = d.restoreOnError(ctx, snapshot, err)
		}
		return model.DistributionEvent{}, err
	}

	evt := &model.DistributionEvent{
		ID:            uuid.NewString(),
		PoolSize:      pool,
		Snapshot:      snapshot,
		Allocation:    alloc,
		Disbursements: make(map[string]model.Disbursement, len(alloc)),
		StartedAt:     started,
	}
	jobs := make([]model.Disbursement, 0, len(alloc))
	for id, units := range alloc {
		if units > 0 {
			e := model.Disbursement{AccountID: id, Units: units, Pending: true}
			evt.Disbursements[id] = e
			jobs = append(jobs, e)
		}
	}

	if err := d.persist(ctx, evt); err != nil {
		return model.DistributionEvent{}, d.restoreOnError(ctx, snapshot, err)
	}
	d.record(evt)

	d.disburse(ctx, evt, jobs)
	return d.finish(ctx, evt)
}

// RetryFailed re-sends the failed disbursements of event id. Entries still
// pending from an earlier call are left alone.
func (d *Distributor) RetryFailed(ctx context.Context, id string) (model.DistributionEvent, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.mu.RLock()
	evt, ok := d.byID[id]
	var failed []model.Disbursement
	if ok {
		failed = evt.Failures()
	}
	d.mu.RUnlock()
	if !ok {
		return model.DistributionEvent{}, fmt.Errorf("distribution %s: %w", id, model.ErrNotFound)
	}
	if len(failed) == 0 {
		return d.Get(id)
	}

	d.disburse(ctx, evt, failed)
	return d.finish(ctx, evt)
}

// disburse enqueues one job per entry and waits for the results. Entries that
// cannot be enqueued fail at once. If ctx ends first the remaining jobs are
// abandoned and a collector settles them as their results arrive.
func (d *Distributor) disburse(ctx context.Context, evt *model.DistributionEvent, entries []model.Disbursement) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].AccountID < entries[j].AccountID })

	results := make(chan model.PayoutResult, len(entries))
	abandon := make(chan struct{})
	pending := 0
	for _, e := range entries {
		e.Err = ""
		e.Pending = true
		job := model.PayoutJob{
			EventID:   evt.ID,
			AccountID: e.AccountID,
			Units:     e.Units,
			Result:    results,
			Abandoned: abandon,
		}
		if err := d.payouts.Enqueue(ctx, job); err != nil {
			e.Pending = false
			e.Err = fmt.Errorf("%w: enqueue: %w", model.ErrDisbursement, err).Error()
		} else {
			pending++
		}
		d.put(evt, e)
	}

	for pending > 0 {
		select {
		case r := <-results:
			pending--
			d.settle(evt, r)
		case <-ctx.Done():
			close(abandon)
			d.collectors.Add(1)
			go d.collect(evt, results, pending)
			return
		case <-d.closed:
			close(abandon)
			return
		}
	}
	close(abandon)
}

// collect settles results that arrive after the caller stopped waiting.
func (d *Distributor) collect(evt *model.DistributionEvent, results <-chan model.PayoutResult, pending int) {
	defer d.collectors.Done()
	ctx := context.Background()
	for pending > 0 {
		select {
		case r := <-results:
			pending--
			d.settle(evt, r)
			if pending == 0 {
				d.mu.Lock()
				evt.CompletedAt = d.now().UTC()
				d.mu.Unlock()
			}
			if err := d.persist(ctx, evt); err != nil {
				d.onError(err)
			}
		case <-d.closed:
			return
		}
	}
}

func (d *Distributor) put(evt *model.DistributionEvent, e model.Disbursement) {
	d.mu.Lock()
	evt.Disbursements[e.AccountID] = e
	d.mu.Unlock()
}

// settle applies a payout result. Attempts accumulate across retries.
func (d *Distributor) settle(evt *model.DistributionEvent, r model.PayoutResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := evt.Disbursements[r.AccountID]
	e.Pending = false
	e.Attempts += r.Attempts
	e.TxRef = r.TxRef
	e.Err = ""
	if r.Err != nil {
		e.Err = r.Err.Error()
	}
	evt.Disbursements[r.AccountID] = e
}

func (d *Distributor) finish(ctx context.Context, evt *model.DistributionEvent) (model.DistributionEvent, error) {
	d.mu.Lock()
	evt.CompletedAt = d.now().UTC()
	d.mu.Unlock()

	err := d.persist(ctx, evt)

	d.mu.RLock()
	out := evt.Clone()
	d.mu.RUnlock()
	return out, err
}

// persist writes the current state of evt. Writes outlive ctx so a round
// whose caller went away is still recorded.
func (d *Distributor) persist(ctx context.Context, evt *model.DistributionEvent) error {
	if d.store == nil {
		return nil
	}
	d.saveMu.Lock()
	defer d.saveMu.Unlock()

	d.mu.RLock()
	snap := evt.Clone()
	d.mu.RUnlock()

	if err := d.store.SaveDistribution(context.WithoutCancel(ctx), snap); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotPersisted, snap.ID, err)
	}
	return nil
}

// restoreOnError credits a drained snapshot back so a failed round loses
// nothing, and returns cause joined with any restore failure.
func (d *Distributor) restoreOnError(ctx context.Context, snapshot map[string]int64, cause error) error {
	var errs []error
	for id, bal := range snapshot {
		if bal <= 0 {
			continue
		}
		if _, err := d.ledger.Credit(context.WithoutCancel(ctx), id, bal); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", id, err))
		}
	}
	return errors.Join(append([]error{cause}, errs...)...)
}

func (d *Distributor) record(evt *model.DistributionEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, evt)
	d.byID[evt.ID] = evt
	for len(d.history) > d.limit {
		delete(d.byID, d.history[0].ID)
		d.history = d.history[1:]
	}
}

// Get returns a recorded event or model.ErrNotFound.
func (d *Distributor) Get(id string) (model.DistributionEvent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	evt, ok := d.byID[id]
	if !ok {
		return model.DistributionEvent{}, fmt.Errorf("distribution %s: %w", id, model.ErrNotFound)
	}
	return evt.Clone(), nil
}

// History returns up to limit events, newest first. limit <= 0 returns all.
func (d *Distributor) History(limit int) []model.DistributionEvent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := len(d.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]model.DistributionEvent, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, d.history[i].Clone())
	}
	return out
}

// Package repository holds the account ledger: each account's accumulated,
// not yet distributed reward units.
package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/okian/greenpoints/internal/domain/model"
)

// Ledger maps account IDs to non-negative balances of reward units.
//
// Credit is atomic per account. SnapshotAll, ResetAll and Drain act on the
// whole ledger at once; Drain snapshots and zeroes in a single critical
// section so no credit is lost between the two. A credit arriving after a
// drain lands in the next round.
type Ledger interface {
	// Register creates the account with balance 0. Registering an existing
	// account is a no-op.
	Register(ctx context.Context, accountID string) error

	// Credit adds units to the account, creating it if absent, and returns the
	// new balance. units must be positive.
	Credit(ctx context.Context, accountID string, units int64) (int64, error)

	// Balance returns the account balance or model.ErrNotFound.
	Balance(ctx context.Context, accountID string) (int64, error)

	// SnapshotAll returns every account's balance, zero balances included.
	SnapshotAll(ctx context.Context) (map[string]int64, error)

	// ResetAll sets the listed accounts to 0 in one atomic step. Credits that
	// land between a prior snapshot and this call are zeroed too; use Drain
	// when that matters.
	ResetAll(ctx context.Context, accountIDs []string) error

	// Drain returns a snapshot of every balance and zeroes them atomically.
	Drain(ctx context.Context) (map[string]int64, error)

	// Count returns the number of accounts.
	Count(ctx context.Context) int

	// CreditSubmission credits sub.AwardedUnits to sub.AccountID and records
	// sub, stamped with the resulting balance, in one atomic step. A
	// submission ID recorded before returns model.ErrDuplicateSubmission and
	// changes nothing.
	CreditSubmission(ctx context.Context, sub model.Submission) (model.Submission, error)

	// Submissions returns the account's recorded submissions, newest first.
	// limit <= 0 returns all. An unknown account has none.
	Submissions(ctx context.Context, accountID string, limit int) ([]model.Submission, error)

	// SaveDistribution inserts or replaces a distribution event.
	SaveDistribution(ctx context.Context, evt model.DistributionEvent) error

	// LoadDistributions returns up to limit events, newest first. limit <= 0
	// returns all.
	LoadDistributions(ctx context.Context, limit int) ([]model.DistributionEvent, error)

	Close() error
}

// Backends accepted by New.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// New opens the ledger for backend. path is only used by the sqlite backend.
func New(ctx context.Context, backend, path string, opts ...Option) (Ledger, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemoryLedger(ctx, opts...), nil
	case BackendSQLite:
		return NewSQLiteLedger(ctx, path, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// validSubmission checks the fields every backend relies on.
func validSubmission(sub model.Submission) error {
	switch {
	case sub.ID == "":
		return fmt.Errorf("submission: empty id: %w", model.ErrInvalidArgument)
	case sub.AccountID == "":
		return fmt.Errorf("submission %s: empty account id: %w", sub.ID, model.ErrInvalidArgument)
	case sub.AwardedUnits <= 0:
		return fmt.Errorf("submission %s: %d units: %w", sub.ID, sub.AwardedUnits, model.ErrInvalidArgument)
	}
	return nil
}

// newestFirst orders events by start time, then id, newest first.
func newestFirst(evts []model.DistributionEvent) {
	sort.Slice(evts, func(i, j int) bool {
		if !evts[i].StartedAt.Equal(evts[j].StartedAt) {
			return evts[i].StartedAt.After(evts[j].StartedAt)
		}
		return evts[i].ID > evts[j].ID
	})
}

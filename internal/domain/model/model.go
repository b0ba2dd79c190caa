// Package model contains domain models passed between layers.
package model

import (
	"sort"
	"time"
)

// Account is a wallet's accrued balance of reward units.
type Account struct {
	ID      string // base58 wallet public key
	Balance int64
}

// Item is a catalog product. Score is its packaging eco-score adjustment;
// a product without one has Score 0.
type Item struct {
	Reference string `json:"reference"`
	Name      string `json:"name"`
	Score     int    `json:"score"`
}

// Submission is an accepted proof of recycling. It is immutable once created.
type Submission struct {
	ID            string
	AccountID     string
	ItemReference string // barcode
	ItemName      string
	ProofDigest   string // hex SHA-256 of the proof bytes
	ExternalScore int    // packaging score reported by the catalog
	AwardedUnits  int64
	Balance       int64 // account balance right after the credit
	CreatedAt     time.Time
}

// Disbursement is the outcome of paying one account's allocation.
type Disbursement struct {
	AccountID string `json:"account_id"`
	Units     int64  `json:"units"`
	TxRef     string `json:"tx_ref,omitempty"`
	Err       string `json:"error,omitempty"`
	Attempts  int    `json:"attempts"`
	// Pending is set while the payout job is in flight and nobody is waiting
	// for its result. The late result settles it; until then it is neither
	// paid nor failed and must not be re-sent.
	Pending bool `json:"pending,omitempty"`
}

// Failed reports whether the last attempt did not succeed.
func (d Disbursement) Failed() bool { return !d.Pending && d.Err != "" }

// DistributionEvent records one distribution round.
type DistributionEvent struct {
	ID            string                  `json:"id"`
	PoolSize      int64                   `json:"pool_size"`
	Snapshot      map[string]int64        `json:"snapshot"`
	Allocation    map[string]int64        `json:"allocation"`
	Disbursements map[string]Disbursement `json:"disbursements"`
	StartedAt     time.Time               `json:"started_at"`
	CompletedAt   time.Time               `json:"completed_at"`
}

// Allocated returns the sum of all allocations.
func (e DistributionEvent) Allocated() int64 {
	var sum int64
	for _, v := range e.Allocation {
		sum += v
	}
	return sum
}

// Failures returns failed disbursements ordered by account id.
func (e DistributionEvent) Failures() []Disbursement {
	var out []Disbursement
	for _, d := range e.Disbursements {
		if d.Failed() {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// Unsettled returns the disbursements still waiting for a result.
func (e DistributionEvent) Unsettled() []Disbursement {
	var out []Disbursement
	for _, d := range e.Disbursements {
		if d.Pending {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// Clone returns a deep copy so callers cannot mutate recorded history.
func (e DistributionEvent) Clone() DistributionEvent {
	c := e
	c.Snapshot = cloneUnits(e.Snapshot)
	c.Allocation = cloneUnits(e.Allocation)
	c.Disbursements = make(map[string]Disbursement, len(e.Disbursements))
	for k, v := range e.Disbursements {
		c.Disbursements[k] = v
	}
	return c
}

func cloneUnits(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

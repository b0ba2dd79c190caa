// Package loadgen drives a running rewards service end to end: it signs up
// wallets, submits proofs concurrently, triggers a distribution and checks
// that the round conserved the pool.
package loadgen

import (
	"errors"
	"time"
)

// ErrVerification is returned when a distribution breaks conservation.
var ErrVerification = errors.New("verification failed")

// Config holds configuration for a load run.
type Config struct {
	BaseURL     string        // Base URL of the service
	Wallets     int           // Number of wallets to sign up
	Submissions int           // Number of proofs to submit
	Barcodes    []string      // Item references to pick from
	Pool        int64         // Units to distribute; 0 uses the server default
	Workers     int           // Number of concurrent submitters
	Timeout     time.Duration // HTTP request timeout
	Seed        int64         // Seed for picking wallets and barcodes
}

// Stats holds run statistics.
type Stats struct {
	WalletsCreated int
	Submitted      int
	Accepted       int
	Duplicate      int
	Rejected       int
	Failed         int
	PointsAwarded  int64
	Pool           int64
	Distributed    int64
	Accounts       int
	StartTime      time.Time
	Duration       time.Duration
}

type credentials struct {
	PublicKey string `json:"pubkey"`
	Password  string `json:"password"`
}

type validateResponse struct {
	PointsAwarded int64 `json:"points_awarded"`
	TotalPoints   int64 `json:"total_points"`
}

type account struct {
	Points        int64 `json:"points"`
	RewardBalance int64 `json:"reward_balance"`
}

type distributionEvent struct {
	ID            string                  `json:"id"`
	PoolSize      int64                   `json:"pool_size"`
	Snapshot      map[string]int64        `json:"snapshot"`
	Allocation    map[string]int64        `json:"allocation"`
	Disbursements map[string]disbursement `json:"disbursements"`
}

type disbursement struct {
	Units int64  `json:"units"`
	TxRef string `json:"tx_ref"`
	Err   string `json:"error"`
}

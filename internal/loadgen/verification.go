package loadgen

import (
	"context"
	"fmt"

	"github.com/okian/greenpoints/pkg/logger"
)

// verify checks that the round allocated exactly the pool and paid every
// allocation. For each of our wallets it checks the drained balance matches
// the points awarded, the reward balance matches the allocation and no points
// remain. Wallets are fresh, so their reward balance is what this round paid.
func verify(ctx context.Context, c *client, evt distributionEvent, wallets []credentials, points map[string]int64) error {
	log := logger.Get().Named("loadgen")

	var sum int64
	for _, units := range evt.Allocation {
		if units < 0 {
			return fmt.Errorf("%w: negative allocation %d", ErrVerification, units)
		}
		sum += units
	}
	if sum != evt.PoolSize {
		return fmt.Errorf("%w: allocated %d of pool %d", ErrVerification, sum, evt.PoolSize)
	}

	for id, d := range evt.Disbursements {
		if d.Err != "" {
			return fmt.Errorf("%w: disbursement to %s failed: %s", ErrVerification, id, d.Err)
		}
	}

	for _, w := range wallets {
		acct, err := c.account(ctx, w.PublicKey)
		if err != nil {
			return fmt.Errorf("read wallet %s: %w", w.PublicKey, err)
		}
		if acct.Points != 0 {
			return fmt.Errorf("%w: %s still holds %d points", ErrVerification, w.PublicKey, acct.Points)
		}
		if want := evt.Allocation[w.PublicKey]; acct.RewardBalance != want {
			return fmt.Errorf("%w: %s reward balance %d, allocated %d", ErrVerification, w.PublicKey, acct.RewardBalance, want)
		}
		if got, want := evt.Snapshot[w.PublicKey], points[w.PublicKey]; got != want {
			return fmt.Errorf("%w: %s drained %d points, awarded %d", ErrVerification, w.PublicKey, got, want)
		}
	}

	log.Info(ctx, "distribution verified",
		logger.Int64("pool", evt.PoolSize),
		logger.Int("accounts", len(evt.Allocation)))
	return nil
}

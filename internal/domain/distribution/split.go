package distribution

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/okian/greenpoints/internal/domain/model"
)

// share is one account's exact proportional share of the pool, kept as an
// integer quotient and remainder of balance*pool / total.
type share struct {
	accountID string
	floor     int64
	rem       *big.Int
}

// Split divides pool across the accounts of snapshot in proportion to their
// balances. Accounts with a zero balance are left out. Every account first
// receives the floor of its exact share; the leftover units go one each to
// the accounts with the largest fractional parts, ties broken by ascending
// account id. The result always sums to pool.
func Split(snapshot map[string]int64, pool int64) (map[string]int64, error) {
	if pool <= 0 {
		return nil, fmt.Errorf("pool %d: %w", pool, model.ErrInvalidArgument)
	}

	total := new(big.Int)
	for id, bal := range snapshot {
		if bal < 0 {
			return nil, fmt.Errorf("account %s has negative balance %d: %w", id, bal, model.ErrInvariant)
		}
		total.Add(total, big.NewInt(bal))
	}
	if total.Sign() == 0 {
		return nil, model.ErrNoEligibleAccounts
	}

	bigPool := big.NewInt(pool)
	shares := make([]share, 0, len(snapshot))
	var distributed int64
	for id, bal := range snapshot {
		if bal == 0 {
			continue
		}
		prod := new(big.Int).Mul(big.NewInt(bal), bigPool)
		q, r := new(big.Int).QuoRem(prod, total, new(big.Int))
		// q <= pool, so it fits.
		s := share{accountID: id, floor: q.Int64(), rem: r}
		distributed += s.floor
		shares = append(shares, s)
	}

	remainder := pool - distributed
	if remainder < 0 || remainder >= int64(len(shares)) {
		return nil, fmt.Errorf("remainder %d for %d accounts: %w", remainder, len(shares), model.ErrInvariant)
	}

	// All fractional parts share the denominator total, so comparing the
	// integer remainders compares the fractions exactly.
	sort.Slice(shares, func(i, j int) bool {
		if c := shares[i].rem.Cmp(shares[j].rem); c != 0 {
			return c > 0
		}
		return shares[i].accountID < shares[j].accountID
	})

	alloc := make(map[string]int64, len(shares))
	var sum int64
	for i, s := range shares {
		units := s.floor
		if int64(i) < remainder {
			units++
		}
		alloc[s.accountID] = units
		sum += units
	}
	if sum != pool {
		return nil, fmt.Errorf("allocated %d of %d: %w", sum, pool, model.ErrInvariant)
	}
	return alloc, nil
}

package model

import "errors"

// Sentinel error kinds shared by the domain. Wrap with fmt.Errorf("...: %w") and
// match with errors.Is.
var (
	ErrAuthentication      = errors.New("authentication failed")
	ErrInvalidItem         = errors.New("invalid item")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNoEligibleAccounts  = errors.New("no eligible accounts")
	ErrDisbursement        = errors.New("disbursement failed")
	ErrDuplicateSubmission = errors.New("duplicate submission")
	ErrInvariant           = errors.New("invariant violated")
	ErrNotFound            = errors.New("not found")
	ErrPayoutAbandoned     = errors.New("payout abandoned before it started")
)

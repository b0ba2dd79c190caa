package model

// PayoutJob asks the payout workers to disburse one allocation. The worker
// sends exactly one PayoutResult on Result, which must be buffered.
//
// Abandoned, when non-nil, is closed once the requester stops waiting. A
// worker that has not started the job yet skips it and reports
// ErrPayoutAbandoned; a job already in progress runs to completion.
type PayoutJob struct {
	EventID   string
	AccountID string
	Units     int64
	Result    chan<- PayoutResult
	Abandoned <-chan struct{}
}

// IsAbandoned reports whether the requester gave up on the job.
func (j PayoutJob) IsAbandoned() bool {
	if j.Abandoned == nil {
		return false
	}
	select {
	case <-j.Abandoned:
		return true
	default:
		return false
	}
}

// PayoutResult reports the outcome of a PayoutJob.
type PayoutResult struct {
	AccountID string
	Units     int64
	TxRef     string
	Err       error
	Attempts  int
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/greenpoints/internal/adapters/http/api"
	"github.com/okian/greenpoints/internal/domain/distribution"
	"github.com/okian/greenpoints/internal/domain/model"
	"github.com/okian/greenpoints/internal/domain/submission"
	"github.com/okian/greenpoints/pkg/logger"
	"github.com/okian/greenpoints/pkg/metrics"
)

// Signup creates a wallet and opens its ledger account at zero.
func (s *Service) Signup(ctx context.Context) (api.Credentials, error) {
	if err := s.running(); err != nil {
		return api.Credentials{}, err
	}
	w, password, err := s.wallets.Create(ctx)
	if err != nil {
		return api.Credentials{}, fmt.Errorf("create wallet: %w", err)
	}
	if err := s.ledger.Register(ctx, w.PublicKey); err != nil {
		return api.Credentials{}, fmt.Errorf("register account: %w", err)
	}
	s.log.Info(ctx, "wallet created", logger.String("account", w.PublicKey))
	return api.Credentials{PublicKey: w.PublicKey, Password: password}, nil
}

// Signin checks the password and issues a session token.
func (s *Service) Signin(ctx context.Context, pubkey, password string) (api.Session, error) {
	if err := s.running(); err != nil {
		return api.Session{}, err
	}
	if err := s.wallets.VerifyPassword(ctx, pubkey, password); err != nil {
		return api.Session{}, fmt.Errorf("signin %s: %w", pubkey, err)
	}
	token, expires, err := s.tokens.Issue(pubkey)
	if err != nil {
		return api.Session{}, fmt.Errorf("issue token: %w", err)
	}
	acct, err := s.Account(ctx, pubkey)
	if err != nil {
		return api.Session{}, err
	}
	return api.Session{Account: acct, Token: token, ExpiresAt: expires}, nil
}

// Account returns a wallet with its accrued points and minted rewards.
func (s *Service) Account(ctx context.Context, pubkey string) (api.Account, error) {
	if err := s.running(); err != nil {
		return api.Account{}, err
	}
	w, err := s.wallets.Get(ctx, pubkey)
	if err != nil {
		return api.Account{}, fmt.Errorf("wallet %s: %w", pubkey, err)
	}
	points, err := s.ledger.Balance(ctx, pubkey)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return api.Account{}, fmt.Errorf("balance %s: %w", pubkey, err)
	}
	return api.Account{
		Wallet:        w.Info(),
		Points:        points,
		RewardBalance: s.minter.BalanceOf(pubkey),
	}, nil
}

// Submit validates a recycling proof and credits its account.
func (s *Service) Submit(ctx context.Context, req submission.Request) (model.Submission, error) {
	if err := s.running(); err != nil {
		return model.Submission{}, err
	}
	sub, err := s.validator.Accept(ctx, req)
	if err != nil {
		reason := rejectReason(err)
		metrics.RecordSubmissionRejected(reason)
		s.log.Debug(ctx, "submission rejected",
			logger.String("account", req.AccountID),
			logger.String("item", req.ItemReference),
			logger.String("reason", reason),
			logger.Error(err),
		)
		return model.Submission{}, err
	}
	metrics.RecordSubmissionAccepted(sub.AwardedUnits)
	s.log.Info(ctx, "submission accepted",
		logger.String("account", sub.AccountID),
		logger.String("item", sub.ItemReference),
		logger.Int("score", sub.ExternalScore),
		logger.Int64("units", sub.AwardedUnits),
		logger.Int64("balance", sub.Balance),
	)
	return sub, nil
}

// Submissions returns the accepted submissions of a wallet, newest first.
func (s *Service) Submissions(ctx context.Context, pubkey string, limit int) ([]model.Submission, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	if _, err := s.wallets.Get(ctx, pubkey); err != nil {
		return nil, fmt.Errorf("wallet %s: %w", pubkey, err)
	}
	subs, err := s.ledger.Submissions(ctx, pubkey, limit)
	if err != nil {
		return nil, fmt.Errorf("submissions %s: %w", pubkey, err)
	}
	return subs, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, model.ErrAuthentication):
		return "authentication"
	case errors.Is(err, model.ErrDuplicateSubmission):
		return "duplicate"
	case errors.Is(err, model.ErrInvalidItem):
		return "invalid_item"
	case errors.Is(err, model.ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "internal"
	}
}

// Distribute runs one round. pool <= 0 uses the configured pool size.
func (s *Service) Distribute(ctx context.Context, pool int64) (model.DistributionEvent, error) {
	if err := s.running(); err != nil {
		return model.DistributionEvent{}, err
	}
	if pool <= 0 {
		pool = s.cfg.PoolSize
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), distributeTimeout)
	defer cancel()

	evt, err := s.distributor.Distribute(dctx, pool)
	switch {
	case errors.Is(err, distribution.ErrNotPersisted) && evt.ID != "":
		// The round ran and paid out; only its record is stale.
		s.log.Error(ctx, "distribution record not saved", logger.String("event", evt.ID), logger.Error(err))
	case errors.Is(err, model.ErrNoEligibleAccounts):
		metrics.RecordDistribution("empty", 0, 0)
		s.log.Info(ctx, "distribution skipped: no eligible accounts", logger.Int64("pool", pool))
		return model.DistributionEvent{}, err
	case err != nil:
		metrics.RecordDistribution("error", 0, 0)
		s.log.Error(ctx, "distribution failed", logger.Int64("pool", pool), logger.Error(err))
		return model.DistributionEvent{}, err
	}

	failures := evt.Failures()
	pending := evt.Unsettled()
	outcome := "ok"
	if len(failures) > 0 || len(pending) > 0 {
		outcome = "partial"
	}
	metrics.RecordDistribution(outcome, evt.Allocated(), len(evt.Allocation))
	s.log.Info(ctx, "distribution completed",
		logger.String("event", evt.ID),
		logger.Int64("pool", evt.PoolSize),
		logger.Int("accounts", len(evt.Allocation)),
		logger.Int("failed", len(failures)),
		logger.Int("pending", len(pending)),
		logger.Duration("took", evt.CompletedAt.Sub(evt.StartedAt)),
	)
	return evt, nil
}

// Distributions returns past rounds, newest first.
func (s *Service) Distributions(limit int) []model.DistributionEvent {
	if s.running() != nil {
		return []model.DistributionEvent{}
	}
	return s.distributor.History(limit)
}

// Distribution returns one past round.
func (s *Service) Distribution(id string) (model.DistributionEvent, error) {
	if err := s.running(); err != nil {
		return model.DistributionEvent{}, err
	}
	return s.distributor.Get(id)
}

// RetryDistribution re-sends the failed disbursements of round id.
func (s *Service) RetryDistribution(ctx context.Context, id string) (model.DistributionEvent, error) {
	if err := s.running(); err != nil {
		return model.DistributionEvent{}, err
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), distributeTimeout)
	defer cancel()

	evt, err := s.distributor.RetryFailed(dctx, id)
	switch {
	case errors.Is(err, distribution.ErrNotPersisted) && evt.ID != "":
		s.log.Error(ctx, "distribution record not saved", logger.String("event", id), logger.Error(err))
	case err != nil:
		return model.DistributionEvent{}, err
	}
	s.log.Info(ctx, "distribution retried",
		logger.String("event", id),
		logger.Int("still_failed", len(evt.Failures())),
		logger.Int("pending", len(evt.Unsettled())),
	)
	return evt, nil
}

// Supply returns the total units minted so far.
func (s *Service) Supply() int64 {
	if s.running() != nil {
		return 0
	}
	return s.minter.Supply()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":        s.started,
		"ledgerBackend":  s.cfg.LedgerBackend,
		"poolSize":       s.cfg.PoolSize,
		"payoutWorkers":  s.cfg.PayoutWorkers,
		"payoutQueueCap": s.cfg.PayoutQueueSize,
	}
	if !s.started {
		return stats
	}

	accounts := s.ledger.Count(ctx)
	queueLen := s.queue.Len(ctx)
	stats["accounts"] = accounts
	stats["payoutQueueLength"] = queueLen
	stats["dedupeKeys"] = s.deduper.Size()
	stats["totalSupply"] = s.minter.Supply()
	stats["distributions"] = len(s.distributor.History(0))
	if last := s.distributor.History(1); len(last) == 1 {
		stats["lastDistribution"] = last[0].CompletedAt.Format(time.RFC3339)
	}

	metrics.UpdateLedgerAccounts(accounts)
	metrics.UpdatePayoutQueueSize(queueLen)
	return stats
}

// Package service wires the ledger, submission validator, distributor and
// payout workers into the rewards service and implements the HTTP API
// dependencies.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/greenpoints/internal/adapters/auth"
	"github.com/okian/greenpoints/internal/adapters/catalog"
	"github.com/okian/greenpoints/internal/adapters/http/api"
	"github.com/okian/greenpoints/internal/adapters/http/swagger"
	payoutqueue "github.com/okian/greenpoints/internal/adapters/mq/queue"
	workerpool "github.com/okian/greenpoints/internal/adapters/mq/worker"
	"github.com/okian/greenpoints/internal/adapters/payout"
	"github.com/okian/greenpoints/internal/adapters/repository"
	"github.com/okian/greenpoints/internal/adapters/wallet"
	"github.com/okian/greenpoints/internal/config"
	"github.com/okian/greenpoints/internal/domain/dedupe"
	"github.com/okian/greenpoints/internal/domain/distribution"
	"github.com/okian/greenpoints/internal/domain/model"
	"github.com/okian/greenpoints/internal/domain/submission"
	"github.com/okian/greenpoints/pkg/logger"
)

// distributeTimeout bounds a round started from a request. The round runs on
// a context detached from the caller so a dropped connection cannot leave
// payouts half-recorded.
const distributeTimeout = 2 * time.Minute

// ErrNotStarted is returned by operations invoked before Start.
var ErrNotStarted = errors.New("service not started")

// Service implements the API dependencies for the rewards system.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config
	log logger.Logger

	// Overrides; nil means build from cfg.
	catalog    submission.Catalog
	minter     *payout.Minter
	walletOpts []wallet.Option
	now        func() time.Time

	// Core components
	ledger      repository.Ledger
	wallets     *wallet.Store
	tokens      *auth.Tokens
	deduper     dedupe.Deduper
	validator   *submission.Validator
	queue       *payoutqueue.InMemoryQueue
	pool        *workerpool.Pool
	distributor *distribution.Distributor

	// State
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the configuration; defaults come from config.New.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithCatalog replaces the configured product catalog.
func WithCatalog(c submission.Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

// WithMinter replaces the process-local minter.
func WithMinter(m *payout.Minter) Option {
	return func(s *Service) { s.minter = m }
}

// WithWalletOptions passes options to the wallet store.
func WithWalletOptions(opts ...wallet.Option) Option {
	return func(s *Service) { s.walletOpts = append(s.walletOpts, opts...) }
}

// WithClock overrides the time source used for submissions and rounds.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Service. Nothing is opened until Start.
func New(opts ...Option) *Service {
	s := &Service{
		cfg: config.New(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens storage and starts the payout workers and, when configured,
// the distribution scheduler. Background work outlives ctx until Stop.
func (s *Service) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.log == nil {
		s.log = logger.Get()
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	s.log.Info(ctx, "starting rewards service...")

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer func() {
		if err != nil {
			cancel()
			s.closeStores()
		}
	}()

	s.ledger, err = repository.New(runCtx, s.cfg.LedgerBackend, s.cfg.LedgerPath,
		repository.WithShardCount(s.cfg.ShardCount))
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	s.wallets, err = wallet.Open(s.cfg.WalletPath, s.walletOpts...)
	if err != nil {
		return fmt.Errorf("open wallets: %w", err)
	}

	s.tokens, err = auth.NewTokens(s.cfg.JWTSecret, s.cfg.TokenTTL())
	if err != nil {
		return fmt.Errorf("session tokens: %w", err)
	}
	authenticator := auth.NewAuthenticator(s.wallets, s.tokens, wallet.ErrNotFound, wallet.ErrInvalidPassword)

	if s.catalog == nil {
		s.catalog = s.newCatalog()
	}
	s.deduper = dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(s.cfg.DedupeSize),
		dedupe.WithWindow(s.cfg.DedupeWindow()),
	)
	s.validator = submission.NewValidator(authenticator, s.catalog, s.ledger,
		submission.WithDeduper(s.deduper),
		submission.WithClock(s.now),
	)

	if s.minter == nil {
		s.minter, err = payout.NewMinter()
		if err != nil {
			return fmt.Errorf("mint authority: %w", err)
		}
	}
	s.queue = payoutqueue.NewInMemoryQueue(payoutqueue.WithCapacity(s.cfg.PayoutQueueSize))
	s.pool = workerpool.NewPool(s.cfg.PayoutWorkers, s.queue, s.minter,
		workerpool.WithLogger(s.log.Named("payout")))

	distLog := s.log.Named("distribution")
	s.distributor = distribution.NewDistributor(s.ledger, blockingQueue{s.queue},
		distribution.WithClock(s.now),
		distribution.WithStore(s.ledger),
		distribution.WithErrorHandler(func(err error) {
			distLog.Error(context.Background(), "late payout result not stored", logger.Error(err))
		}),
	)
	if err = s.distributor.Load(ctx); err != nil {
		return err
	}
	s.pool.Start(runCtx)

	s.cancel = cancel
	if interval := s.cfg.DistributionInterval(); interval > 0 {
		s.wg.Add(1)
		go s.schedule(runCtx, interval)
	}

	s.started = true
	s.log.Info(ctx, "rewards service started",
		logger.String("ledger", s.cfg.LedgerBackend),
		logger.String("mint_authority", s.minter.Address()),
		logger.Int("payout_workers", s.pool.Size()),
		logger.Int64("pool_size", s.cfg.PoolSize),
	)
	return nil
}

// blockingQueue makes large rounds wait for queue space instead of failing
// the overflow.
type blockingQueue struct {
	q *payoutqueue.InMemoryQueue
}

func (b blockingQueue) Enqueue(ctx context.Context, job model.PayoutJob) error {
	return b.q.EnqueueWait(ctx, job)
}

func (s *Service) newCatalog() submission.Catalog {
	if s.cfg.CatalogURL == "" {
		s.log.Warn(context.Background(), "catalog_url is empty; using an empty static catalog")
		return catalog.NewStatic()
	}
	return catalog.NewOpenFoodFacts(s.cfg.CatalogURL, catalog.WithTimeout(s.cfg.CatalogTimeout()))
}

// schedule runs a distribution of the configured pool every interval.
func (s *Service) schedule(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := s.Distribute(ctx, s.cfg.PoolSize)
			if ctx.Err() != nil {
				return
			}
			if err != nil && !errors.Is(err, model.ErrNoEligibleAccounts) {
				s.log.Error(ctx, "scheduled distribution failed", logger.Error(err))
			}
		}
	}
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	ctx := context.Background()
	s.log.Info(ctx, "stopping rewards service...")

	cancel()
	s.wg.Wait()

	if err := s.pool.Shutdown(ctx); err != nil {
		s.log.Warn(ctx, "payout pool shutdown", logger.Error(err))
	}
	s.distributor.Close()
	s.closeStores()

	s.log.Info(ctx, "rewards service stopped")
}

func (s *Service) closeStores() {
	if s.ledger != nil {
		if err := s.ledger.Close(); err != nil {
			s.log.Warn(context.Background(), "close ledger", logger.Error(err))
		}
	}
	if s.wallets != nil {
		if err := s.wallets.Close(); err != nil {
			s.log.Warn(context.Background(), "close wallets", logger.Error(err))
		}
	}
}

// Handler returns the HTTP API with the docs routes mounted.
func (s *Service) Handler() http.Handler {
	return api.NewServer(s, s,
		api.WithLogger(s.logger().Named("http")),
		api.WithMaxProofBytes(s.cfg.MaxProofBytes),
		api.WithRateLimiter(api.NewRateLimiter(float64(s.cfg.SubmitRatePerMin), s.cfg.SubmitBurst,
			api.WithTrustedProxies(s.cfg.TrustedProxyList()...))),
		api.WithRoutes(func(r chi.Router) { swagger.Register(r) }),
	).Handler()
}

func (s *Service) logger() logger.Logger {
	if s.log == nil {
		return logger.Get()
	}
	return s.log
}

// running returns the started state under the read lock.
func (s *Service) running() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

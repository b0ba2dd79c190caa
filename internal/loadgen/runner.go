package loadgen

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	mrand "math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/greenpoints/pkg/logger"
)

const proofBytes = 256

// Run executes the complete load run.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if cfg.Wallets <= 0 || cfg.Workers <= 0 || len(cfg.Barcodes) == 0 {
		return nil, errors.New("loadgen: wallets, workers and barcodes are required")
	}
	log := logger.Get().Named("loadgen")
	stats := &Stats{StartTime: time.Now()}
	c := newClient(cfg.BaseURL, &http.Client{Timeout: cfg.Timeout})

	log.Info(ctx, "starting load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("wallets", cfg.Wallets),
		logger.Int("submissions", cfg.Submissions),
		logger.Int("workers", cfg.Workers),
		logger.Int64("pool", cfg.Pool))

	if err := c.health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	wallets, err := signupWallets(ctx, c, cfg)
	if err != nil {
		return nil, fmt.Errorf("signup failed: %w", err)
	}
	stats.WalletsCreated = len(wallets)
	log.Info(ctx, "wallets created", logger.Int("count", len(wallets)))

	points := submitProofs(ctx, c, cfg, wallets, stats)
	log.Info(ctx, "submissions completed",
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("rejected", stats.Rejected),
		logger.Int("failed", stats.Failed))

	evt, err := c.distribute(ctx, cfg.Pool)
	if err != nil {
		return stats, fmt.Errorf("distribution failed: %w", err)
	}
	stats.Pool = evt.PoolSize
	stats.Accounts = len(evt.Allocation)
	for _, units := range evt.Allocation {
		stats.Distributed += units
	}

	if err := verify(ctx, c, evt, wallets, points); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(stats.StartTime)
	log.Info(ctx, "load run completed",
		logger.String("event", evt.ID),
		logger.Int64("pool", stats.Pool),
		logger.Int64("distributed", stats.Distributed),
		logger.Int("accounts", stats.Accounts),
		logger.Duration("duration", stats.Duration))
	return stats, nil
}

func signupWallets(ctx context.Context, c *client, cfg *Config) ([]credentials, error) {
	wallets := make([]credentials, cfg.Wallets)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := range wallets {
		g.Go(func() error {
			creds, err := c.signup(gctx)
			if err != nil {
				return err
			}
			wallets[i] = creds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return wallets, nil
}

type submission struct {
	wallet  int
	barcode string
	image   []byte
}

// submitProofs posts cfg.Submissions proofs with cfg.Workers workers and
// returns the points each wallet was awarded.
func submitProofs(ctx context.Context, c *client, cfg *Config, wallets []credentials, stats *Stats) map[string]int64 {
	var (
		accepted, duplicate, rejected, failed atomic.Int64
		awarded                               atomic.Int64

		mu     sync.Mutex
		points = make(map[string]int64, len(wallets))
	)

	jobs := make(chan submission, cfg.Workers*2)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				creds := wallets[job.wallet]
				res, err := c.validate(ctx, creds, job.barcode, job.image)
				var apiErr *apiError
				switch {
				case err == nil:
					accepted.Add(1)
					awarded.Add(res.PointsAwarded)
					mu.Lock()
					points[creds.PublicKey] += res.PointsAwarded
					mu.Unlock()
				case errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict:
					duplicate.Add(1)
				case errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError:
					rejected.Add(1)
				default:
					failed.Add(1)
				}
			}
		}()
	}

	rng := mrand.New(mrand.NewSource(cfg.Seed))
	submitted := 0
feed:
	for i := 0; i < cfg.Submissions; i++ {
		image := make([]byte, proofBytes)
		_, _ = rand.Read(image)
		job := submission{
			wallet:  rng.Intn(len(wallets)),
			barcode: cfg.Barcodes[rng.Intn(len(cfg.Barcodes))],
			image:   image,
		}
		select {
		case <-ctx.Done():
			break feed
		case jobs <- job:
			submitted++
		}
	}
	close(jobs)
	wg.Wait()

	stats.Submitted = submitted
	stats.Accepted = int(accepted.Load())
	stats.Duplicate = int(duplicate.Load())
	stats.Rejected = int(rejected.Load())
	stats.Failed = int(failed.Load())
	stats.PointsAwarded = awarded.Load()
	return points
}

// Command loadgen exercises a running greenpoints service end to end.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/greenpoints/internal/loadgen"
	"github.com/okian/greenpoints/pkg/logger"
)

// Default configuration constants.
const (
	defaultWallets     = 50
	defaultSubmissions = 1000
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultRunTimeout  = 10 * time.Minute
)

func main() {
	cfg := &loadgen.Config{}
	var verbose bool

	cmd := &cobra.Command{
		Use:          "loadgen",
		Short:        "Sign up wallets, submit proofs concurrently, distribute and verify the pool is conserved",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.InitWith(cmd.ErrOrStderr(), "text"); err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			if verbose {
				_ = logger.SetLevelString("debug")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultRunTimeout)
			defer cancel()

			stats, err := loadgen.Run(ctx, cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"wallets=%d submitted=%d accepted=%d duplicate=%d rejected=%d failed=%d points=%d pool=%d distributed=%d accounts=%d took=%s\n",
				stats.WalletsCreated, stats.Submitted, stats.Accepted, stats.Duplicate, stats.Rejected, stats.Failed,
				stats.PointsAwarded, stats.Pool, stats.Distributed, stats.Accounts, stats.Duration)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", "http://localhost:5000", "base URL of the service")
	f.IntVar(&cfg.Wallets, "wallets", defaultWallets, "wallets to sign up")
	f.IntVar(&cfg.Submissions, "submissions", defaultSubmissions, "proofs to submit")
	f.StringSliceVar(&cfg.Barcodes, "barcodes", []string{"3017620422003", "5449000000996", "7622210449283"}, "item barcodes to submit")
	f.Int64Var(&cfg.Pool, "pool", 0, "units to distribute (default: server pool_size)")
	f.IntVar(&cfg.Workers, "workers", runtime.NumCPU()*defaultWorkers, "concurrent submitters")
	f.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "HTTP request timeout")
	f.Int64Var(&cfg.Seed, "seed", time.Now().UnixNano(), "seed for picking wallets and barcodes")
	f.BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

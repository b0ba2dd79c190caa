// Command greenpoints runs the recycling rewards service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	app "github.com/okian/greenpoints/internal/app"
	"github.com/okian/greenpoints/internal/config"
	"github.com/okian/greenpoints/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "greenpoints",
		Short:         "Recycling rewards: accrue points for proofs, distribute a reward pool",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if configPath != "" {
				return os.Setenv("GREENPOINTS_CONFIG", configPath)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (overrides GREENPOINTS_CONFIG)")

	root.AddCommand(newServeCmd(), newDistributeCmd(), newSignupCmd())
	return root
}

// setup loads configuration and initialises logging from it.
func setup(ctx context.Context, stderr io.Writer) (*config.Config, logger.Logger, error) {
	if err := logger.InitWith(stderr, "text"); err != nil {
		return nil, nil, fmt.Errorf("init logging: %w", err)
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if err := logger.InitWith(stderr, cfg.LogFormat); err != nil {
		return nil, nil, fmt.Errorf("init logging: %w", err)
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, log, nil
}

// withService starts a service for a one-shot command and stops it after fn.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *app.Service) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, log, err := setup(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	svc := app.New(app.WithConfig(cfg), app.WithLogger(log))
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()
	return fn(ctx, svc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

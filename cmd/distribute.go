package main

import (
	"context"

	"github.com/spf13/cobra"

	app "github.com/okian/greenpoints/internal/app"
)

func newDistributeCmd() *cobra.Command {
	var pool int64
	cmd := &cobra.Command{
		Use:   "distribute",
		Short: "Run one distribution round against the configured stores",
		Long: `Run one distribution round and print the resulting event.
The stores are opened directly, so this needs the sqlite ledger backend
and must not run while a server holds the same files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				evt, err := svc.Distribute(ctx, pool)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), evt)
			})
		},
	}
	cmd.Flags().Int64Var(&pool, "pool", 0, "units to distribute (default: pool_size from config)")
	return cmd
}

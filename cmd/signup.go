package main

import (
	"context"

	"github.com/spf13/cobra"

	app "github.com/okian/greenpoints/internal/app"
)

func newSignupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create a wallet and print its credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				creds, err := svc.Signup(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), creds)
			})
		},
	}
}

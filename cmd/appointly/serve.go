package main

import (
	"github.com/smallbiznis/appointly/internal/migration"
	"github.com/smallbiznis/appointly/internal/scheduler"
	"github.com/smallbiznis/appointly/internal/seed"
	"github.com/smallbiznis/appointly/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and scheduler, applying pending migrations first",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				coreModules(),
				migration.Module,
				server.Module,
				scheduler.Module,
				seed.Module,
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/smallbiznis/appointly/internal/clock"
	"github.com/smallbiznis/appointly/internal/config"
	"github.com/smallbiznis/appointly/internal/idgen"
	"github.com/smallbiznis/appointly/internal/observability"
	"github.com/smallbiznis/appointly/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "appointly",
		Short:         "Appointment booking, invoicing and payment collection service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(processorConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// coreModules is the infrastructure every command runs on.
func coreModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		clock.Module,
		idgen.Module,
		db.Module,
	)
}

// runTask starts an fx app built from opts, calls task once the database is
// reachable and shuts the app down again. Targets for task are populated
// through fx.Populate inside opts.
func runTask(ctx context.Context, task func(ctx context.Context) error, opts ...fx.Option) error {
	app := fx.New(
		fx.NopLogger,
		coreModules(),
		fx.Options(opts...),
	)
	if err := app.Err(); err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		return err
	}
	taskErr := task(ctx)
	if err := app.Stop(ctx); err != nil && taskErr == nil {
		return err
	}
	return taskErr
}

package main

import (
	"context"
	"fmt"

	"github.com/smallbiznis/appointly/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSQL(cmd.Context(), func(conn *gorm.DB) error {
				sqlDB, err := conn.DB()
				if err != nil {
					return err
				}
				if err := migration.RunMigrations(sqlDB); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSQL(cmd.Context(), func(conn *gorm.DB) error {
				sqlDB, err := conn.DB()
				if err != nil {
					return err
				}
				if err := migration.RollbackMigrations(sqlDB, steps); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
				return nil
			})
		},
	}
	down.Flags().IntVarP(&steps, "steps", "n", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	return cmd
}

func withSQL(ctx context.Context, fn func(conn *gorm.DB) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var conn *gorm.DB
	return runTask(ctx, func(context.Context) error {
		return fn(conn)
	}, fx.Populate(&conn))
}

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/appointly/internal/business"
	businessdomain "github.com/smallbiznis/appointly/internal/business/domain"
	"github.com/smallbiznis/appointly/internal/config"
	"github.com/smallbiznis/appointly/internal/migration"
	"github.com/smallbiznis/appointly/internal/seed"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func seedCmd() *cobra.Command {
	var name, timezone, owner string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the default business if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				conn *gorm.DB
				cfg  config.Config
				repo businessdomain.Repository
				svc  businessdomain.Service
				log  *zap.Logger
			)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			return runTask(ctx, func(ctx context.Context) error {
				bootstrap := cfg.Bootstrap
				if v := strings.TrimSpace(name); v != "" {
					bootstrap.BusinessName = v
				}
				if v := strings.TrimSpace(timezone); v != "" {
					bootstrap.BusinessTimezone = v
				}
				if v := strings.TrimSpace(owner); v != "" {
					bootstrap.OwnerUserID = v
				}

				biz, created, err := seed.EnsureDefaultBusiness(ctx, conn, repo, svc, bootstrap, log.Named("seed"))
				if err != nil {
					return err
				}
				if created {
					fmt.Fprintf(cmd.OutOrStdout(), "created business %s (%s)\n", biz.ID, biz.Slug)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "business %s (%s) already exists\n", biz.ID, biz.Slug)
				}
				return nil
			},
				migration.Module,
				business.Module,
				fx.Populate(&conn, &cfg, &repo, &svc, &log),
			)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "business name (defaults to BOOTSTRAP_BUSINESS_NAME)")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone (defaults to BOOTSTRAP_BUSINESS_TIMEZONE)")
	cmd.Flags().StringVar(&owner, "owner", "", "user id granted the owner role")

	return cmd
}

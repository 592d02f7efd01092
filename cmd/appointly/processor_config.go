package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/appointly/internal/business"
	businessdomain "github.com/smallbiznis/appointly/internal/business/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func processorConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "processor-config",
		Short: "Manage payment processor credentials of a business",
	}
	cmd.AddCommand(processorConfigSetCmd())
	cmd.AddCommand(processorConfigToggleCmd("enable", true))
	cmd.AddCommand(processorConfigToggleCmd("disable", false))
	return cmd
}

func processorConfigSetCmd() *cobra.Command {
	var (
		businessID    string
		processor     string
		secretKey     string
		webhookSecret string
		apiBase       string
		accountID     string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store encrypted credentials for a processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(secretKey) == "" {
				return errors.New("--secret-key is required")
			}
			values := map[string]any{"secret_key": strings.TrimSpace(secretKey)}
			if v := strings.TrimSpace(webhookSecret); v != "" {
				values["webhook_secret"] = v
			}
			if v := strings.TrimSpace(apiBase); v != "" {
				values["api_base"] = v
			}
			if v := strings.TrimSpace(accountID); v != "" {
				values["account_id"] = v
			}

			return withBusinessService(cmd.Context(), func(ctx context.Context, svc businessdomain.Service) error {
				err := svc.UpsertProcessorConfig(ctx, businessdomain.UpsertProcessorConfigRequest{
					BusinessID: businessID,
					Processor:  processor,
					Config:     values,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %s credentials for %s\n", processor, businessID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&businessID, "business", "", "business id")
	cmd.Flags().StringVar(&processor, "processor", "stripe", "processor name")
	cmd.Flags().StringVar(&secretKey, "secret-key", "", "processor API secret key")
	cmd.Flags().StringVar(&webhookSecret, "webhook-secret", "", "webhook signing secret")
	cmd.Flags().StringVar(&apiBase, "api-base", "", "override the processor API base URL")
	cmd.Flags().StringVar(&accountID, "account-id", "", "connected account id")
	_ = cmd.MarkFlagRequired("business")

	return cmd
}

func processorConfigToggleCmd(use string, active bool) *cobra.Command {
	var businessID, processor string

	cmd := &cobra.Command{
		Use:   use,
		Short: use + " a stored processor configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBusinessService(cmd.Context(), func(ctx context.Context, svc businessdomain.Service) error {
				if err := svc.SetProcessorActive(ctx, businessID, processor, active); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %sd for %s\n", processor, use, businessID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&businessID, "business", "", "business id")
	cmd.Flags().StringVar(&processor, "processor", "stripe", "processor name")
	_ = cmd.MarkFlagRequired("business")

	return cmd
}

func withBusinessService(ctx context.Context, fn func(ctx context.Context, svc businessdomain.Service) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var svc businessdomain.Service
	return runTask(ctx, func(ctx context.Context) error {
		return fn(ctx, svc)
	}, business.Module, fx.Populate(&svc))
}

// Package main provides fulfillmentctl, the operator CLI for carrier synchronisation and the
// notification outbox.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/di"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/observability"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/requestctx"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/services"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fulfillmentctl",
		Short:         "Operate storefront fulfillment jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(syncCmd(), relayCmd())
	return cmd
}

func syncCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "sync [trackingNumber]",
		Short: "Synchronise order statuses with the carrier",
		Long: `Queries the carrier for every tracked order that is not yet delivered or cancelled,
or for a single tracking number when one is given, and applies the mapped statuses.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var tracking string
			if len(args) == 1 {
				tracking = args[0]
			}
			return withContainer(cmd.Context(), func(ctx context.Context, c *di.Container) error {
				ctx = requestctx.WithTrigger(ctx, "cli", actor)
				report, err := c.Services.Shipping.Sync(ctx, services.ShippingSyncCommand{TrackingNumber: tracking})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", os.Getenv("USER"), "Operator recorded on the sync run")
	return cmd
}

func relayCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Publish pending order notifications from the outbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd.Context(), func(ctx context.Context, c *di.Container) error {
				if c.Services.Notifications == nil {
					return fmt.Errorf("notifications topic not configured")
				}
				if limit <= 0 {
					limit = c.Config.Jobs.RelayBatchSize
				}
				report, err := c.Services.Notifications.Relay(ctx, limit)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]int{
					"attempted": report.Attempted,
					"sent":      report.Sent,
					"failed":    report.Failed,
					"parked":    report.Parked,
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum notifications to publish (defaults to the configured batch size)")
	return cmd
}

func withContainer(ctx context.Context, fn func(context.Context, *di.Container) error) error {
	logger, err := observability.NewLogger("fulfillmentctl")
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	ctx = observability.WithLogger(ctx, logger)

	cfg, _, err := di.LoadConfig(ctx, logger)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	container, err := di.NewContainer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build dependencies: %w", err)
	}
	defer func() {
		if err := container.Close(context.Background()); err != nil {
			logger.Warn("dependency close error", zap.Error(err))
		}
	}()
	return fn(ctx, container)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

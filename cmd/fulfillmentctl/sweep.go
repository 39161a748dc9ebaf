package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/app"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/config"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/scheduler"

	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one scheduler sweep now",
		Long: `Run a single pass of a scheduler task, for external cron triggers.

The run takes the same lock as the in-process ticker, so it never overlaps
a run already in progress on any instance sharing REDIS_ADDR.

Examples:
  fulfillmentctl sweep payment-reminders
  fulfillmentctl sweep pickup-reminders`,
	}

	cmd.AddCommand(sweepTaskCmd("payment-reminders", "Send payment reminders and warnings, cancel expired orders", func(a *app.App) *scheduler.Runner {
		return a.Payments
	}))
	cmd.AddCommand(sweepTaskCmd("pickup-reminders", "Send H-1 and same-day pickup reminders", func(a *app.App) *scheduler.Runner {
		return a.Pickups
	}))
	return cmd
}

func sweepTaskCmd(name, short string, pick func(*app.App) *scheduler.Runner) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			// The long-running service relays the outbox and consumes the
			// broker; a one-shot sweep only writes to the store.
			cfg.RabbitURL = ""

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, app.NewLogger(cfg.LogLevel))
			if err != nil {
				return fmt.Errorf("init app: %w", err)
			}
			defer a.Close(ctx)

			report, err := pick(a).RunOnce(ctx)
			if errors.Is(err, scheduler.ErrRunInProgress) {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s is already running elsewhere, skipped\n", name)
				return nil
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(report); encErr != nil {
				return encErr
			}
			if err != nil {
				return err
			}
			if report.TimedOut {
				fmt.Fprintln(cmd.ErrOrStderr(), "run hit its timeout; remaining orders are picked up next run")
			}
			return nil
		},
	}
}

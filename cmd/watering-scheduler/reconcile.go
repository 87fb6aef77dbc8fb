package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/i474232898/watering-scheduler/internal/schedule"
)

func reconcileCmd() *cobra.Command {
	var (
		userID  int64
		refresh bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation sweep and exit",
		Long: `Refresh the forecast, then sync, roll over and re-adjust watering schedules.

Examples:
  watering-scheduler reconcile
  watering-scheduler reconcile --user 42 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if refresh {
				if err := a.weather.FetchAndStore(ctx, a.cfg.Location); err != nil {
					a.logger.Warnw("forecast refresh failed; reconciling without forecast", "error", err)
				}
			}

			var rep schedule.Report
			if userID > 0 {
				rep, err = a.reconciler.ReconcileUser(ctx, userID)
			} else {
				rep, err = a.reconciler.ReconcileAll(ctx)
			}
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "writes=%d skipped=%d failed=%d\n",
				rep.Writes(), rep.Count(schedule.StatusSkipped), rep.Count(schedule.StatusFailed))
			return nil
		},
	}

	cmd.Flags().Int64VarP(&userID, "user", "u", 0, "reconcile a single user")
	cmd.Flags().BoolVar(&refresh, "refresh", true, "fetch the forecast before reconciling")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "print the full report as JSON")
	return cmd
}

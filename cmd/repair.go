package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unionresearch/orgmatch/internal/canonical"
	"github.com/unionresearch/orgmatch/internal/ledger"
)

var repairApply bool

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Repair references orphaned by canonical merges",
	Long:  "Rewrites external references that still point at merged-away orgs by following merge chains, falling back to exact name re-match, and finally nulling and logging what cannot be resolved.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := initPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		c := canonical.NewConsolidator(pool)

		if !repairApply {
			summary, err := c.Repair(ctx, false)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "dry run: %d orphaned ids found\n", summary.Scanned)
			return nil
		}

		runs := ledger.NewRuns(pool)
		opID, err := runs.Start(ctx, "repair", "")
		if err != nil {
			return err
		}

		summary, err := c.Repair(ctx, true)
		if err != nil {
			return failRun(ctx, runs, opID, err)
		}
		if err := runs.Complete(ctx, opID, ledger.RunCounts{
			TotalSource:  int64(summary.Scanned),
			TotalMatched: summary.Rewritten + summary.Recovered,
		}); err != nil {
			return err
		}

		zap.L().Info("repair complete",
			zap.Int("scanned", summary.Scanned),
			zap.Int64("rewritten", summary.Rewritten),
			zap.Int64("recovered", summary.Recovered),
			zap.Int64("unresolved", summary.Unresolved),
		)
		fmt.Fprintf(os.Stdout, "repaired %d orphaned ids: %d rewritten, %d recovered, %d nulled\n",
			summary.Scanned, summary.Rewritten, summary.Recovered, summary.Unresolved)
		return nil
	},
}

func init() {
	repairCmd.Flags().BoolVar(&repairApply, "apply", false, "perform repairs instead of scanning")
	rootCmd.AddCommand(repairCmd)
}

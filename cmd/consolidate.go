package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unionresearch/orgmatch/internal/canonical"
	"github.com/unionresearch/orgmatch/internal/ledger"
)

var (
	consolidateRun   string
	consolidateApply bool
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Project a run's active decisions into canonical state",
	Long:  "Adds membership rows and identifier crosswalk entries for every active HIGH and MEDIUM decision of one match run. Without --apply, reports what would change.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runID, err := uuid.Parse(consolidateRun)
		if err != nil {
			return eris.Wrapf(err, "parse run id %q", consolidateRun)
		}

		pool, err := initPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		c := canonical.NewConsolidator(pool)

		if !consolidateApply {
			summary, err := c.Consolidate(ctx, runID, false)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "dry run: %d active entries would be consolidated\n", summary.Entries)
			return nil
		}

		runs := ledger.NewRuns(pool)
		opID, err := runs.Start(ctx, "consolidate", "")
		if err != nil {
			return err
		}

		summary, err := c.Consolidate(ctx, runID, true)
		if err != nil {
			return failRun(ctx, runs, opID, err)
		}
		if err := runs.Complete(ctx, opID, ledger.RunCounts{
			TotalSource:  int64(summary.Entries),
			TotalMatched: int64(summary.MembersAdded),
		}); err != nil {
			return err
		}

		zap.L().Info("consolidation complete",
			append([]zap.Field{zap.String("match_run_id", runID.String())}, consolidateFields(summary)...)...)
		fmt.Fprintf(os.Stdout, "consolidated %d entries: %d members, %d crosswalk writes\n",
			summary.Entries, summary.MembersAdded, summary.CrosswalkWrites)
		return nil
	},
}

func consolidateFields(summary canonical.ConsolidateSummary) []zap.Field {
	return []zap.Field{
		zap.Int("entries", summary.Entries),
		zap.Int64("members_added", summary.MembersAdded),
		zap.Int64("crosswalk_writes", summary.CrosswalkWrites),
		zap.Int("missing_systems", summary.MissingSystems),
		zap.Int("no_identifier", summary.NoIdentifier),
	}
}

func init() {
	consolidateCmd.Flags().StringVar(&consolidateRun, "run", "", "match run id to consolidate (required)")
	consolidateCmd.Flags().BoolVar(&consolidateApply, "apply", false, "write changes instead of reporting them")
	_ = consolidateCmd.MarkFlagRequired("run")
	rootCmd.AddCommand(consolidateCmd)
}

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
	"github.com/unionresearch/orgmatch/internal/linkage"
)

var (
	dedupeApply bool
	dedupeFuzzy bool
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Merge duplicate canonical organizations",
	Long:  "Finds canonical orgs that are the same real-world entity and merges each group into one survivor. Exact mode groups on aggressive name and jurisdiction; --fuzzy also scores near-duplicates with the linkage model. Run repair --apply afterwards.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := initPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		c := canonical.NewConsolidator(pool)

		run := func() (canonical.DedupeSummary, []canonical.MergePlan, error) {
			summary, plans, err := c.Dedupe(ctx, dedupeApply)
			if err != nil || !dedupeFuzzy {
				return summary, plans, err
			}

			matcher := linkage.NewMatcher(pool, cfg.Linkage)
			pairs, _, err := matcher.SelfDedupe(ctx)
			if err != nil {
				return summary, plans, err
			}
			fuzzy, fuzzyPlans, err := c.MergePairs(ctx, pairs, cfg.Consolidate.DedupeSimilarity, dedupeApply)
			if err != nil {
				return summary, plans, err
			}
			summary.Groups += fuzzy.Groups
			summary.Merged += fuzzy.Merged
			return summary, append(plans, fuzzyPlans...), nil
		}

		if !dedupeApply {
			summary, plans, err := run()
			if err != nil {
				return err
			}
			for _, p := range plans {
				fmt.Fprintf(os.Stdout, "would merge %d into %d (score %.2f)\n", p.DeletedID, p.KeptID, p.Score)
			}
			fmt.Fprintf(os.Stdout, "dry run: %d duplicate groups, %d merges planned\n", summary.Groups, len(plans))
			return nil
		}

		runs := ledger.NewRuns(pool)
		opID, err := runs.Start(ctx, "dedupe", "")
		if err != nil {
			return err
		}

		summary, plans, err := run()
		if err != nil {
			return failRun(ctx, runs, opID, err)
		}
		if err := runs.Complete(ctx, opID, ledger.RunCounts{
			TotalSource:  int64(summary.Groups),
			TotalMatched: int64(summary.Merged),
		}); err != nil {
			return err
		}

		zap.L().Info("dedupe complete", dedupeFields(summary, len(plans))...)
		fmt.Fprintf(os.Stdout, "merged %d duplicates across %d groups; run `orgmatch repair --apply` next\n",
			summary.Merged, summary.Groups)
		return nil
	},
}

func dedupeFields(summary canonical.DedupeSummary, plans int) []zap.Field {
	return []zap.Field{
		zap.Int("groups", summary.Groups),
		zap.Int64("merged", summary.Merged),
		zap.Int("plans", plans),
	}
}

func init() {
	dedupeCmd.Flags().BoolVar(&dedupeApply, "apply", false, "perform the merges instead of planning them")
	dedupeCmd.Flags().BoolVar(&dedupeFuzzy, "fuzzy", false, "also merge near-duplicates scored by the linkage model")
	rootCmd.AddCommand(dedupeCmd)
}

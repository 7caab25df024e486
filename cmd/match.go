package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unionresearch/orgmatch/internal/db"
	"github.com/unionresearch/orgmatch/internal/engine"
	"github.com/unionresearch/orgmatch/internal/ledger"
	"github.com/unionresearch/orgmatch/internal/linkage"
	"github.com/unionresearch/orgmatch/internal/source"
)

var (
	matchSource string
	matchLimit  int
	matchDryRun bool
	matchSeed   int64
	matchSpec   string
	matchAll    bool
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match staged source records to canonical organizations",
	Long:  "Runs one matching pass for a source system. Deterministic tiers run first in practice; probabilistic linkage picks up the records they leave unmatched.",
}

var matchDeterministicCmd = &cobra.Command{
	Use:   "deterministic",
	Short: "Run the tiered deterministic matcher",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := initPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		matcher := engine.NewTieredMatcher(pool, cfg.Match)
		return executeMatchRun(ctx, pool, "deterministic", func(ctx context.Context) ([]engine.MatchCandidate, error) {
			return matcher.Match(ctx, matchSource, matchLimit)
		}, nil)
	},
}

var matchProbabilisticCmd = &cobra.Command{
	Use:   "probabilistic",
	Short: "Run Fellegi-Sunter probabilistic linkage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := initPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		lcfg := cfg.Linkage
		if matchSeed != 0 {
			lcfg.Seed = matchSeed
		}
		if matchSpec != "" {
			lcfg.FieldSpecPath = matchSpec
		}
		matcher := linkage.NewMatcher(pool, lcfg)

		var params linkage.Params
		match := func(ctx context.Context) ([]engine.MatchCandidate, error) {
			run := matcher.Match
			if matchAll {
				run = matcher.Rematch
			}
			cands, p, err := run(ctx, matchSource, matchLimit)
			params = p
			return cands, err
		}
		archive := func(ctx context.Context, runID uuid.UUID) error {
			if len(params.Fields) == 0 {
				return nil
			}
			ms, err := linkage.OpenModelStore(lcfg.ArtifactDir)
			if err != nil {
				return err
			}
			defer ms.Close() //nolint:errcheck
			return ms.Save(ctx, runID, "probabilistic", params.Seed, params)
		}
		return executeMatchRun(ctx, pool, "probabilistic", match, archive)
	},
}

// executeMatchRun is the shared lifecycle for both matchers: start a run,
// produce candidates, arbitrate, write the ledger, project legacy rows, and
// close the run. A dry run arbitrates and prints band counts but writes
// nothing, not even a run row.
func executeMatchRun(
	ctx context.Context,
	pool db.Pool,
	kind string,
	match func(ctx context.Context) ([]engine.MatchCandidate, error),
	archive func(ctx context.Context, runID uuid.UUID) error,
) error {
	thresholds := engine.Thresholds{
		AutoAccept: cfg.Match.AutoAcceptThreshold,
		Review:     cfg.Match.ReviewThreshold,
	}

	if matchDryRun {
		// A preview writes nothing, DDL included; a missing or stale schema
		// surfaces as a precondition failure instead of being repaired.
		if err := engine.CheckPreconditions(ctx, pool, matchSource); err != nil {
			return err
		}
		cands, err := match(ctx)
		if err != nil {
			return err
		}
		banded := engine.Arbitrate(cands, thresholds)
		counts := tallyBands(banded)
		fmt.Fprintf(os.Stdout, "dry run: %d candidates -> %d HIGH, %d MEDIUM, %d LOW\n",
			len(cands), counts.High, counts.Medium, counts.Low)
		return nil
	}

	if err := engine.Migrate(ctx, pool); err != nil {
		return err
	}
	if err := engine.CheckPreconditions(ctx, pool, matchSource); err != nil {
		return err
	}

	totalSource, err := countStaged(ctx, pool, matchSource)
	if err != nil {
		return err
	}

	runs := ledger.NewRuns(pool)
	runID, err := runs.Start(ctx, kind, matchSource)
	if err != nil {
		return err
	}

	cands, err := match(ctx)
	if err != nil {
		return failRun(ctx, runs, runID, err)
	}

	banded := engine.Arbitrate(cands, thresholds)
	entries := ledger.FromBanded(runID, banded)
	written, err := ledger.NewStore(pool).Write(ctx, entries)
	if err != nil {
		return failRun(ctx, runs, runID, err)
	}

	if archive != nil {
		if err := archive(ctx, runID); err != nil {
			// The ledger is already durable; a lost model artifact only
			// costs reproducibility of this one run.
			zap.L().Warn("model archive failed", zap.String("run_id", runID.String()), zap.Error(err))
		}
	}

	legacyWritten, err := writeLegacyProjection(ctx, pool, banded)
	if err != nil {
		return failRun(ctx, runs, runID, err)
	}

	counts := tallyBands(banded)
	counts.TotalSource = totalSource
	if err := runs.Complete(ctx, runID, counts); err != nil {
		return err
	}

	zap.L().Info("match run complete",
		zap.String("run_id", runID.String()),
		zap.String("kind", kind),
		zap.String("source_system", matchSource),
		zap.Int64("total_source", counts.TotalSource),
		zap.Int64("ledger_written", written),
		zap.Int64("legacy_written", legacyWritten),
		zap.Int64("high", counts.High),
		zap.Int64("medium", counts.Medium),
		zap.Int64("low", counts.Low),
	)
	fmt.Fprintf(os.Stdout, "run %s: %d HIGH, %d MEDIUM, %d LOW (%d ledger entries written)\n",
		runID, counts.High, counts.Medium, counts.Low, written)
	return nil
}

func failRun(ctx context.Context, runs *ledger.Runs, runID uuid.UUID, runErr error) error {
	if err := runs.Fail(ctx, runID, runErr); err != nil {
		zap.L().Error("mark run failed", zap.String("run_id", runID.String()), zap.Error(err))
	}
	return runErr
}

func tallyBands(banded []engine.BandedCandidate) ledger.RunCounts {
	var c ledger.RunCounts
	for _, bc := range banded {
		switch bc.Band {
		case engine.BandHigh:
			c.High++
		case engine.BandMedium:
			c.Medium++
		default:
			c.Low++
		}
	}
	c.TotalMatched = c.High + c.Medium
	return c
}

func countStaged(ctx context.Context, pool db.Pool, sourceSystem string) (int64, error) {
	var n int64
	err := pool.QueryRow(ctx,
		"SELECT count(*) FROM org_match.source_records WHERE source_system = $1",
		sourceSystem,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "count staged records for %s", sourceSystem)
	}
	return n, nil
}

// writeLegacyProjection mirrors HIGH and MEDIUM decisions into the source's
// legacy table, if it has one. Unregistered systems are skipped with a
// warning rather than failing a run that already wrote its ledger entries.
func writeLegacyProjection(ctx context.Context, pool db.Pool, banded []engine.BandedCandidate) (int64, error) {
	if _, err := source.Lookup(matchSource); err != nil {
		zap.L().Warn("source system not registered, skipping legacy projection",
			zap.String("source_system", matchSource))
		return 0, nil
	}
	adapter, err := source.NewAdapter(pool, matchSource)
	if err != nil {
		return 0, err
	}

	matches := make([]source.LegacyMatch, 0, len(banded))
	for _, bc := range banded {
		if bc.Band == engine.BandLow {
			continue
		}
		matches = append(matches, source.LegacyMatch{
			SourceSystem: bc.SourceSystem,
			SourceID:     bc.SourceID,
			EmployerID:   bc.TargetID,
			Method:       bc.Method,
			Score:        bc.Score,
		})
	}
	return adapter.WriteLegacy(ctx, matches)
}

func init() {
	matchCmd.PersistentFlags().StringVar(&matchSource, "source", "", "source system to match (required)")
	matchCmd.PersistentFlags().IntVar(&matchLimit, "limit", 0, "max source records to consider (0 = all)")
	matchCmd.PersistentFlags().BoolVar(&matchDryRun, "dry-run", false, "arbitrate and print band counts without writing")
	_ = matchCmd.MarkPersistentFlagRequired("source")

	matchProbabilisticCmd.Flags().Int64Var(&matchSeed, "seed", 0, "RNG seed for reproducible training (0 = time-based)")
	matchProbabilisticCmd.Flags().StringVar(&matchSpec, "fieldspec", "", "override the field spec YAML path")
	matchProbabilisticCmd.Flags().BoolVar(&matchAll, "all", false, "rescore every staged record, already-matched ones included")

	matchCmd.AddCommand(matchDeterministicCmd)
	matchCmd.AddCommand(matchProbabilisticCmd)
	rootCmd.AddCommand(matchCmd)
}

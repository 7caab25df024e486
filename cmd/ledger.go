package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unionresearch/orgmatch/internal/engine"
	"github.com/unionresearch/orgmatch/internal/ledger"
)

var (
	ledgerRun      string
	ledgerSource   string
	ledgerSourceID string
	ledgerTarget   int64
	ledgerStatus   string
	ledgerBand     string
	ledgerLimit    int
	ledgerJSON     bool
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and curate the unified match ledger",
}

// -- ledger list --

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ledger entries, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := initPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		f := ledger.Filter{
			SourceSystem: ledgerSource,
			SourceID:     ledgerSourceID,
			TargetID:     ledgerTarget,
			Status:       ledger.Status(ledgerStatus),
			Band:         engine.ConfidenceBand(ledgerBand),
			Limit:        ledgerLimit,
		}
		if ledgerRun != "" {
			id, err := uuid.Parse(ledgerRun)
			if err != nil {
				return eris.Wrapf(err, "parse run id %q", ledgerRun)
			}
			f.RunID = id
		}

		entries, err := ledger.NewStore(pool).ListEntries(ctx, f)
		if err != nil {
			return eris.Wrap(err, "ledger list")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No ledger entries found.")
			return nil
		}

		if ledgerJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		formatEntries(os.Stdout, entries)
		return nil
	},
}

// -- ledger reject --

var ledgerRejectCmd = &cobra.Command{
	Use:   "reject <entry-id>",
	Short: "Reject an active entry after manual review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "parse entry id %q", args[0])
		}

		pool, err := initPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := ledger.NewStore(pool).UpdateStatus(ctx, id, ledger.StatusRejected); err != nil {
			return err
		}
		zap.L().Info("ledger entry rejected", zap.Int64("entry_id", id))
		return nil
	},
}

func formatEntries(out io.Writer, entries []ledger.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tSOURCE_ID\tTARGET\tTIER\tBAND\tSCORE\tSTATUS\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t------\t---------\t------\t----\t----\t-----\t------\t-------")

	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\t%.3f\t%s\t%s\n",
			e.ID,
			e.SourceSystem,
			truncate(e.SourceID, 20),
			e.TargetID,
			e.Tier,
			e.Band,
			e.Score,
			e.Status,
			e.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func init() {
	ledgerListCmd.Flags().StringVar(&ledgerRun, "run", "", "filter by run id")
	ledgerListCmd.Flags().StringVar(&ledgerSource, "source", "", "filter by source system")
	ledgerListCmd.Flags().StringVar(&ledgerSourceID, "source-id", "", "filter by source record id")
	ledgerListCmd.Flags().Int64Var(&ledgerTarget, "target", 0, "filter by canonical org id")
	ledgerListCmd.Flags().StringVar(&ledgerStatus, "status", "", "filter by status (active|superseded|rejected)")
	ledgerListCmd.Flags().StringVar(&ledgerBand, "band", "", "filter by confidence band (HIGH|MEDIUM|LOW)")
	ledgerListCmd.Flags().IntVar(&ledgerLimit, "limit", 0, "max entries to list (0 = default)")
	ledgerListCmd.Flags().BoolVar(&ledgerJSON, "json", false, "emit JSON instead of a table")

	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerRejectCmd)
	rootCmd.AddCommand(ledgerCmd)
}

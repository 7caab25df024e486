package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unionresearch/orgmatch/internal/engine"
	"github.com/unionresearch/orgmatch/internal/source"
)

var (
	stageSource string
	stageFile   string
)

var stageCmd = &cobra.Command{
	Use:   "stage",
	Short: "Stage source records for matching",
	Long:  "Reads newline-delimited JSON records and ingests them into the staging table with computed normal forms. Already-staged records are left untouched.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := initPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := engine.Migrate(ctx, pool); err != nil {
			return err
		}

		adapter, err := source.NewAdapter(pool, stageSource)
		if err != nil {
			return err
		}

		var in io.Reader = os.Stdin
		if stageFile != "-" {
			f, err := os.Open(stageFile)
			if err != nil {
				return eris.Wrapf(err, "open %s", stageFile)
			}
			defer f.Close() //nolint:errcheck
			in = f
		}

		records, err := readRecords(in, stageSource)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "No records to stage.")
			return nil
		}

		staged, err := adapter.Stage(ctx, records)
		if err != nil {
			return err
		}

		zap.L().Info("staging complete",
			zap.String("source_system", stageSource),
			zap.Int("submitted", len(records)),
			zap.Int64("staged", staged),
		)
		fmt.Fprintf(os.Stdout, "staged %d of %d records for %s\n", staged, len(records), stageSource)
		return nil
	},
}

func readRecords(in io.Reader, sourceSystem string) ([]engine.SourceRecord, error) {
	var records []engine.SourceRecord
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec engine.SourceRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, eris.Wrapf(err, "parse record at line %d", line)
		}
		if rec.SourceSystem == "" {
			rec.SourceSystem = sourceSystem
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "read records")
	}
	return records, nil
}

func init() {
	stageCmd.Flags().StringVar(&stageSource, "source", "", "source system to stage into (required)")
	stageCmd.Flags().StringVar(&stageFile, "file", "-", "NDJSON input file (- for stdin)")
	_ = stageCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(stageCmd)
}

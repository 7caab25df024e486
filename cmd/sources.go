package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/unionresearch/orgmatch/internal/source"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List registered source systems",
	Run: func(_ *cobra.Command, _ []string) {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "NAME\tIDENTIFIER\tLEGACY\tDESCRIPTION")
		for _, name := range source.Names() {
			sys, err := source.Lookup(name)
			if err != nil {
				continue
			}
			legacy := ""
			if sys.LegacyTable != "" {
				legacy = "yes"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", sys.Name, sys.IdentifierColumn, legacy, sys.Description)
		}
		_ = w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/ms2rank"
)

var (
	rankQueries          string
	rankOut              string
	rankPreselectionSize int
	rankCutoff           int
	rankSkipFailing      bool
	rankExtraColumns     string
)

func init() {
	rankCmd.Flags().StringVar(&rankQueries, "queries", "", "Query spectra JSON file (required)")
	rankCmd.Flags().StringVarP(&rankOut, "out", "o", "-", "Result CSV path, - for stdout")
	rankCmd.Flags().IntVar(&rankPreselectionSize, "preselection-size", 0, "Candidates rescored per query (default from config)")
	rankCmd.Flags().IntVar(&rankCutoff, "cutoff", -1, "Rows kept per query, 0 keeps all (default from config)")
	rankCmd.Flags().BoolVar(&rankSkipFailing, "skip-failing", false, "Report failing queries instead of aborting the batch")
	rankCmd.Flags().StringVar(&rankExtraColumns, "extra-columns", "", "Library metadata keys appended to the CSV (comma-separated)")
	_ = rankCmd.MarkFlagRequired("queries")
	rootCmd.AddCommand(rankCmd)
}

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank library candidates for query spectra",
	Long: `Rank library candidates for query spectra and write one CSV row per
(query, candidate), best first.

Examples:
  ms2rank-cli rank --library ./lib --queries queries.json > results.csv
  ms2rank-cli rank --library ./lib --queries queries.json --cutoff 5 --extra-columns compound_name,smiles`,
	RunE: runRank,
}

func runRank(cmd *cobra.Command, _ []string) error {
	queries, err := readQueries(rankQueries)
	if err != nil {
		return err
	}

	opts, flush, err := libraryOptions()
	if err != nil {
		return err
	}
	defer flush()

	lib, err := ms2rank.Open(cmd.Context(), opts...)
	if err != nil {
		return fmt.Errorf("open library: %w", err)
	}
	defer lib.Close()

	size := lib.DefaultPreselectionSize()
	if rankPreselectionSize > 0 {
		size = rankPreselectionSize
	}
	cfg := lib.DefaultRankConfig()
	if rankCutoff >= 0 {
		cfg.Cutoff = rankCutoff
	}
	if rankSkipFailing {
		cfg.OnQueryError = ms2rank.SkipQuery
	}
	if rankExtraColumns != "" {
		cfg.ExtraColumns = strings.Split(rankExtraColumns, ",")
	}

	tables, err := lib.RankCandidates(cmd.Context(), queries, size, cfg)
	if err != nil {
		return err
	}
	for i := range tables {
		if tables[i].Err != nil {
			fmt.Fprintf(os.Stderr, "warning: query %d (%s) failed: %v\n",
				tables[i].QueryIndex+1, tables[i].QueryID, tables[i].Err)
		}
	}

	out, closeOut, err := createOutput(rankOut)
	if err != nil {
		return err
	}
	if err := lib.ExportCSV(cmd.Context(), out, tables, cfg); err != nil {
		_ = closeOut()
		return fmt.Errorf("write results: %w", err)
	}
	return closeOut()
}

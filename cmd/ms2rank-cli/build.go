package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/ms2rank"
)

var (
	buildSpectra string
	buildPairs   string
	buildMatrix  string
	buildForce   bool
)

func init() {
	buildCmd.Flags().StringVar(&buildSpectra, "spectra", "", "Library spectra JSON file (required)")
	buildCmd.Flags().StringVar(&buildPairs, "pairs", "", "Structural similarity CSV (structure_id_1,structure_id_2,similarity)")
	buildCmd.Flags().StringVar(&buildMatrix, "matrix", "", "Dense structural similarity matrix CSV with a header row of structure-ids")
	buildCmd.Flags().BoolVar(&buildForce, "force", false, "Write into a store that already holds spectra")
	_ = buildCmd.MarkFlagRequired("spectra")
	buildCmd.MarkFlagsMutuallyExclusive("pairs", "matrix")
	rootCmd.AddCommand(buildCmd)
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a spectral library store",
	Long: `Embed library spectra in both embedding spaces and write them, their
neighbor table and the similarity pairs to the library store.

Examples:
  ms2rank-cli build --db lib/library.sqlite --spectra library.json --pairs similarities.csv
  ms2rank-cli build --db lib/library.sqlite --spectra library.json --matrix tanimoto.csv`,
	RunE: runBuild,
}

// buildSummary is printed to stdout as JSON.
type buildSummary struct {
	RunID      string            `json:"run_id"`
	Written    int               `json:"written"`
	Structures int               `json:"structures"`
	Pairs      int               `json:"pairs"`
	Failed     map[string]string `json:"failed,omitempty"`
}

func runBuild(cmd *cobra.Command, _ []string) error {
	spectra, err := readQueries(buildSpectra)
	if err != nil {
		return err
	}

	cfg := ms2rank.BuildConfig{Force: buildForce}
	var pairs []ms2rank.SimilarityPair
	switch {
	case buildPairs != "":
		err = readFile(buildPairs, func(f *os.File) (err error) {
			pairs, err = ms2rank.ReadSimilarityPairs(f)
			return err
		})
	case buildMatrix != "":
		err = readFile(buildMatrix, func(f *os.File) (err error) {
			cfg.Matrix, err = ms2rank.ReadSimilarityMatrix(f)
			return err
		})
	}
	if err != nil {
		return err
	}

	opts, flush, err := libraryOptions()
	if err != nil {
		return err
	}
	defer flush()

	report, err := ms2rank.BuildLibrary(cmd.Context(), spectra, pairs, cfg, opts...)
	if err != nil {
		return fmt.Errorf("build library: %w", err)
	}

	summary := buildSummary{
		RunID:      report.RunID,
		Written:    report.Written,
		Structures: report.Structures,
		Pairs:      report.Pairs,
	}
	for _, r := range report.Results {
		if r.Err() != nil {
			if summary.Failed == nil {
				summary.Failed = make(map[string]string)
			}
			summary.Failed[r.ID()] = r.Err().Error()
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

// readFile opens path and hands it to decode; failures are data errors.
func readFile(path string, decode func(f *os.File) error) error {
	f, err := os.Open(path)
	if err != nil {
		return dataErrorf("open %s: %w", path, err)
	}
	defer f.Close()
	if err := decode(f); err != nil {
		return &dataError{err: fmt.Errorf("%s: %w", path, err)}
	}
	return nil
}

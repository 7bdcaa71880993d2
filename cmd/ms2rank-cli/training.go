package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/ms2rank"
)

var (
	trainingQueries          string
	trainingOut              string
	trainingPreselectionSize int
)

func init() {
	trainingCmd.Flags().StringVar(&trainingQueries, "queries", "", "Annotated query spectra JSON file (required)")
	trainingCmd.Flags().StringVarP(&trainingOut, "out", "o", "-", "Training CSV path, - for stdout")
	trainingCmd.Flags().IntVar(&trainingPreselectionSize, "preselection-size", 0, "Candidates per query (default from config)")
	_ = trainingCmd.MarkFlagRequired("queries")
	rootCmd.AddCommand(trainingCmd)
}

var trainingCmd = &cobra.Command{
	Use:   "training-data",
	Short: "Extract labeled feature rows for model training",
	Long: `Rank candidates for annotated queries and label every candidate row with
the structural similarity between query and candidate.

Examples:
  ms2rank-cli training-data --library ./lib --queries annotated.json -o training.csv`,
	RunE: runTraining,
}

func runTraining(cmd *cobra.Command, _ []string) error {
	queries, err := readQueries(trainingQueries)
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
	if trainingPreselectionSize > 0 {
		size = trainingPreselectionSize
	}
	report, err := lib.TrainingData(cmd.Context(), queries, size)
	if err != nil {
		return err
	}
	if len(report.Skipped) > 0 {
		fmt.Fprintf(os.Stderr, "warning: %d queries without a library structure skipped\n", len(report.Skipped))
	}

	out, closeOut, err := createOutput(trainingOut)
	if err != nil {
		return err
	}
	if err := ms2rank.WriteTrainingCSV(out, report.Rows); err != nil {
		_ = closeOut()
		return fmt.Errorf("write training data: %w", err)
	}
	return closeOut()
}

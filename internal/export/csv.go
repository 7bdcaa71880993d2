// Package export writes ranked candidate tables and training rows as CSV.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/kailas-cloud/ms2rank/internal/domain/feature"
	"github.com/kailas-cloud/ms2rank/internal/domain/result"
	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
	"github.com/kailas-cloud/ms2rank/internal/usecase/training"
)

// CSVSchemaVersion identifies the column layout below. Bump it whenever a
// column is added, removed or reordered.
const CSVSchemaVersion = 1

// Leading result columns, in output order.
const (
	ColQueryNumber      = "query_spectrum_nr"
	ColQueryID          = "query_spectrum_id"
	ColPrediction       = "ms2query_model_prediction"
	ColMZDifference     = "precursor_mz_difference"
	ColQueryMZ          = "precursor_mz_query_spectrum"
	ColAnalogMZ         = "precursor_mz_analog"
	ColSpectrumID       = "spectrum_id"
	ColInChIKey         = "inchikey"
	ColAnalogName       = "analog_compound_name"
	ColSmiles           = "smiles"
	ColLabel            = "label"
	ColQueryStructureID = "query_structure_id"
)

// MetadataLookup resolves library metadata of candidate spectra by id.
type MetadataLookup interface {
	Entries(ctx context.Context, ids []string) (map[string]spectrum.Entry, error)
}

// Header returns the result CSV header for the given extra metadata columns.
func Header(extraColumns []string) []string {
	h := []string{
		ColQueryNumber, ColQueryID, ColPrediction,
		ColMZDifference, ColQueryMZ, ColAnalogMZ,
		ColSpectrumID, ColInChIKey, ColAnalogName, ColSmiles,
	}
	h = append(h, feature.Columns...)
	return append(h, extraColumns...)
}

// WriteCSV writes one row per ranked candidate. Query numbers are 1-based
// positions in the input batch. Tables of skipped queries contribute no rows.
// Metadata of every ranked candidate is resolved with one lookup call before
// writing; lookup may be nil, leaving metadata columns empty.
func WriteCSV(ctx context.Context, w io.Writer, tables []result.Table, extraColumns []string, lookup MetadataLookup) error {
	var entries map[string]spectrum.Entry
	if lookup != nil {
		var err error
		entries, err = lookup.Entries(ctx, candidateIDs(tables))
		if err != nil {
			return fmt.Errorf("resolve metadata: %w", err)
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Header(extraColumns)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for ti := range tables {
		t := &tables[ti]
		for ri := range t.Rows {
			if err := cw.Write(resultRecord(t, &t.Rows[ri], extraColumns, entries)); err != nil {
				return fmt.Errorf("write query %d row %d: %w", t.QueryIndex+1, ri, err)
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func candidateIDs(tables []result.Table) []string {
	var ids []string
	for ti := range tables {
		for ri := range tables[ti].Rows {
			ids = append(ids, tables[ti].Rows[ri].SpectrumID)
		}
	}
	return ids
}

func resultRecord(t *result.Table, r *result.Row, extra []string, entries map[string]spectrum.Entry) []string {
	fields := entries[r.SpectrumID].Fields

	rec := make([]string, 0, 10+feature.NumColumns+len(extra))
	rec = append(rec,
		strconv.Itoa(t.QueryIndex+1),
		t.QueryID,
		formatFloat(r.Score),
		massDifference(t.QueryParentMass, r.ParentMass),
		formatMass(t.QueryParentMass),
		formatMass(r.ParentMass),
		r.SpectrumID,
		r.StructureID,
		fields[spectrum.KeyCompoundName],
		fields[spectrum.KeySmiles],
	)
	for _, v := range r.Values() {
		rec = append(rec, formatFloat(v))
	}
	for _, col := range extra {
		rec = append(rec, fields[col])
	}
	return rec
}

// TrainingHeader returns the training CSV header.
func TrainingHeader() []string {
	h := []string{ColQueryID, ColQueryStructureID, ColSpectrumID, ColInChIKey}
	h = append(h, feature.Columns...)
	return append(h, ColLabel)
}

// WriteTrainingCSV writes labeled feature rows with normalized feature values.
func WriteTrainingCSV(w io.Writer, rows []training.Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TrainingHeader()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := range rows {
		r := &rows[i]
		rec := make([]string, 0, 5+feature.NumColumns)
		rec = append(rec, r.QueryID, r.QueryStructureID, r.Features.SpectrumID, r.Features.StructureID)
		for _, v := range r.Features.Values() {
			rec = append(rec, formatFloat(v))
		}
		rec = append(rec, formatFloat(r.Label))
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// formatMass leaves unknown (0) masses empty.
func formatMass(v float64) string {
	if v <= 0 {
		return ""
	}
	return formatFloat(v)
}

func massDifference(query, candidate float64) string {
	if query <= 0 || candidate <= 0 {
		return ""
	}
	d := query - candidate
	if d < 0 {
		d = -d
	}
	return formatFloat(d)
}

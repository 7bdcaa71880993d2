package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/kailas-cloud/ms2rank/internal/domain/feature"
	"github.com/kailas-cloud/ms2rank/internal/domain/result"
	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
	"github.com/kailas-cloud/ms2rank/internal/usecase/training"
)

type mapLookup struct {
	entries map[string]spectrum.Entry
	calls   [][]string
	err     error
}

func (m *mapLookup) Entries(_ context.Context, ids []string) (map[string]spectrum.Entry, error) {
	m.calls = append(m.calls, ids)
	if m.err != nil {
		return nil, m.err
	}
	return m.entries, nil
}

func readAll(t *testing.T, data string) [][]string {
	t.Helper()
	recs, err := csv.NewReader(strings.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return recs
}

func TestHeader_FixedOrder(t *testing.T) {
	want := []string{
		"query_spectrum_nr", "query_spectrum_id", "ms2query_model_prediction",
		"precursor_mz_difference", "precursor_mz_query_spectrum", "precursor_mz_analog",
		"spectrum_id", "inchikey", "analog_compound_name", "smiles",
		"preselection_score", "rescoring_score", "structure_score", "structure_spectrum_count",
		"neighbourhood_score", "neighbourhood_spectrum_count", "neighbourhood_average_similarity",
		"mass_similarity", "parent_mass_normalized",
		"spectrumid",
	}
	if got := Header([]string{"spectrumid"}); !reflect.DeepEqual(got, want) {
		t.Fatalf("header changed without a schema version bump:\n got %v\nwant %v", got, want)
	}
	if CSVSchemaVersion != 1 {
		t.Errorf("unexpected schema version %d", CSVSchemaVersion)
	}
}

func TestWriteCSV(t *testing.T) {
	tables := []result.Table{
		{
			QueryIndex: 0, QueryID: "q1", QueryParentMass: 180.5,
			Rows: []result.Row{
				{Row: feature.Row{SpectrumID: "sp-1", StructureID: "AAAAAAAAAAAAAA", ParentMass: 180, QueryParentMass: 180.5, StructureCount: 50}, Score: 0.9},
				{Row: feature.Row{SpectrumID: "sp-2"}, Score: 0.1},
			},
		},
		{QueryIndex: 1, QueryID: "q2", Rows: []result.Row{}, Err: errors.New("skipped")},
	}
	lookup := &mapLookup{entries: map[string]spectrum.Entry{"sp-1": {ID: "sp-1", Fields: map[string]string{
		spectrum.KeyCompoundName: "glucose", spectrum.KeySmiles: "OCC1OC(O)C(O)C(O)C1O", "spectrumid": "CCMSLIB1",
	}}}}

	var buf bytes.Buffer
	if err := WriteCSV(context.Background(), &buf, tables, []string{"spectrumid"}, lookup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lookup.calls) != 1 || !reflect.DeepEqual(lookup.calls[0], []string{"sp-1", "sp-2"}) {
		t.Errorf("expected one lookup of every candidate, got %v", lookup.calls)
	}
	recs := readAll(t, buf.String())
	if len(recs) != 3 {
		t.Fatalf("expected header and 2 rows, got %d records", len(recs))
	}

	first := recs[1]
	checks := map[int]string{
		0: "1", 1: "q1", 2: "0.9", 3: "0.5", 4: "180.5", 5: "180",
		6: "sp-1", 7: "AAAAAAAAAAAAAA", 8: "glucose", 13: "0.5", 18: "0.1805", 19: "CCMSLIB1",
	}
	for i, want := range checks {
		if first[i] != want {
			t.Errorf("column %s: expected %q, got %q", recs[0][i], want, first[i])
		}
	}

	second := recs[2]
	if second[3] != "" || second[5] != "" || second[8] != "" || second[19] != "" {
		t.Errorf("unknown values must be empty, got %v", second)
	}
}

func TestWriteCSV_NilLookup(t *testing.T) {
	tables := []result.Table{{QueryID: "q1", Rows: []result.Row{{Row: feature.Row{SpectrumID: "sp-1"}, Score: 1}}}}
	var buf bytes.Buffer
	if err := WriteCSV(context.Background(), &buf, tables, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recs := readAll(t, buf.String())
	if len(recs[1]) != len(Header(nil)) {
		t.Errorf("row width %d differs from header width %d", len(recs[1]), len(Header(nil)))
	}
}

func TestWriteCSV_LookupError(t *testing.T) {
	tables := []result.Table{{QueryID: "q1", Rows: []result.Row{{Row: feature.Row{SpectrumID: "sp-1"}, Score: 1}}}}
	lookupErr := errors.New("store down")
	var buf bytes.Buffer
	err := WriteCSV(context.Background(), &buf, tables, nil, &mapLookup{err: lookupErr})
	if !errors.Is(err, lookupErr) {
		t.Fatalf("expected lookup error, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected nothing written on lookup failure, got %q", buf.String())
	}
}

func TestWriteTrainingCSV(t *testing.T) {
	rows := []training.Row{{
		QueryID: "q1", QueryStructureID: "AAAAAAAAAAAAAA",
		Features: feature.Row{SpectrumID: "sp-1", StructureID: "BBBBBBBBBBBBBB", PreselectionScore: 0.75},
		Label:    0.42,
	}}
	var buf bytes.Buffer
	if err := WriteTrainingCSV(&buf, rows); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recs := readAll(t, buf.String())
	if !reflect.DeepEqual(recs[0], TrainingHeader()) {
		t.Fatalf("unexpected header %v", recs[0])
	}
	rec := recs[1]
	if rec[0] != "q1" || rec[2] != "sp-1" || rec[4] != "0.75" || rec[len(rec)-1] != "0.42" {
		t.Errorf("unexpected record %v", rec)
	}
}

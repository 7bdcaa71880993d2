package ingest

import (
	"bytes"
	"strings"
	"testing"
)

func TestReadSpectra(t *testing.T) {
	input := `[
	  {"spectrum_id": "sp-1", "inchikey": "AAAAAAAAAAAAAA-BBBBBBBBBB-N", "precursor_mz": 301.5,
	   "charge": 1, "centroided": true, "comment": null, "extra": {"a": 1},
	   "peaks_json": [[150.2, 10], [100.1, 50]]},
	  {"spectrum_id": "sp-2", "peaks": "[[90.0, 1.0]]"},
	  {"compound_name": "no id", "peaks": [[80.0, 1.0]]}
	]`

	spectra, rejected, err := ReadSpectra(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(spectra) != 2 {
		t.Fatalf("expected 2 spectra, got %d", len(spectra))
	}
	if len(rejected) != 1 || rejected[0].Index != 2 {
		t.Fatalf("expected record 2 rejected, got %+v", rejected)
	}

	s := spectra[0]
	if s.ID() != "sp-1" {
		t.Errorf("expected id sp-1, got %q", s.ID())
	}
	if s.StructureID() != "AAAAAAAAAAAAAA" {
		t.Errorf("expected structure from inchikey, got %q", s.StructureID())
	}
	if s.ParentMass() != 301.5 {
		t.Errorf("expected parent mass 301.5, got %g", s.ParentMass())
	}
	if peaks := s.Peaks(); len(peaks) != 2 || peaks[0].MZ != 100.1 {
		t.Errorf("expected peaks sorted by m/z, got %+v", peaks)
	}
	if v, _ := s.Get("charge"); v != "1" {
		t.Errorf("expected charge 1, got %q", v)
	}
	if v, _ := s.Get("centroided"); v != "true" {
		t.Errorf("expected centroided true, got %q", v)
	}
	if _, ok := s.Get("comment"); ok {
		t.Error("expected null metadata to be dropped")
	}
	if _, ok := s.Get("extra"); ok {
		t.Error("expected nested metadata to be dropped")
	}

	if got := spectra[1].Peaks(); len(got) != 1 || got[0].MZ != 90 {
		t.Errorf("expected string-encoded peaks decoded, got %+v", got)
	}
}

func TestReadSpectra_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not an array", `{"spectrum_id": "x"}`},
		{"bad peaks", `[{"spectrum_id": "x", "peaks": [["a", 2]]}]`},
		{"garbage", `[`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ReadSpectra(strings.NewReader(tt.input)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestWriteSpectra_ReadBack(t *testing.T) {
	src, _, err := ReadSpectra(strings.NewReader(`[{"spectrum_id": "sp-1", "smiles": "CCO", "peaks": [[100, 1]]}]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteSpectra(&buf, src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, rejected, err := ReadSpectra(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rejected) != 0 || len(got) != 1 {
		t.Fatalf("expected one spectrum back, got %d (%d rejected)", len(got), len(rejected))
	}
	if v, _ := got[0].Get("smiles"); v != "CCO" {
		t.Errorf("expected smiles kept, got %q", v)
	}
}

func TestReadPairs(t *testing.T) {
	input := "structure_id_1,structure_id_2,similarity\n" +
		"AAAAAAAAAAAAAA,BBBBBBBBBBBBBB,0.75\n" +
		"CCCCCCCCCCCCCC-DDDDDDDDDD-N, AAAAAAAAAAAAAA,0.5\n"

	pairs, err := ReadPairs(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
	if pairs[0].A != "AAAAAAAAAAAAAA" || pairs[0].B != "BBBBBBBBBBBBBB" || pairs[0].Similarity != 0.75 {
		t.Errorf("unexpected first pair %+v", pairs[0])
	}
	if pairs[1].A != "CCCCCCCCCCCCCC" {
		t.Errorf("expected inchikey reduced to structure-id, got %q", pairs[1].A)
	}
}

func TestReadPairs_NoHeader(t *testing.T) {
	pairs, err := ReadPairs(strings.NewReader("AAAAAAAAAAAAAA,BBBBBBBBBBBBBB,1\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
}

func TestReadPairs_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"bad similarity", "AAAAAAAAAAAAAA,BBBBBBBBBBBBBB,high\n"},
		{"wrong field count", "AAAAAAAAAAAAAA,BBBBBBBBBBBBBB\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadPairs(strings.NewReader(tt.input)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestWritePairs(t *testing.T) {
	var buf bytes.Buffer
	pairs, _ := ReadPairs(strings.NewReader("AAAAAAAAAAAAAA,BBBBBBBBBBBBBB,0.25\n"))
	if err := WritePairs(&buf, pairs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "structure_id_1,structure_id_2,similarity\nAAAAAAAAAAAAAA,BBBBBBBBBBBBBB,0.25\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

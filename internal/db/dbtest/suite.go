// Package dbtest is a behavioral test suite shared by every db.Store backend.
package dbtest

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/ms2rank/internal/db"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) db.Store

// Run exercises the db.Store contract against one backend.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	t.Run("Spectra", func(t *testing.T) { testSpectra(t, newStore) })
	t.Run("MassRange", func(t *testing.T) { testMassRange(t, newStore) })
	t.Run("Embeddings", func(t *testing.T) { testEmbeddings(t, newStore) })
	t.Run("Neighbors", func(t *testing.T) { testNeighbors(t, newStore) })
	t.Run("Similarities", func(t *testing.T) { testSimilarities(t, newStore) })
	t.Run("KV", func(t *testing.T) { testKV(t, newStore) })
}

func open(t *testing.T, newStore Factory) db.Store {
	t.Helper()
	s := newStore(t)
	t.Cleanup(s.Close)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	return s
}

// Records is a small library with one unannotated spectrum and one without mass.
func Records() []db.SpectrumRecord {
	return []db.SpectrumRecord{
		{
			ID: "sp-2", StructureID: "AAAAAAAAAAAAAA", ParentMass: 180.06,
			Peaks:    []db.Peak{{MZ: 91.05, Intensity: 0.4}, {MZ: 119.05, Intensity: 1}},
			Metadata: map[string]string{"compound_name": "glucose"},
		},
		{
			ID: "sp-1", StructureID: "AAAAAAAAAAAAAA", ParentMass: 180.07,
			Peaks: []db.Peak{{MZ: 91.05, Intensity: 1}},
		},
		{ID: "sp-3", StructureID: "BBBBBBBBBBBBBB", ParentMass: 250.5, Peaks: []db.Peak{{MZ: 100, Intensity: 1}}},
		{ID: "sp-4", ParentMass: 0, Peaks: []db.Peak{{MZ: 50, Intensity: 1}}},
	}
}

func testSpectra(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)

	n, err := s.CountSpectra(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected empty store, got %d (%v)", n, err)
	}
	if err := s.PutSpectra(ctx, Records()); err != nil {
		t.Fatalf("put spectra: %v", err)
	}

	got, err := s.GetSpectrum(ctx, "sp-2")
	if err != nil {
		t.Fatalf("get spectrum: %v", err)
	}
	if got.StructureID != "AAAAAAAAAAAAAA" || got.ParentMass != 180.06 {
		t.Errorf("unexpected record: %+v", got)
	}
	if len(got.Peaks) != 2 || got.Peaks[1].MZ != 119.05 || got.Peaks[0].Intensity != 0.4 {
		t.Errorf("unexpected peaks: %+v", got.Peaks)
	}
	if got.Metadata["compound_name"] != "glucose" {
		t.Errorf("unexpected metadata: %v", got.Metadata)
	}

	if _, err := s.GetSpectrum(ctx, "missing"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}

	batch, err := s.GetSpectra(ctx, []string{"sp-3", "sp-1"})
	if err != nil {
		t.Fatalf("get spectra: %v", err)
	}
	if len(batch) != 2 || batch[0].ID != "sp-3" || batch[1].ID != "sp-1" {
		t.Errorf("expected records in request order, got %+v", batch)
	}
	if _, err := s.GetSpectra(ctx, []string{"sp-1", "missing"}); !errors.Is(err, db.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound for partial batch, got %v", err)
	}

	all, err := s.ListSpectra(ctx)
	if err != nil {
		t.Fatalf("list spectra: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 records, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].ID >= all[i].ID {
			t.Fatalf("list not sorted by id: %s before %s", all[i-1].ID, all[i].ID)
		}
	}

	if n, _ := s.CountSpectra(ctx); n != 4 {
		t.Errorf("expected count 4, got %d", n)
	}
}

func testMassRange(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)
	if err := s.PutSpectra(ctx, Records()); err != nil {
		t.Fatalf("put spectra: %v", err)
	}

	tests := []struct {
		name   string
		lo, hi float64
		want   []string
	}{
		{"both glucose", 180, 181, []string{"sp-1", "sp-2"}},
		{"inclusive bounds", 180.06, 180.06, []string{"sp-2"}},
		{"wide", 0.5, 1000, []string{"sp-1", "sp-2", "sp-3"}},
		{"empty", 300, 400, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.SpectrumIDsInMassRange(ctx, tt.lo, tt.hi)
			if err != nil {
				t.Fatalf("range query: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func testEmbeddings(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)

	if _, err := s.LoadEmbeddings(ctx, "spec2vec"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound for unknown space, got %v", err)
	}

	err := s.PutEmbeddings(ctx, "spec2vec",
		[]string{"sp-2", "sp-1"},
		[][]float32{{0.5, -1, 2}, {1, 0, 0}})
	if err != nil {
		t.Fatalf("put embeddings: %v", err)
	}
	if err := s.PutEmbeddings(ctx, "ms2deepscore", []string{"sp-1"}, [][]float32{{1, 2}}); err != nil {
		t.Fatalf("put embeddings: %v", err)
	}

	set, err := s.LoadEmbeddings(ctx, "spec2vec")
	if err != nil {
		t.Fatalf("load embeddings: %v", err)
	}
	if set.Dim != 3 || len(set.IDs) != 2 || set.IDs[0] != "sp-1" || set.IDs[1] != "sp-2" {
		t.Fatalf("unexpected set: %+v", set)
	}
	if v := set.Vectors[1]; v[0] != 0.5 || v[1] != -1 || v[2] != 2 {
		t.Errorf("unexpected vector for sp-2: %v", v)
	}

	other, err := s.LoadEmbeddings(ctx, "ms2deepscore")
	if err != nil {
		t.Fatalf("load embeddings: %v", err)
	}
	if other.Dim != 2 || len(other.IDs) != 1 {
		t.Errorf("spaces must be independent, got %+v", other)
	}
}

func testNeighbors(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)

	lists := map[string][]db.Neighbor{
		"AAAAAAAAAAAAAA": {{ID: "BBBBBBBBBBBBBB", Similarity: 0.7}, {ID: "CCCCCCCCCCCCCC", Similarity: 0.2}},
		"BBBBBBBBBBBBBB": {{ID: "AAAAAAAAAAAAAA", Similarity: 0.7}},
	}
	if err := s.PutNeighbors(ctx, lists); err != nil {
		t.Fatalf("put neighbors: %v", err)
	}

	got, err := s.GetNeighbors(ctx, "AAAAAAAAAAAAAA")
	if err != nil {
		t.Fatalf("get neighbors: %v", err)
	}
	if len(got) != 2 || got[0].ID != "BBBBBBBBBBBBBB" || got[1].Similarity != 0.2 {
		t.Errorf("expected stored order, got %+v", got)
	}
	if _, err := s.GetNeighbors(ctx, "ZZZZZZZZZZZZZZ"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}

	all, err := s.ListNeighbors(ctx)
	if err != nil {
		t.Fatalf("list neighbors: %v", err)
	}
	if len(all) != 2 || len(all["BBBBBBBBBBBBBB"]) != 1 {
		t.Errorf("unexpected neighbor table: %+v", all)
	}
}

func testSimilarities(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)

	err := s.PutSimilarities(ctx, []db.SimilarityPair{
		{A: "BBBBBBBBBBBBBB", B: "AAAAAAAAAAAAAA", Similarity: 0.068},
		{A: "AAAAAAAAAAAAAA", B: "CCCCCCCCCCCCCC", Similarity: 0.106},
	})
	if err != nil {
		t.Fatalf("put similarities: %v", err)
	}

	for _, pair := range [][2]string{{"AAAAAAAAAAAAAA", "BBBBBBBBBBBBBB"}, {"BBBBBBBBBBBBBB", "AAAAAAAAAAAAAA"}} {
		v, err := s.GetSimilarity(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("get similarity %v: %v", pair, err)
		}
		if v != 0.068 {
			t.Errorf("%v: expected 0.068, got %v", pair, v)
		}
	}
	if _, err := s.GetSimilarity(ctx, "BBBBBBBBBBBBBB", "CCCCCCCCCCCCCC"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func testKV(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)

	if _, err := s.Get(ctx, "k"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if err := s.Set(ctx, "k", []byte{0, 1, 2}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "k", []byte{3}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(v) != 1 || v[0] != 3 {
		t.Errorf("expected overwritten value, got %v", v)
	}
}

package rank

import (
	"context"
	"testing"

	"github.com/kailas-cloud/ms2rank/internal/db"
	"github.com/kailas-cloud/ms2rank/internal/db/memory"
	"github.com/kailas-cloud/ms2rank/internal/domain/feature"
	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
	"github.com/kailas-cloud/ms2rank/internal/ranking"
	"github.com/kailas-cloud/ms2rank/internal/repository/library"
)

const (
	structA = "AAAAAAAAAAAAAA"
	structB = "BBBBBBBBBBBBBB"
	structC = "CCCCCCCCCCCCCC"
)

// mockEmbedder returns a fixed vector per query id.
type mockEmbedder struct {
	dim  int
	vecs map[string][]float32
	errs map[string]error
}

func (m *mockEmbedder) Embed(_ context.Context, s spectrum.Spectrum) ([]float32, error) {
	if err, ok := m.errs[s.ID()]; ok {
		return nil, err
	}
	if v, ok := m.vecs[s.ID()]; ok {
		return v, nil
	}
	return make([]float32, m.dim), nil
}

func (m *mockEmbedder) Dimensions() int { return m.dim }

type fakeWindow struct {
	ids   []string
	calls int
}

func (f *fakeWindow) IDsInMassWindow(_ context.Context, _, _ float64) ([]string, error) {
	f.calls++
	return f.ids, nil
}

func testSnapshot(t *testing.T) *library.Snapshot {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStore()
	err := s.PutSpectra(ctx, []db.SpectrumRecord{
		{ID: "sp-a1", StructureID: structA, ParentMass: 100},
		{ID: "sp-a2", StructureID: structA, ParentMass: 100.5},
		{ID: "sp-b1", StructureID: structB, ParentMass: 150},
		{ID: "sp-c1", StructureID: structC, ParentMass: 200},
		{ID: "sp-x", ParentMass: 300},
	})
	if err != nil {
		t.Fatalf("put spectra: %v", err)
	}
	ids := []string{"sp-a1", "sp-a2", "sp-b1", "sp-c1", "sp-x"}
	pre := [][]float32{{1, 0}, {0.9, 0.1}, {0.5, 0.5}, {0, 1}, {0.7, 0.3}}
	if err := s.PutEmbeddings(ctx, "ms2deepscore", ids, pre); err != nil {
		t.Fatalf("put embeddings: %v", err)
	}
	res := [][]float32{{1, 0, 0}, {0.8, 0.2, 0}, {0, 1, 0}, {0, 0, 1}, {0, 0, 1}}
	if err := s.PutEmbeddings(ctx, "spec2vec", ids, res); err != nil {
		t.Fatalf("put embeddings: %v", err)
	}
	err = s.PutNeighbors(ctx, map[string][]db.Neighbor{
		structA: {{ID: structB, Similarity: 0.5}, {ID: structC, Similarity: 0.2}},
		structB: {{ID: structA, Similarity: 0.5}},
		structC: {{ID: structA, Similarity: 0.2}},
	})
	if err != nil {
		t.Fatalf("put neighbors: %v", err)
	}

	snap, err := library.New(s, nil).Load(ctx, library.Options{
		PreselectionSpace: "ms2deepscore",
		RescoringSpace:    "spec2vec",
		NeighborK:         10,
		InMemoryNeighbors: true,
	})
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	return snap
}

// preselectionModel scores rows by their preselection similarity only.
func preselectionModel() *ranking.Linear {
	w := make([]float64, feature.NumColumns)
	w[0] = 1
	return ranking.NewLinear(w, 0)
}

func testQuery(t *testing.T, id string, mass string) spectrum.Spectrum {
	t.Helper()
	meta := map[string]string{spectrum.KeySpectrumID: id}
	if mass != "" {
		meta[spectrum.KeyParentMass] = mass
	}
	s, err := spectrum.New([]spectrum.Peak{{MZ: 50, Intensity: 1}}, meta)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

type fixture struct {
	pre, res *mockEmbedder
	window   *fakeWindow
	deps     Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		pre:    &mockEmbedder{dim: 2, vecs: map[string][]float32{"q1": {1, 0}, "q2": {0, 1}}},
		res:    &mockEmbedder{dim: 3, vecs: map[string][]float32{"q1": {1, 0, 0}, "q2": {0, 0, 1}}},
		window: &fakeWindow{},
	}
	f.deps = Deps{
		Snapshot:             testSnapshot(t),
		PreselectionEmbedder: f.pre,
		RescoringEmbedder:    f.res,
		Model:                preselectionModel(),
		MassWindow:           f.window,
	}
	return f
}

func (f *fixture) service(t *testing.T, cfg Config) *Service {
	t.Helper()
	s, err := New(f.deps, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func rowIDs(rows []feature.Row) []string {
	out := make([]string, len(rows))
	for i := range rows {
		out[i] = rows[i].SpectrumID
	}
	return out
}

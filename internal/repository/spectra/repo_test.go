package spectra

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/kailas-cloud/ms2rank/internal/db"
	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
)

func newTestRepo(t *testing.T, ms *mockStore) *Repo {
	t.Helper()
	r, err := New(ms, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestEntry_CachesLookups(t *testing.T) {
	ms := &mockStore{
		getSpectrumFn: func(_ context.Context, id string) (*db.SpectrumRecord, error) {
			return &db.SpectrumRecord{
				ID: id, StructureID: "AAAAAAAAAAAAAA", ParentMass: 180.07,
				Metadata: map[string]string{"compound_name": "glucose"},
			}, nil
		},
	}
	r := newTestRepo(t, ms)
	ctx := context.Background()

	e, err := r.Entry(ctx, "sp-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.StructureID != "AAAAAAAAAAAAAA" || e.Fields["compound_name"] != "glucose" {
		t.Errorf("unexpected entry %+v", e)
	}

	r.cache.Wait()
	if _, err := r.Entry(ctx, "sp-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms.getSpectrumHit != 1 {
		t.Errorf("expected one store lookup, got %d", ms.getSpectrumHit)
	}
}

func TestEntry_NotFound(t *testing.T) {
	r := newTestRepo(t, &mockStore{})
	_, err := r.Entry(context.Background(), "missing")
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "spectrum" {
		t.Errorf("expected spectrum NotFoundError, got %v", err)
	}
}

func TestEntries_FetchesMissesOnce(t *testing.T) {
	var fetched [][]string
	ms := &mockStore{
		getSpectraFn: func(_ context.Context, ids []string) ([]db.SpectrumRecord, error) {
			fetched = append(fetched, append([]string(nil), ids...))
			out := make([]db.SpectrumRecord, len(ids))
			for i, id := range ids {
				out[i] = db.SpectrumRecord{ID: id, Metadata: map[string]string{"compound_name": "name-" + id}}
			}
			return out, nil
		},
	}
	r := newTestRepo(t, ms)
	ctx := context.Background()

	got, err := r.Entries(ctx, []string{"b", "a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got["a"].Fields["compound_name"] != "name-a" || got["b"].Fields["compound_name"] != "name-b" {
		t.Fatalf("unexpected entries %+v", got)
	}
	if len(fetched) != 1 || len(fetched[0]) != 2 {
		t.Fatalf("expected one deduplicated fetch, got %v", fetched)
	}

	got, err = r.Entries(ctx, []string{"a", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fetched) != 2 || len(fetched[1]) != 1 || fetched[1][0] != "c" {
		t.Fatalf("expected only the uncached id fetched, got %v", fetched)
	}
	if got["a"].Fields["compound_name"] != "name-a" || got["c"].ID != "c" {
		t.Errorf("unexpected entries %+v", got)
	}

	if _, err := r.Entries(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fetched) != 2 {
		t.Errorf("expected cached entries to skip the store, got %d fetches", len(fetched))
	}
}

func TestEntries_SharesCacheWithEntry(t *testing.T) {
	ms := &mockStore{
		getSpectrumFn: func(_ context.Context, id string) (*db.SpectrumRecord, error) {
			return &db.SpectrumRecord{ID: id}, nil
		},
		getSpectraFn: func(_ context.Context, ids []string) ([]db.SpectrumRecord, error) {
			t.Fatalf("unexpected store fetch for %v", ids)
			return nil, nil
		},
	}
	r := newTestRepo(t, ms)
	ctx := context.Background()

	if _, err := r.Entry(ctx, "sp-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.cache.Wait()
	got, err := r.Entries(ctx, []string{"sp-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["sp-1"].ID != "sp-1" {
		t.Errorf("unexpected entries %+v", got)
	}
}

func TestEntries_Missing(t *testing.T) {
	ms := &mockStore{
		getSpectraFn: func(_ context.Context, _ []string) ([]db.SpectrumRecord, error) {
			return nil, db.ErrKeyNotFound
		},
	}
	r := newTestRepo(t, ms)
	if _, err := r.Entries(context.Background(), []string{"x"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEntries_Empty(t *testing.T) {
	r := newTestRepo(t, &mockStore{})
	got, err := r.Entries(context.Background(), nil)
	if err != nil || len(got) != 0 {
		t.Errorf("expected empty result, got %v (%v)", got, err)
	}
}

func TestSave_ConvertsAndEvicts(t *testing.T) {
	calls := 0
	ms := &mockStore{
		getSpectrumFn: func(_ context.Context, id string) (*db.SpectrumRecord, error) {
			calls++
			return &db.SpectrumRecord{ID: id, ParentMass: float64(calls)}, nil
		},
	}
	var saved []db.SpectrumRecord
	ms.putSpectraFn = func(_ context.Context, recs []db.SpectrumRecord) error {
		saved = recs
		return nil
	}
	r := newTestRepo(t, ms)
	ctx := context.Background()

	if _, err := r.Entry(ctx, "sp-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.cache.Wait()

	s, err := spectrum.New(
		[]spectrum.Peak{{MZ: 200, Intensity: 1}, {MZ: 100, Intensity: 0.5}},
		map[string]string{spectrum.KeySpectrumID: "sp-1", spectrum.KeyParentMass: "180.07"},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Save(ctx, []spectrum.Spectrum{s}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(saved) != 1 || saved[0].ParentMass != 180.07 || saved[0].Peaks[0].MZ != 100 {
		t.Fatalf("unexpected saved records %+v", saved)
	}

	e, err := r.Entry(ctx, "sp-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ParentMass != 2 {
		t.Errorf("expected fresh lookup after save, got %+v", e)
	}
}

func TestIDsInMassWindow(t *testing.T) {
	var lo, hi float64
	ms := &mockStore{
		massRangeFn: func(_ context.Context, l, h float64) ([]string, error) {
			lo, hi = l, h
			return []string{"sp-1"}, nil
		},
	}
	r := newTestRepo(t, ms)
	ids, err := r.IDsInMassWindow(context.Background(), 180, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || math.Abs(lo-179.5) > 1e-9 || math.Abs(hi-180.5) > 1e-9 {
		t.Errorf("unexpected query [%v, %v] -> %v", lo, hi, ids)
	}
	if _, err := r.IDsInMassWindow(context.Background(), 180, -1); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

package neighbors

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/ms2rank/internal/db"
	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/structure"
)

func TestNeighborsOf_CachesLookups(t *testing.T) {
	ms := &mockStore{
		getNeighborsFn: func(_ context.Context, id string) ([]db.Neighbor, error) {
			return []db.Neighbor{
				{ID: "BBBBBBBBBBBBBB", Similarity: 0.9},
				{ID: id, Similarity: 1},
				{ID: "CCCCCCCCCCCCCC", Similarity: 0.5},
			}, nil
		},
	}
	repo, err := New(ms, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	list, err := repo.NeighborsOf(ctx, "AAAAAAAAAAAAAA", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 || list[0].ID != "BBBBBBBBBBBBBB" || list[1].ID != "CCCCCCCCCCCCCC" {
		t.Fatalf("expected self-reference stripped, got %v", list)
	}

	top, err := repo.NeighborsOf(ctx, "AAAAAAAAAAAAAA", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(top) != 1 || top[0].Similarity != 0.9 {
		t.Errorf("expected truncation to 1, got %v", top)
	}
	if ms.getNeighborsCalls != 1 {
		t.Errorf("expected one store lookup, got %d", ms.getNeighborsCalls)
	}

	top[0].Similarity = 0
	again, _ := repo.NeighborsOf(ctx, "AAAAAAAAAAAAAA", 1)
	if again[0].Similarity != 0.9 {
		t.Error("cached list must not be mutable by callers")
	}
}

func TestNeighborsOf_NotFound(t *testing.T) {
	repo, _ := New(&mockStore{}, 0)
	_, err := repo.NeighborsOf(context.Background(), "ZZZZZZZZZZZZZZ", 10)
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) || nf.ID != "ZZZZZZZZZZZZZZ" {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestNeighborsOf_StoreError(t *testing.T) {
	ms := &mockStore{
		getNeighborsFn: func(_ context.Context, _ string) ([]db.Neighbor, error) {
			return nil, &db.Error{Op: db.OpHGet, Err: context.DeadlineExceeded}
		},
	}
	repo, _ := New(ms, 0)
	_, err := repo.NeighborsOf(context.Background(), "AAAAAAAAAAAAAA", 10)
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected store error, got %v", err)
	}
}

func TestSave_InvalidatesCache(t *testing.T) {
	version := 0.5
	ms := &mockStore{
		getNeighborsFn: func(_ context.Context, _ string) ([]db.Neighbor, error) {
			return []db.Neighbor{{ID: "BBBBBBBBBBBBBB", Similarity: version}}, nil
		},
	}
	repo, _ := New(ms, 0)
	ctx := context.Background()
	if _, err := repo.NeighborsOf(ctx, "AAAAAAAAAAAAAA", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var saved map[string][]db.Neighbor
	ms.putNeighborsFn = func(_ context.Context, lists map[string][]db.Neighbor) error {
		saved = lists
		return nil
	}
	version = 0.7
	err := repo.Save(ctx, map[string][]structure.Neighbor{
		"AAAAAAAAAAAAAA": {{ID: "BBBBBBBBBBBBBB", Similarity: 0.7}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(saved["AAAAAAAAAAAAAA"]) != 1 {
		t.Fatalf("unexpected saved table %v", saved)
	}
	list, _ := repo.NeighborsOf(ctx, "AAAAAAAAAAAAAA", 10)
	if list[0].Similarity != 0.7 {
		t.Errorf("expected fresh lookup after save, got %v", list)
	}
}

func TestSimilarity(t *testing.T) {
	ms := &mockStore{
		getSimilarityFn: func(_ context.Context, a, b string) (float64, error) {
			if db.PairKey(a, b) == "AAAAAAAAAAAAAA|BBBBBBBBBBBBBB" {
				return 0.068, nil
			}
			return 0, db.ErrKeyNotFound
		},
	}
	repo, _ := New(ms, 0)
	ctx := context.Background()

	if v, err := repo.Similarity(ctx, "BBBBBBBBBBBBBB", "AAAAAAAAAAAAAA"); err != nil || v != 0.068 {
		t.Errorf("expected 0.068, got %v (%v)", v, err)
	}
	if v, err := repo.Similarity(ctx, "CCCCCCCCCCCCCC", "CCCCCCCCCCCCCC"); err != nil || v != 1 {
		t.Errorf("expected diagonal 1, got %v (%v)", v, err)
	}
	if _, err := repo.Similarity(ctx, "AAAAAAAAAAAAAA", "CCCCCCCCCCCCCC"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveSimilarities(t *testing.T) {
	var got []db.SimilarityPair
	ms := &mockStore{
		putSimilaritiesFn: func(_ context.Context, pairs []db.SimilarityPair) error {
			got = pairs
			return nil
		},
	}
	repo, _ := New(ms, 0)
	err := repo.SaveSimilarities(context.Background(), []structure.Pair{{A: "A", B: "B", Similarity: 0.1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Similarity != 0.1 {
		t.Errorf("unexpected pairs %v", got)
	}
}

package neighbors

import (
	"context"

	"github.com/kailas-cloud/ms2rank/internal/db"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	getNeighborsFn    func(ctx context.Context, structureID string) ([]db.Neighbor, error)
	putNeighborsFn    func(ctx context.Context, lists map[string][]db.Neighbor) error
	getSimilarityFn   func(ctx context.Context, a, b string) (float64, error)
	putSimilaritiesFn func(ctx context.Context, pairs []db.SimilarityPair) error
	getNeighborsCalls int
}

func (m *mockStore) GetNeighbors(ctx context.Context, structureID string) ([]db.Neighbor, error) {
	m.getNeighborsCalls++
	if m.getNeighborsFn != nil {
		return m.getNeighborsFn(ctx, structureID)
	}
	return nil, db.ErrKeyNotFound
}

func (m *mockStore) PutNeighbors(ctx context.Context, lists map[string][]db.Neighbor) error {
	if m.putNeighborsFn != nil {
		return m.putNeighborsFn(ctx, lists)
	}
	return nil
}

func (m *mockStore) GetSimilarity(ctx context.Context, a, b string) (float64, error) {
	if m.getSimilarityFn != nil {
		return m.getSimilarityFn(ctx, a, b)
	}
	return 0, db.ErrKeyNotFound
}

func (m *mockStore) PutSimilarities(ctx context.Context, pairs []db.SimilarityPair) error {
	if m.putSimilaritiesFn != nil {
		return m.putSimilaritiesFn(ctx, pairs)
	}
	return nil
}

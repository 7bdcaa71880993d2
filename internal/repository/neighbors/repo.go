// Package neighbors serves structural neighbor lists and pairwise structural
// similarities from the store, with an LRU over neighbor lookups.
package neighbors

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kailas-cloud/ms2rank/internal/db"
	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/structure"
)

// DefaultCacheSize is the number of neighbor lists kept in memory.
const DefaultCacheSize = 4096

// store is the consumer interface for structural lookups (ISP).
type store interface {
	GetNeighbors(ctx context.Context, structureID string) ([]db.Neighbor, error)
	PutNeighbors(ctx context.Context, lists map[string][]db.Neighbor) error
	GetSimilarity(ctx context.Context, a, b string) (float64, error)
	PutSimilarities(ctx context.Context, pairs []db.SimilarityPair) error
}

// Repo implements the neighborhood NeighborSource over a store.
type Repo struct {
	store store
	cache *lru.Cache[string, []structure.Neighbor]
}

// New creates a neighbor repository. size <= 0 uses DefaultCacheSize.
func New(s store, size int) (*Repo, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []structure.Neighbor](size)
	if err != nil {
		return nil, fmt.Errorf("create neighbor cache: %w", err)
	}
	return &Repo{store: s, cache: cache}, nil
}

// NeighborsOf returns up to k stored neighbors. A structure without a stored
// list fails with domain.NotFoundError.
func (r *Repo) NeighborsOf(ctx context.Context, structureID string, k int) ([]structure.Neighbor, error) {
	list, ok := r.cache.Get(structureID)
	if !ok {
		stored, err := r.store.GetNeighbors(ctx, structureID)
		if err != nil {
			if errors.Is(err, db.ErrKeyNotFound) {
				return nil, domain.NewNotFound("neighbors", structureID)
			}
			return nil, fmt.Errorf("get neighbors %s: %w", structureID, err)
		}
		list = make([]structure.Neighbor, 0, len(stored))
		for _, n := range stored {
			if n.ID == structureID {
				continue
			}
			list = append(list, structure.Neighbor{ID: n.ID, Similarity: n.Similarity})
		}
		r.cache.Add(structureID, list)
	}

	if k > 0 && k < len(list) {
		list = list[:k]
	}
	out := make([]structure.Neighbor, len(list))
	copy(out, list)
	return out, nil
}

// Save writes neighbor lists and drops their cached copies.
func (r *Repo) Save(ctx context.Context, table map[string][]structure.Neighbor) error {
	lists := make(map[string][]db.Neighbor, len(table))
	for id, list := range table {
		recs := make([]db.Neighbor, len(list))
		for i, n := range list {
			recs[i] = db.Neighbor{ID: n.ID, Similarity: n.Similarity}
		}
		lists[id] = recs
	}
	if err := r.store.PutNeighbors(ctx, lists); err != nil {
		return fmt.Errorf("put neighbors: %w", err)
	}
	for id := range table {
		r.cache.Remove(id)
	}
	return nil
}

// Similarity returns the stored structural similarity of a pair. Identical
// ids are 1; a missing pair fails with domain.NotFoundError.
func (r *Repo) Similarity(ctx context.Context, a, b string) (float64, error) {
	if a == b {
		return 1, nil
	}
	v, err := r.store.GetSimilarity(ctx, a, b)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, domain.NewNotFound("similarity", db.PairKey(a, b))
		}
		return 0, fmt.Errorf("get similarity: %w", err)
	}
	return v, nil
}

// SaveSimilarities writes pairwise similarities.
func (r *Repo) SaveSimilarities(ctx context.Context, pairs []structure.Pair) error {
	recs := make([]db.SimilarityPair, len(pairs))
	for i, p := range pairs {
		recs[i] = db.SimilarityPair{A: p.A, B: p.B, Similarity: p.Similarity}
	}
	if err := r.store.PutSimilarities(ctx, recs); err != nil {
		return fmt.Errorf("put similarities: %w", err)
	}
	return nil
}

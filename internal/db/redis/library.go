package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/kailas-cloud/ms2rank/internal/db"
)

// LoadEmbeddings reads the whole embedding hash of a space.
func (s *Store) LoadEmbeddings(ctx context.Context, space string) (*db.EmbeddingSet, error) {
	fields, err := s.hgetAll(ctx, s.embeddingKey(space))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("embedding space %s: %w", space, db.ErrKeyNotFound)
	}

	set := &db.EmbeddingSet{Space: space, IDs: make([]string, 0, len(fields))}
	for id := range fields {
		set.IDs = append(set.IDs, id)
	}
	sort.Strings(set.IDs)
	set.Vectors = make([][]float32, len(set.IDs))
	for i, id := range set.IDs {
		vec, err := db.DecodeVector([]byte(fields[id]))
		if err != nil {
			return nil, &db.Error{Op: db.OpDecode, Err: fmt.Errorf("embedding %s/%s: %w", space, id, err)}
		}
		if i > 0 && len(vec) != set.Dim {
			return nil, &db.Error{Op: db.OpDecode, Err: fmt.Errorf("embedding %s/%s: dim %d, want %d", space, id, len(vec), set.Dim)}
		}
		set.Dim = len(vec)
		set.Vectors[i] = vec
	}
	return set, nil
}

// PutEmbeddings writes vectors into the space hash; the first write fixes the dimension.
func (s *Store) PutEmbeddings(ctx context.Context, space string, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("put embeddings: %d ids for %d vectors", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}

	dim, err := s.embeddingDim(ctx, space)
	if err != nil {
		return err
	}
	fields := make(map[string]string, len(ids))
	for i, id := range ids {
		v := vectors[i]
		if dim > 0 && dim != len(v) {
			return fmt.Errorf("put embeddings: space %s has dim %d, got %d for %s", space, dim, len(v), id)
		}
		dim = len(v)
		fields[id] = string(db.EncodeVector(v))
	}
	if err := s.hset(ctx, s.embeddingKey(space), fields); err != nil {
		return err
	}
	return s.set(ctx, s.embeddingDimKey(space), []byte(strconv.Itoa(dim)))
}

func (s *Store) embeddingDim(ctx context.Context, space string) (int, error) {
	raw, err := s.get(ctx, s.embeddingDimKey(space))
	if errors.Is(err, db.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	dim, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, &db.Error{Op: db.OpDecode, Err: fmt.Errorf("dim of %s: %w", space, err)}
	}
	return dim, nil
}

// GetNeighbors reads one neighbor list field.
func (s *Store) GetNeighbors(ctx context.Context, structureID string) ([]db.Neighbor, error) {
	raw, err := s.hget(ctx, s.neighborsKey(), structureID)
	if err != nil {
		return nil, err
	}
	return decodeNeighbors(structureID, raw)
}

// ListNeighbors reads the whole neighbor table.
func (s *Store) ListNeighbors(ctx context.Context) (map[string][]db.Neighbor, error) {
	fields, err := s.hgetAll(ctx, s.neighborsKey())
	if err != nil {
		return nil, err
	}
	out := make(map[string][]db.Neighbor, len(fields))
	for id, raw := range fields {
		list, err := decodeNeighbors(id, raw)
		if err != nil {
			return nil, err
		}
		out[id] = list
	}
	return out, nil
}

// PutNeighbors writes neighbor lists as JSON fields.
func (s *Store) PutNeighbors(ctx context.Context, lists map[string][]db.Neighbor) error {
	fields := make(map[string]string, len(lists))
	for id, list := range lists {
		if list == nil {
			list = []db.Neighbor{}
		}
		raw, err := json.Marshal(list)
		if err != nil {
			return fmt.Errorf("marshaling neighbors of %s: %w", id, err)
		}
		fields[id] = string(raw)
	}
	return s.hset(ctx, s.neighborsKey(), fields)
}

func decodeNeighbors(id, raw string) ([]db.Neighbor, error) {
	var list []db.Neighbor
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, &db.Error{Op: db.OpDecode, Err: fmt.Errorf("neighbors of %s: %w", id, err)}
	}
	return list, nil
}

// GetSimilarity reads the pair field in either order.
func (s *Store) GetSimilarity(ctx context.Context, a, b string) (float64, error) {
	raw, err := s.hget(ctx, s.similarityKey(), db.PairKey(a, b))
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &db.Error{Op: db.OpDecode, Err: fmt.Errorf("similarity %s: %w", db.PairKey(a, b), err)}
	}
	return v, nil
}

// PutSimilarities writes pair fields keyed by db.PairKey.
func (s *Store) PutSimilarities(ctx context.Context, pairs []db.SimilarityPair) error {
	fields := make(map[string]string, len(pairs))
	for _, p := range pairs {
		fields[db.PairKey(p.A, p.B)] = strconv.FormatFloat(p.Similarity, 'g', -1, 64)
	}
	return s.hset(ctx, s.similarityKey(), fields)
}

// Package memory is an in-process db.Store for tests and small libraries.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kailas-cloud/ms2rank/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

type massEntry struct {
	mass float64
	id   string
}

// Store keeps every record in maps guarded by one RWMutex. Parent masses are
// kept in a sorted slice for range queries.
type Store struct {
	mu           sync.RWMutex
	spectra      map[string]db.SpectrumRecord
	byMass       []massEntry
	embeddings   map[string]map[string][]float32
	dims         map[string]int
	neighbors    map[string][]db.Neighbor
	similarities map[string]float64
	kv           map[string][]byte
	closed       bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		spectra:      make(map[string]db.SpectrumRecord),
		embeddings:   make(map[string]map[string][]float32),
		dims:         make(map[string]int),
		neighbors:    make(map[string][]db.Neighbor),
		similarities: make(map[string]float64),
		kv:           make(map[string][]byte),
	}
}

// Ping fails only after Close.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("ping: store is closed")
	}
	return nil
}

// WaitForReady returns immediately.
func (s *Store) WaitForReady(ctx context.Context, _ time.Duration) error {
	return s.Ping(ctx)
}

// Close marks the store closed.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// GetSpectrum returns a copy of one record.
func (s *Store) GetSpectrum(_ context.Context, id string) (*db.SpectrumRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.spectra[id]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	c := cloneRecord(rec)
	return &c, nil
}

// GetSpectra returns records in ids order.
func (s *Store) GetSpectra(_ context.Context, ids []string) ([]db.SpectrumRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]db.SpectrumRecord, len(ids))
	for i, id := range ids {
		rec, ok := s.spectra[id]
		if !ok {
			return nil, fmt.Errorf("spectrum %s: %w", id, db.ErrKeyNotFound)
		}
		out[i] = cloneRecord(rec)
	}
	return out, nil
}

// ListSpectra returns every record sorted by id.
func (s *Store) ListSpectra(_ context.Context) ([]db.SpectrumRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]db.SpectrumRecord, 0, len(s.spectra))
	for _, rec := range s.spectra {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutSpectra inserts or replaces records.
func (s *Store) PutSpectra(_ context.Context, records []db.SpectrumRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("put spectrum: empty id")
		}
		s.spectra[rec.ID] = cloneRecord(rec)
	}
	s.reindex()
	return nil
}

// CountSpectra returns the number of stored spectra.
func (s *Store) CountSpectra(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.spectra), nil
}

func (s *Store) reindex() {
	s.byMass = s.byMass[:0]
	for id, rec := range s.spectra {
		if rec.ParentMass > 0 {
			s.byMass = append(s.byMass, massEntry{mass: rec.ParentMass, id: id})
		}
	}
	sort.Slice(s.byMass, func(i, j int) bool {
		if s.byMass[i].mass != s.byMass[j].mass {
			return s.byMass[i].mass < s.byMass[j].mass
		}
		return s.byMass[i].id < s.byMass[j].id
	})
}

// SpectrumIDsInMassRange binary-searches the sorted mass index.
func (s *Store) SpectrumIDsInMassRange(_ context.Context, lo, hi float64) ([]string, error) {
	if lo > hi {
		return nil, fmt.Errorf("invalid mass range [%g, %g]", lo, hi)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := sort.Search(len(s.byMass), func(i int) bool { return s.byMass[i].mass >= lo })
	var out []string
	for i := start; i < len(s.byMass) && s.byMass[i].mass <= hi; i++ {
		out = append(out, s.byMass[i].id)
	}
	sort.Strings(out)
	return out, nil
}

// LoadEmbeddings returns every vector of a space sorted by id.
func (s *Store) LoadEmbeddings(_ context.Context, space string) (*db.EmbeddingSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vecs, ok := s.embeddings[space]
	if !ok {
		return nil, fmt.Errorf("embedding space %s: %w", space, db.ErrKeyNotFound)
	}
	set := &db.EmbeddingSet{Space: space, Dim: s.dims[space]}
	for id := range vecs {
		set.IDs = append(set.IDs, id)
	}
	sort.Strings(set.IDs)
	set.Vectors = make([][]float32, len(set.IDs))
	for i, id := range set.IDs {
		set.Vectors[i] = append([]float32(nil), vecs[id]...)
	}
	return set, nil
}

// PutEmbeddings stores vectors; every vector of a space must share one length.
func (s *Store) PutEmbeddings(_ context.Context, space string, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("put embeddings: %d ids for %d vectors", len(ids), len(vectors))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.embeddings[space]
	if !ok {
		m = make(map[string][]float32, len(ids))
		s.embeddings[space] = m
	}
	for i, id := range ids {
		if d, ok := s.dims[space]; ok && d != len(vectors[i]) {
			return fmt.Errorf("put embeddings: space %s has dim %d, got %d for %s", space, d, len(vectors[i]), id)
		}
		s.dims[space] = len(vectors[i])
		m[id] = append([]float32(nil), vectors[i]...)
	}
	return nil
}

// GetNeighbors returns one stored neighbor list.
func (s *Store) GetNeighbors(_ context.Context, structureID string) ([]db.Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list, ok := s.neighbors[structureID]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return append([]db.Neighbor{}, list...), nil
}

// ListNeighbors returns a copy of every neighbor list.
func (s *Store) ListNeighbors(_ context.Context) (map[string][]db.Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]db.Neighbor, len(s.neighbors))
	for id, list := range s.neighbors {
		out[id] = append([]db.Neighbor{}, list...)
	}
	return out, nil
}

// PutNeighbors replaces the given neighbor lists.
func (s *Store) PutNeighbors(_ context.Context, lists map[string][]db.Neighbor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, list := range lists {
		s.neighbors[id] = append([]db.Neighbor{}, list...)
	}
	return nil
}

// GetSimilarity returns the similarity of a structure pair in either order.
func (s *Store) GetSimilarity(_ context.Context, a, b string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.similarities[db.PairKey(a, b)]
	if !ok {
		return 0, db.ErrKeyNotFound
	}
	return v, nil
}

// PutSimilarities stores pairwise similarities.
func (s *Store) PutSimilarities(_ context.Context, pairs []db.SimilarityPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pairs {
		s.similarities[db.PairKey(p.A, p.B)] = p.Similarity
	}
	return nil
}

// Get retrieves a value by key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set stores a value at the given key.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = append([]byte(nil), value...)
	return nil
}

func cloneRecord(r db.SpectrumRecord) db.SpectrumRecord {
	c := r
	c.Peaks = append([]db.Peak(nil), r.Peaks...)
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

package db

import (
	"context"
	"time"
)

// Store is the library persistence facade combining all sub-interfaces.
//
//nolint:interfacebloat // consumers depend on the narrow sub-interfaces
type Store interface {
	Pinger
	SpectrumStore
	RangeQuerier
	EmbeddingStore
	NeighborStore
	SimilarityStore
	KVStore
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Peak is one stored (m/z, intensity) pair.
type Peak struct {
	MZ        float64 `json:"mz"`
	Intensity float64 `json:"intensity"`
}

// SpectrumRecord is the persisted form of a library spectrum.
// ParentMass 0 means unknown.
type SpectrumRecord struct {
	ID          string
	StructureID string
	ParentMass  float64
	Peaks       []Peak
	Metadata    map[string]string
}

// SpectrumStore provides exact-match spectrum lookups by id.
type SpectrumStore interface {
	GetSpectrum(ctx context.Context, id string) (*SpectrumRecord, error)
	// GetSpectra returns records in ids order; a missing id fails with ErrKeyNotFound.
	GetSpectra(ctx context.Context, ids []string) ([]SpectrumRecord, error)
	// ListSpectra returns every record sorted by id.
	ListSpectra(ctx context.Context) ([]SpectrumRecord, error)
	PutSpectra(ctx context.Context, records []SpectrumRecord) error
	CountSpectra(ctx context.Context) (int, error)
}

// RangeQuerier filters spectrum ids by parent mass.
type RangeQuerier interface {
	// SpectrumIDsInMassRange returns ids with lo <= parent mass <= hi, sorted.
	SpectrumIDsInMassRange(ctx context.Context, lo, hi float64) ([]string, error)
}

// EmbeddingSet holds every vector of one embedding space.
type EmbeddingSet struct {
	Space   string
	Dim     int
	IDs     []string
	Vectors [][]float32
}

// EmbeddingStore persists precomputed library embeddings per space.
type EmbeddingStore interface {
	// LoadEmbeddings fails with ErrKeyNotFound for an unknown space. IDs are sorted.
	LoadEmbeddings(ctx context.Context, space string) (*EmbeddingSet, error)
	PutEmbeddings(ctx context.Context, space string, ids []string, vectors [][]float32) error
}

// Neighbor is one stored structural neighbor.
type Neighbor struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
}

// NeighborStore persists top-k structural neighbor lists.
type NeighborStore interface {
	GetNeighbors(ctx context.Context, structureID string) ([]Neighbor, error)
	ListNeighbors(ctx context.Context) (map[string][]Neighbor, error)
	PutNeighbors(ctx context.Context, lists map[string][]Neighbor) error
}

// SimilarityPair is one precomputed structural similarity.
type SimilarityPair struct {
	A, B       string
	Similarity float64
}

// SimilarityStore persists pairwise structural similarities (symmetric).
type SimilarityStore interface {
	GetSimilarity(ctx context.Context, a, b string) (float64, error)
	PutSimilarities(ctx context.Context, pairs []SimilarityPair) error
}

// KVStore provides simple key-value operations.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// PairKey returns the order-independent key of a structure pair.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

package build

import (
	"context"

	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
	"github.com/kailas-cloud/ms2rank/internal/domain/structure"
)

// SpectrumWriter persists library spectra.
type SpectrumWriter interface {
	Count(ctx context.Context) (int, error)
	Save(ctx context.Context, items []spectrum.Spectrum) error
}

// EmbeddingWriter persists one embedding space.
type EmbeddingWriter interface {
	PutEmbeddings(ctx context.Context, space string, ids []string, vectors [][]float32) error
}

// NeighborWriter persists neighbor lists and pairwise similarities.
type NeighborWriter interface {
	Save(ctx context.Context, table map[string][]structure.Neighbor) error
	SaveSimilarities(ctx context.Context, pairs []structure.Pair) error
}

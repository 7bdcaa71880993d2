package neighborhood

import (
	"context"

	"github.com/kailas-cloud/ms2rank/internal/domain/structure"
)

// Members resolves the library spectra sharing a structure-id.
type Members interface {
	SpectraForStructure(structureID string) ([]string, error)
}

// NeighborSource returns the top-k structural neighbors of a structure-id.
// It may be backed by the in-memory identity index or by a store lookup.
type NeighborSource interface {
	NeighborsOf(ctx context.Context, structureID string, k int) ([]structure.Neighbor, error)
}

// Series is the raw similarity of one query against library spectra.
type Series interface {
	Score(spectrumID string) (float64, bool)
}

// SeriesMap is a Series over an explicit map.
type SeriesMap map[string]float64

// Score returns the similarity for a spectrum id.
func (m SeriesMap) Score(id string) (float64, bool) {
	v, ok := m[id]
	return v, ok
}

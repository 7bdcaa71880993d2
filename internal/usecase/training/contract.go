package training

import (
	"context"

	"github.com/kailas-cloud/ms2rank/internal/domain/feature"
	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
)

// FeatureSource runs the pipeline up to the feature table.
type FeatureSource interface {
	FeatureRows(ctx context.Context, queries []spectrum.Spectrum, preselectionSize int) ([][]feature.Row, error)
}

// SimilarityLookup returns the precomputed structural similarity of two structure-ids.
type SimilarityLookup interface {
	Similarity(ctx context.Context, a, b string) (float64, error)
}

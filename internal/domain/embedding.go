package domain

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
)

// Embedder maps a spectrum to a fixed-length vector in one embedding space.
// Every embedding model is one implementation of this contract.
type Embedder interface {
	Embed(ctx context.Context, s spectrum.Spectrum) ([]float32, error)
	Dimensions() int
}

// BatchEmbedder vectorizes multiple spectra in one call.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, spectra []spectrum.Spectrum) ([][]float32, error)
}

// HealthChecker verifies embedding model availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BatchFallback calls Embed once per spectrum for embedders without native batching.
func BatchFallback(ctx context.Context, e Embedder, spectra []spectrum.Spectrum) ([][]float32, error) {
	out := make([][]float32, len(spectra))
	for i := range spectra {
		v, err := e.Embed(ctx, spectra[i])
		if err != nil {
			return nil, fmt.Errorf("fallback embed [%d]: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// CheckedEmbedder rejects vectors whose length differs from the declared dimensionality.
type CheckedEmbedder struct {
	inner Embedder
	space string
}

// NewCheckedEmbedder wraps an embedder with a dimensionality guard.
func NewCheckedEmbedder(inner Embedder, space string) *CheckedEmbedder {
	return &CheckedEmbedder{inner: inner, space: space}
}

// Embed delegates to the inner embedder and checks the output length.
func (e *CheckedEmbedder) Embed(ctx context.Context, s spectrum.Spectrum) ([]float32, error) {
	v, err := e.inner.Embed(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("checked embed: %w", err)
	}
	if len(v) != e.inner.Dimensions() {
		return nil, NewDimensionMismatch(e.space, s.ID(), e.inner.Dimensions(), len(v))
	}
	return v, nil
}

// Dimensions returns the inner embedder's dimensionality.
func (e *CheckedEmbedder) Dimensions() int { return e.inner.Dimensions() }

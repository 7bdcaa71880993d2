// Package binned embeds spectra by fixed-width m/z binning.
package binned

import (
	"context"
	"fmt"
	"math"

	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
)

// Defaults match the input layout of the deep embedding model.
const (
	DefaultMinMZ    = 10.0
	DefaultMaxMZ    = 1000.0
	DefaultBinWidth = 0.1
	DefaultScaling  = 0.5
)

// Config holds the binning grid.
type Config struct {
	MinMZ    float64
	MaxMZ    float64
	BinWidth float64
	// Scaling is the exponent applied to max-normalized intensities.
	Scaling float64
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.MinMZ == 0 && c.MaxMZ == 0 {
		c.MinMZ, c.MaxMZ = DefaultMinMZ, DefaultMaxMZ
	}
	if c.BinWidth == 0 {
		c.BinWidth = DefaultBinWidth
	}
	if c.Scaling == 0 {
		c.Scaling = DefaultScaling
	}
}

// Embedder maps peaks onto a fixed grid; each bin keeps its strongest peak.
type Embedder struct {
	cfg  Config
	bins int
}

// NewEmbedder validates the grid.
func NewEmbedder(cfg Config) (*Embedder, error) {
	cfg.ApplyDefaults()
	switch {
	case cfg.MinMZ < 0 || cfg.MaxMZ <= cfg.MinMZ:
		return nil, domain.Configf("embedding.binned.max_mz", "must exceed min_mz (%g), got %g", cfg.MinMZ, cfg.MaxMZ)
	case cfg.BinWidth <= 0:
		return nil, domain.Configf("embedding.binned.bin_width", "must be positive, got %g", cfg.BinWidth)
	case cfg.Scaling <= 0:
		return nil, domain.Configf("embedding.binned.scaling", "must be positive, got %g", cfg.Scaling)
	}
	bins := int(math.Ceil((cfg.MaxMZ - cfg.MinMZ) / cfg.BinWidth))
	return &Embedder{cfg: cfg, bins: bins}, nil
}

// Dimensions returns the number of bins.
func (e *Embedder) Dimensions() int { return e.bins }

// Embed bins the spectrum. Peaks outside [MinMZ, MaxMZ) are ignored.
func (e *Embedder) Embed(_ context.Context, s spectrum.Spectrum) ([]float32, error) {
	return e.Vector(&s), nil
}

// Vector is Embed without the context, for callers that feed the bins into
// another model.
func (e *Embedder) Vector(s *spectrum.Spectrum) []float32 {
	vec := make([]float32, e.bins)
	norm := s.Normalized()
	for _, p := range norm.Peaks() {
		if p.MZ < e.cfg.MinMZ || p.MZ >= e.cfg.MaxMZ {
			continue
		}
		idx := int((p.MZ - e.cfg.MinMZ) / e.cfg.BinWidth)
		if idx >= e.bins {
			idx = e.bins - 1
		}
		v := float32(math.Pow(p.Intensity, e.cfg.Scaling))
		if v > vec[idx] {
			vec[idx] = v
		}
	}
	return vec
}

// String describes the grid.
func (e *Embedder) String() string {
	return fmt.Sprintf("binned[%g-%g/%g]", e.cfg.MinMZ, e.cfg.MaxMZ, e.cfg.BinWidth)
}

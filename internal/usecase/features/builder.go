// Package features merges per-candidate signals into fixed-shape feature rows.
package features

import (
	"math"

	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/feature"
	"github.com/kailas-cloud/ms2rank/internal/usecase/neighborhood"
)

// Candidate carries the raw per-spectrum inputs of one feature row.
type Candidate struct {
	SpectrumID        string
	StructureID       string
	ParentMass        float64
	PreselectionScore float64
	RescoringScore    float64
}

// Builder assembles feature rows for one mass-decay base.
type Builder struct {
	base float64
}

// New creates a builder. base must lie in (0,1).
func New(base float64) (*Builder, error) {
	if math.IsNaN(base) || base <= 0 || base >= 1 {
		return nil, domain.Configf("pipeline.mass_base", "must be in (0,1), got %v", base)
	}
	return &Builder{base: base}, nil
}

// Base returns the mass similarity base.
func (b *Builder) Base() float64 { return b.base }

// Build returns one row per candidate in candidate order. Missing signals
// and unknown masses are filled with 0, so no row is ever dropped.
func (b *Builder) Build(queryParentMass float64, candidates []Candidate, signals map[string]neighborhood.Signals) []feature.Row {
	rows := make([]feature.Row, len(candidates))
	for i, c := range candidates {
		r := feature.Row{
			SpectrumID:        c.SpectrumID,
			StructureID:       c.StructureID,
			ParentMass:        c.ParentMass,
			QueryParentMass:   queryParentMass,
			PreselectionScore: finite(c.PreselectionScore),
			RescoringScore:    finite(c.RescoringScore),
		}
		if queryParentMass > 0 && c.ParentMass > 0 {
			r.MassSimilarity = MassSimilarity(c.ParentMass-queryParentMass, b.base)
		}
		if sig, ok := signals[c.StructureID]; ok && c.StructureID != "" {
			if sig.HasOwn {
				r.StructureScore = finite(sig.Own.Score)
				r.StructureCount = sig.Own.Count
			}
			r.NeighbourhoodScore = finite(sig.Neighborhood.Score)
			r.NeighbourhoodCount = sig.Neighborhood.Count
			r.NeighbourhoodSimilarity = finite(sig.Neighborhood.Similarity)
		}
		rows[i] = r
	}
	return rows
}

// MassSimilarity is base^|delta|, with delta in Daltons.
func MassSimilarity(delta, base float64) float64 {
	return math.Pow(base, math.Abs(delta))
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

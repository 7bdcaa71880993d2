// Package preselect narrows a full library score series to a bounded candidate set.
package preselect

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/policy"
)

// Candidate is a preselected library spectrum with its preselection-space score.
type Candidate struct {
	SpectrumID string
	Score      float64
}

// Service selects candidates under one preselection policy.
type Service struct {
	policy    policy.Preselection
	structure StructureResolver
}

// New creates a preselector. The resolver is only consulted by TopStructures.
func New(p policy.Preselection, structure StructureResolver) (*Service, error) {
	if p == "" {
		p = policy.DefaultPreselection
	}
	if !p.IsValid() {
		return nil, domain.Configf("pipeline.preselection_policy", "unknown policy %q", p)
	}
	if p == policy.TopStructures && structure == nil {
		return nil, domain.Configf("pipeline.preselection_policy", "%s requires an identity index", p)
	}
	return &Service{policy: p, structure: structure}, nil
}

// Policy returns the active preselection policy.
func (s *Service) Policy() policy.Preselection { return s.policy }

// Select returns exactly min(n, len(ids)) candidates, best first.
// ids and scores are parallel slices covering the searchable library.
// Equal scores are ordered by lower spectrum id.
func (s *Service) Select(ids []string, scores []float64, n int) ([]Candidate, error) {
	if len(ids) != len(scores) {
		return nil, fmt.Errorf("preselect: %d ids for %d scores", len(ids), len(scores))
	}
	if len(ids) == 0 {
		return nil, domain.NewInsufficientLibrary(0, 1)
	}
	if n <= 0 {
		return nil, domain.Configf("preselection_size", "must be positive, got %d", n)
	}

	all := make([]Candidate, len(ids))
	for i, id := range ids {
		all[i] = Candidate{SpectrumID: id, Score: sanitize(scores[i])}
	}

	switch s.policy {
	case policy.TopStructures:
		return s.topStructures(all, n)
	default:
		return topSpectra(all, n), nil
	}
}

func topSpectra(all []Candidate, n int) []Candidate {
	sortCandidates(all)
	if len(all) > n {
		all = all[:n]
	}
	return all
}

type group struct {
	key     string
	mean    float64
	members []Candidate
}

// topStructures ranks structure-ids by mean member score. Spectra without a
// known structure form singleton groups keyed by their own id.
func (s *Service) topStructures(all []Candidate, n int) ([]Candidate, error) {
	byKey := make(map[string]*group)
	for _, c := range all {
		key, err := s.structure.StructureOf(c.SpectrumID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("resolve structure of %q: %w", c.SpectrumID, err)
			}
			key = ""
		}
		if key == "" {
			key = "spectrum:" + c.SpectrumID
		}
		g, ok := byKey[key]
		if !ok {
			g = &group{key: key}
			byKey[key] = g
		}
		g.members = append(g.members, c)
	}

	groups := make([]*group, 0, len(byKey))
	for _, g := range byKey {
		var sum float64
		for _, m := range g.members {
			sum += m.Score
		}
		g.mean = sum / float64(len(g.members))
		sortCandidates(g.members)
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].mean != groups[j].mean {
			return groups[i].mean > groups[j].mean
		}
		return groups[i].key < groups[j].key
	})

	limit := min(n, len(all))
	out := make([]Candidate, 0, limit)
	for _, g := range groups {
		for _, m := range g.members {
			if len(out) == limit {
				return out, nil
			}
			out = append(out, m)
		}
	}
	return out, nil
}

func sortCandidates(c []Candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].Score != c[j].Score {
			return c[i].Score > c[j].Score
		}
		return c[i].SpectrumID < c[j].SpectrumID
	})
}

// sanitize ranks NaN scores below every real score.
func sanitize(v float64) float64 {
	if math.IsNaN(v) {
		return math.Inf(-1)
	}
	return v
}

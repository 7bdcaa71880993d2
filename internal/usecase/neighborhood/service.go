// Package neighborhood computes per-structure similarity signals smoothed over
// structurally related library compounds.
package neighborhood

import (
	"context"
	"errors"
	"fmt"

	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/policy"
)

// Skip reasons reported for omitted structure signals.
const (
	ReasonUnknownStructure = "unknown_structure"
	ReasonMissingNeighbors = "missing_neighbors"
)

// Own is the structure's mean score over its scored member spectra.
type Own struct {
	Score float64
	Count int
}

// Neighborhood is the neighbor-weighted score of a structure.
// Similarity is the realized average structural similarity of the
// evidence (sum of weights over sum of counts).
type Neighborhood struct {
	Score      float64
	Count      int
	Similarity float64
}

// Signals holds both aggregates of one structure-id.
// HasOwn is false when no member spectrum carries a score.
type Signals struct {
	Own          Own
	HasOwn       bool
	Neighborhood Neighborhood
}

// Skip records a structure whose signals were zero-filled.
type Skip struct {
	StructureID string
	Reason      string
	Err         error
}

// Result is the outcome of one aggregation call.
type Result struct {
	Signals map[string]Signals
	Skipped []Skip
}

// Service aggregates similarity series over the identity index.
type Service struct {
	members   Members
	neighbors NeighborSource
	k         int
	missing   policy.Missing
}

// New creates an aggregator reading k neighbors per structure.
func New(members Members, neighbors NeighborSource, k int, missing policy.Missing) (*Service, error) {
	if members == nil || neighbors == nil {
		return nil, errors.New("neighborhood: members and neighbor source are required")
	}
	if k <= 0 {
		return nil, domain.Configf("library.neighbor_k", "must be positive, got %d", k)
	}
	if missing == "" {
		missing = policy.Skip
	}
	if !missing.IsValid() {
		return nil, domain.Configf("pipeline.missing_structure", "unknown policy %q", missing)
	}
	return &Service{members: members, neighbors: neighbors, k: k, missing: missing}, nil
}

// Aggregate computes signals for each listed structure-id. Structures the
// index or neighbor source cannot resolve are zero-filled and reported in
// Result.Skipped, or abort the call under policy.Abort.
func (s *Service) Aggregate(ctx context.Context, scores Series, structures []string) (*Result, error) {
	res := &Result{Signals: make(map[string]Signals, len(structures))}
	own := make(map[string]Own)

	for _, id := range structures {
		if _, done := res.Signals[id]; done {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var sig Signals
		o, err := s.own(scores, id, own)
		switch {
		case err == nil:
			sig.Own, sig.HasOwn = o, o.Count > 0
		case errors.Is(err, domain.ErrNotFound):
			if s.missing == policy.Abort {
				return nil, fmt.Errorf("aggregate %q: %w", id, err)
			}
			res.Skipped = append(res.Skipped, Skip{StructureID: id, Reason: ReasonUnknownStructure, Err: err})
			res.Signals[id] = sig
			continue
		default:
			return nil, fmt.Errorf("aggregate %q: %w", id, err)
		}

		nb, err := s.neighborhood(ctx, scores, id, own)
		switch {
		case err == nil:
			sig.Neighborhood = nb
		case errors.Is(err, domain.ErrNotFound):
			if s.missing == policy.Abort {
				return nil, fmt.Errorf("neighbors of %q: %w", id, err)
			}
			res.Skipped = append(res.Skipped, Skip{StructureID: id, Reason: ReasonMissingNeighbors, Err: err})
		default:
			return nil, fmt.Errorf("neighbors of %q: %w", id, err)
		}
		res.Signals[id] = sig
	}
	return res, nil
}

// own returns the memoized member mean of a structure. A structure with no
// scored members yields Count 0 and is never divided.
func (s *Service) own(scores Series, id string, memo map[string]Own) (Own, error) {
	if o, ok := memo[id]; ok {
		return o, nil
	}
	members, err := s.members.SpectraForStructure(id)
	if err != nil {
		return Own{}, err
	}
	var o Own
	var sum float64
	for _, m := range members {
		v, ok := scores.Score(m)
		if !ok {
			continue
		}
		sum += v
		o.Count++
	}
	if o.Count > 0 {
		o.Score = sum / float64(o.Count)
	}
	memo[id] = o
	return o, nil
}

func (s *Service) neighborhood(ctx context.Context, scores Series, id string, memo map[string]Own) (Neighborhood, error) {
	list, err := s.neighbors.NeighborsOf(ctx, id, s.k)
	if err != nil {
		return Neighborhood{}, err
	}

	var num, den float64
	var total int
	for _, n := range list {
		o, err := s.own(scores, n.ID, memo)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return Neighborhood{}, err
		}
		if o.Count == 0 {
			continue
		}
		w := float64(o.Count) * n.Similarity
		num += w * o.Score
		den += w
		total += o.Count
	}

	nb := Neighborhood{Count: total}
	if den > 0 {
		nb.Score = num / den
	}
	if total > 0 {
		nb.Similarity = den / float64(total)
	}
	return nb, nil
}

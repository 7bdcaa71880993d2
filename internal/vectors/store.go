package vectors

import (
	"fmt"
	"math"

	"github.com/viterin/vek/vek32"
	"gonum.org/v1/gonum/mat"

	"github.com/kailas-cloud/ms2rank/internal/domain"
)

// Store is the immutable set of library vectors of one embedding space,
// safe for concurrent reads.
type Store struct {
	space  string
	dim    int
	ids    []string
	pos    map[string]int
	unit   *mat.Dense  // L x D, rows L2-normalized; nil for an empty store
	unit32 [][]float32 // same rows as float32 for restricted scoring
}

// NewStore validates vectors against dim and builds the store in the given id order.
func NewStore(space string, dim int, ids []string, vecs [][]float32) (*Store, error) {
	if dim <= 0 {
		return nil, domain.Configf("embedding."+space+".dimensions", "must be positive, got %d", dim)
	}
	if len(ids) != len(vecs) {
		return nil, fmt.Errorf("space %q: %d ids for %d vectors", space, len(ids), len(vecs))
	}

	s := &Store{
		space:  space,
		dim:    dim,
		ids:    make([]string, len(ids)),
		pos:    make(map[string]int, len(ids)),
		unit32: make([][]float32, len(ids)),
	}
	copy(s.ids, ids)

	for i, id := range ids {
		if _, dup := s.pos[id]; dup {
			return nil, fmt.Errorf("space %q: duplicate spectrum id %q", space, id)
		}
		if len(vecs[i]) != dim {
			return nil, domain.NewDimensionMismatch(space, id, dim, len(vecs[i]))
		}
		u, err := unitVector(vecs[i])
		if err != nil {
			return nil, fmt.Errorf("space %q, spectrum %q: %w", space, id, err)
		}
		s.pos[id] = i
		s.unit32[i] = u
	}

	if len(ids) > 0 {
		s.unit = toDense(s.unit32, dim)
	}
	return s, nil
}

// Space returns the embedding space name.
func (s *Store) Space() string { return s.space }

// Dim returns the vector dimensionality.
func (s *Store) Dim() int { return s.dim }

// Len returns the number of library vectors.
func (s *Store) Len() int { return len(s.ids) }

// IDs returns the spectrum ids in matrix row order. Callers must not modify the slice.
func (s *Store) IDs() []string { return s.ids }

// Position returns the matrix row of a spectrum id.
func (s *Store) Position(id string) (int, bool) {
	i, ok := s.pos[id]
	return i, ok
}

// Vector returns a copy of the unit-normalized vector of a spectrum.
func (s *Store) Vector(id string) ([]float32, error) {
	p, ok := s.pos[id]
	if !ok {
		return nil, domain.NewNotFound("embedding", id)
	}
	out := make([]float32, s.dim)
	copy(out, s.unit32[p])
	return out, nil
}

// Scores computes the Q x L cosine similarity of query vectors against every
// library vector. Row i, column j is the similarity of query i to IDs()[j].
func (s *Store) Scores(queries [][]float32) ([][]float64, error) {
	for i, q := range queries {
		if len(q) != s.dim {
			return nil, domain.NewDimensionMismatch(s.space, fmt.Sprintf("query[%d]", i), s.dim, len(q))
		}
	}
	out := make([][]float64, len(queries))
	if len(queries) == 0 {
		return out, nil
	}
	if s.unit == nil {
		for i := range out {
			out[i] = []float64{}
		}
		return out, nil
	}

	m := cosineNormalized(Normalize(toDense(queries, s.dim)), s.unit)
	for i := range out {
		out[i] = mat.Row(nil, i, m)
	}
	return out, nil
}

// ScoreIDs computes the cosine similarity of one query vector against the
// listed library spectra only, in the order given.
func (s *Store) ScoreIDs(query []float32, ids []string) ([]float64, error) {
	if len(query) != s.dim {
		return nil, domain.NewDimensionMismatch(s.space, "query", s.dim, len(query))
	}
	q, err := unitVector(query)
	if err != nil {
		return nil, fmt.Errorf("space %q query: %w", s.space, err)
	}

	out := make([]float64, len(ids))
	for i, id := range ids {
		p, ok := s.pos[id]
		if !ok {
			return nil, domain.NewNotFound("embedding", id)
		}
		out[i] = float64(vek32.Dot(q, s.unit32[p]))
	}
	return out, nil
}

func unitVector(v []float32) ([]float32, error) {
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil, fmt.Errorf("vector contains non-finite values")
		}
	}
	u := make([]float32, len(v))
	copy(u, v)
	norm := math.Sqrt(float64(vek32.Dot(u, u)))
	if norm > 0 {
		vek32.MulNumber_Inplace(u, float32(1/norm))
	}
	return u, nil
}

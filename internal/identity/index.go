// Package identity implements the structural identity index: structure-id to
// member spectra, and structure-id to its nearest structural neighbors.
package identity

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
	"github.com/kailas-cloud/ms2rank/internal/domain/structure"
)

const kindStructure = "structure"

// Index is immutable after Build and safe for concurrent reads.
type Index struct {
	members     map[string][]string
	structureOf map[string]string
	neighbors   map[string][]structure.Neighbor
	k           int
}

// Build groups library entries by structure-id and attaches neighbor lists.
// Each neighbor list is re-sorted by descending similarity (ties by id),
// stripped of self-references and truncated to k.
func Build(entries []spectrum.Entry, neighbors map[string][]structure.Neighbor, k int) (*Index, error) {
	if k <= 0 {
		return nil, domain.Configf("library.neighbor_k", "must be positive, got %d", k)
	}

	ix := &Index{
		members:     make(map[string][]string),
		structureOf: make(map[string]string, len(entries)),
		neighbors:   make(map[string][]structure.Neighbor, len(neighbors)),
		k:           k,
	}

	for _, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("library entry without spectrum id")
		}
		if _, dup := ix.structureOf[e.ID]; dup {
			return nil, fmt.Errorf("duplicate spectrum id %q", e.ID)
		}
		ix.structureOf[e.ID] = e.StructureID
		if e.StructureID != "" {
			ix.members[e.StructureID] = append(ix.members[e.StructureID], e.ID)
		}
	}
	for id := range ix.members {
		sort.Strings(ix.members[id])
	}

	for id, list := range neighbors {
		cleaned := make([]structure.Neighbor, 0, len(list))
		for _, n := range list {
			if n.ID == id || n.ID == "" {
				continue
			}
			if math.IsNaN(n.Similarity) || n.Similarity < 0 || n.Similarity > 1 {
				return nil, fmt.Errorf("structure %q: neighbor %q similarity %v outside [0,1]", id, n.ID, n.Similarity)
			}
			cleaned = append(cleaned, n)
		}
		sortNeighbors(cleaned)
		if len(cleaned) > k {
			cleaned = cleaned[:k]
		}
		ix.neighbors[id] = cleaned
	}

	return ix, nil
}

// K returns the neighbor list length fixed at build time.
func (ix *Index) K() int { return ix.k }

// Len returns the number of indexed spectra.
func (ix *Index) Len() int { return len(ix.structureOf) }

// Known reports whether the structure-id has members or a neighbor list.
func (ix *Index) Known(structureID string) bool {
	if _, ok := ix.members[structureID]; ok {
		return true
	}
	_, ok := ix.neighbors[structureID]
	return ok
}

// SpectraForStructure returns the sorted spectrum ids sharing the structure-id.
// A structure known only through the neighbor table has no members.
func (ix *Index) SpectraForStructure(structureID string) ([]string, error) {
	if !ix.Known(structureID) {
		return nil, domain.NewNotFound(kindStructure, structureID)
	}
	return ix.members[structureID], nil
}

// MemberCount returns the number of library spectra with the structure-id (0 if unknown).
func (ix *Index) MemberCount(structureID string) int { return len(ix.members[structureID]) }

// StructureOf returns the structure-id of a library spectrum ("" when unannotated).
func (ix *Index) StructureOf(spectrumID string) (string, error) {
	s, ok := ix.structureOf[spectrumID]
	if !ok {
		return "", domain.NewNotFound("spectrum", spectrumID)
	}
	return s, nil
}

// Structures returns every structure-id with at least one member, sorted.
func (ix *Index) Structures() []string {
	out := make([]string, 0, len(ix.members))
	for id := range ix.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Neighbors returns up to k closest structure-ids, most similar first.
// k <= 0 or k above the build-time length returns the full stored list.
func (ix *Index) Neighbors(structureID string, k int) ([]structure.Neighbor, error) {
	if !ix.Known(structureID) {
		return nil, domain.NewNotFound(kindStructure, structureID)
	}
	list := ix.neighbors[structureID]
	if k > 0 && k < len(list) {
		list = list[:k]
	}
	out := make([]structure.Neighbor, len(list))
	copy(out, list)
	return out, nil
}

// NeighborsOf satisfies the neighborhood source contract over in-memory lists.
func (ix *Index) NeighborsOf(_ context.Context, structureID string, k int) ([]structure.Neighbor, error) {
	return ix.Neighbors(structureID, k)
}

// NeighborTable derives top-k neighbor lists from precomputed pairwise similarities.
// Pairs are symmetric: (A,B) also yields B's neighbor A. Diagonal pairs are ignored.
func NeighborTable(pairs []structure.Pair, k int) (map[string][]structure.Neighbor, error) {
	if k <= 0 {
		return nil, domain.Configf("library.neighbor_k", "must be positive, got %d", k)
	}

	sims := make(map[string]map[string]float64)
	add := func(a, b string, v float64) {
		m, ok := sims[a]
		if !ok {
			m = make(map[string]float64)
			sims[a] = m
		}
		m[b] = v
	}
	for _, p := range pairs {
		if math.IsNaN(p.Similarity) || p.Similarity < 0 || p.Similarity > 1 {
			return nil, fmt.Errorf("similarity %v for (%s, %s) outside [0,1]", p.Similarity, p.A, p.B)
		}
		if p.A == p.B {
			continue
		}
		add(p.A, p.B, p.Similarity)
		add(p.B, p.A, p.Similarity)
	}

	table := make(map[string][]structure.Neighbor, len(sims))
	for id, m := range sims {
		list := make([]structure.Neighbor, 0, len(m))
		for other, v := range m {
			list = append(list, structure.Neighbor{ID: other, Similarity: v})
		}
		sortNeighbors(list)
		if len(list) > k {
			list = list[:k]
		}
		table[id] = list
	}
	return table, nil
}

// NeighborTableFromMatrix derives top-k neighbor lists from a dense square
// similarity matrix whose rows and columns follow ids.
func NeighborTableFromMatrix(ids []string, m mat.Matrix, k int) (map[string][]structure.Neighbor, error) {
	pairs, err := MatrixPairs(ids, m)
	if err != nil {
		return nil, err
	}
	return NeighborTable(pairs, k)
}

// matrixSymmetryTol bounds |m(i,j) - m(j,i)| for a matrix to count as symmetric.
const matrixSymmetryTol = 1e-9

// MatrixPairs flattens the upper triangle of a symmetric similarity matrix
// into pairs. The diagonal is dropped.
func MatrixPairs(ids []string, m mat.Matrix) ([]structure.Pair, error) {
	r, c := m.Dims()
	if r != len(ids) || c != len(ids) {
		return nil, fmt.Errorf("similarity matrix is %dx%d, expected %dx%d", r, c, len(ids), len(ids))
	}
	pairs := make([]structure.Pair, 0, r*(r-1)/2)
	for i := 0; i < r; i++ {
		for j := i + 1; j < c; j++ {
			v := m.At(i, j)
			if math.Abs(v-m.At(j, i)) > matrixSymmetryTol {
				return nil, fmt.Errorf("similarity matrix is not symmetric at (%s, %s): %v vs %v", ids[i], ids[j], v, m.At(j, i))
			}
			pairs = append(pairs, structure.Pair{A: ids[i], B: ids[j], Similarity: v})
		}
	}
	return pairs, nil
}

func sortNeighbors(list []structure.Neighbor) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Similarity != list[j].Similarity {
			return list[i].Similarity > list[j].Similarity
		}
		return list[i].ID < list[j].ID
	})
}

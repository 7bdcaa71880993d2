// Package vectors holds the per-space embedding store and cosine similarity scoring.
package vectors

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Normalize returns a copy of m with every row scaled to unit L2 norm.
// All-zero rows stay zero, so their similarity to anything is 0.
func Normalize(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	out := mat.DenseCopyOf(m)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, out)
		norm := floats.Norm(row, 2)
		if norm == 0 {
			continue
		}
		floats.Scale(1/norm, row)
		out.SetRow(i, row)
	}
	return out
}

// Cosine computes the Q x L cosine similarity matrix between query rows and
// library rows. Neither input needs to be normalized beforehand.
func Cosine(queries, library mat.Matrix) (*mat.Dense, error) {
	_, qc := queries.Dims()
	_, lc := library.Dims()
	if qc != lc {
		return nil, fmt.Errorf("query dimension %d does not match library dimension %d", qc, lc)
	}
	return cosineNormalized(Normalize(queries), Normalize(library)), nil
}

func cosineNormalized(qn, ln *mat.Dense) *mat.Dense {
	qr, _ := qn.Dims()
	lr, _ := ln.Dims()
	out := mat.NewDense(qr, lr, nil)
	out.Mul(qn, ln.T())
	return out
}

func toDense(rows [][]float32, dim int) *mat.Dense {
	data := make([]float64, 0, len(rows)*dim)
	for _, r := range rows {
		for _, v := range r {
			data = append(data, float64(v))
		}
	}
	return mat.NewDense(len(rows), dim, data)
}

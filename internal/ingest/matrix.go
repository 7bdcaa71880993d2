package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// SimilarityMatrix is a dense structural similarity matrix. Rows and columns
// follow IDs.
type SimilarityMatrix struct {
	IDs    []string
	Values *mat.Dense
}

// ReadMatrix decodes a CSV similarity matrix. The header row lists the
// structure-ids (or inchikeys) in column order. When the header starts with an
// empty cell, every row starts with its own id, which must match the column
// at the same position.
func ReadMatrix(r io.Reader) (*SimilarityMatrix, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("read matrix: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("read matrix: %w", err)
	}
	labeled := strings.TrimSpace(header[0]) == ""
	if labeled {
		header = header[1:]
	}
	n := len(header)
	if n == 0 {
		return nil, errors.New("read matrix: header lists no structure-ids")
	}

	ids := make([]string, n)
	seen := make(map[string]int, n)
	for i, raw := range header {
		id := structureID(raw)
		if id == "" {
			return nil, fmt.Errorf("read matrix: column %d has an empty id", i+1)
		}
		if first, dup := seen[id]; dup {
			return nil, fmt.Errorf("read matrix: duplicate id %s (columns %d and %d)", id, first+1, i+1)
		}
		seen[id] = i
		ids[i] = id
	}

	values := make([]float64, 0, n*n)
	row := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read matrix: %w", err)
		}
		if row == n {
			return nil, fmt.Errorf("read matrix: more than %d rows", n)
		}
		if labeled {
			if got := structureID(rec[0]); got != ids[row] {
				return nil, fmt.Errorf("read matrix: row %d is labeled %s, expected %s", row+1, got, ids[row])
			}
			rec = rec[1:]
		}
		for col, raw := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return nil, fmt.Errorf("read matrix: row %d column %d: invalid similarity %q", row+1, col+1, raw)
			}
			values = append(values, v)
		}
		row++
	}
	if row != n {
		return nil, fmt.Errorf("read matrix: %d rows for %d columns", row, n)
	}
	return &SimilarityMatrix{IDs: ids, Values: mat.NewDense(n, n, values)}, nil
}

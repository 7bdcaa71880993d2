package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kailas-cloud/ms2rank/internal/domain/structure"
)

// PairsHeader is the column layout of a structural similarity table.
var PairsHeader = []string{"structure_id_1", "structure_id_2", "similarity"}

// ReadPairs decodes a CSV similarity table. A header row matching
// PairsHeader is optional. Inchikeys are reduced to their structure-id.
func ReadPairs(r io.Reader) ([]structure.Pair, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(PairsHeader)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var pairs []structure.Pair
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return pairs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read pairs: %w", err)
		}
		if line == 1 && strings.EqualFold(rec[0], PairsHeader[0]) {
			continue
		}

		sim, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("read pairs: line %d: invalid similarity %q", line, rec[2])
		}
		pairs = append(pairs, structure.Pair{
			A:          structureID(rec[0]),
			B:          structureID(rec[1]),
			Similarity: sim,
		})
	}
}

// WritePairs encodes a similarity table with a header row.
func WritePairs(w io.Writer, pairs []structure.Pair) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(PairsHeader); err != nil {
		return fmt.Errorf("write pairs: %w", err)
	}
	for _, p := range pairs {
		if err := cw.Write([]string{p.A, p.B, strconv.FormatFloat(p.Similarity, 'g', -1, 64)}); err != nil {
			return fmt.Errorf("write pairs: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func structureID(raw string) string {
	raw = strings.TrimSpace(raw)
	if structure.Valid(raw) {
		return raw
	}
	if id := structure.FromInChIKey(raw); id != "" {
		return id
	}
	return raw
}

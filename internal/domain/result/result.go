// Package result holds ranked candidate tables.
package result

import "github.com/kailas-cloud/ms2rank/internal/domain/feature"

// Row is a feature row with the ranking model's predicted score.
type Row struct {
	feature.Row
	Score float64
}

// Table is the ranked candidate list of one query, sorted by descending score.
type Table struct {
	QueryIndex      int
	QueryID         string
	QueryParentMass float64
	Rows            []Row

	// PreselectionScores holds the full preselection-space score series when
	// requested; nil otherwise.
	PreselectionScores map[string]float64

	// Err is set when the query failed and the batch was configured to skip it.
	Err error
}

// Top returns the best-ranked row, or false for an empty table.
func (t *Table) Top() (Row, bool) {
	if len(t.Rows) == 0 {
		return Row{}, false
	}
	return t.Rows[0], true
}

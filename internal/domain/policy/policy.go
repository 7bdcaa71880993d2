// Package policy enumerates pipeline decision policies.
package policy

// Preselection selects how candidates are drawn from the full score series.
type Preselection string

// Preselection policies.
const (
	// TopSpectra ranks individual spectra by raw score and keeps the top N.
	TopSpectra Preselection = "top_spectra"
	// TopStructures ranks structure-ids by mean member score and keeps member
	// spectra of the best structures until N is reached.
	TopStructures Preselection = "top_structures"
)

// DefaultPreselection is used when no policy is configured.
const DefaultPreselection = TopSpectra

// IsValid checks if the preselection policy is supported.
func (p Preselection) IsValid() bool {
	return p == TopSpectra || p == TopStructures
}

// Missing decides what happens when a candidate's structure-id cannot be resolved.
type Missing string

// Missing-structure policies.
const (
	// Skip fills the candidate's structure signals with 0 and continues.
	Skip Missing = "skip"
	// Abort fails the query.
	Abort Missing = "abort"
)

// IsValid checks if the missing-structure policy is supported.
func (m Missing) IsValid() bool { return m == Skip || m == Abort }

// QueryError decides what a batch does with a failing query.
type QueryError string

// Query error policies.
const (
	// AbortBatch returns the first query error for the whole batch.
	AbortBatch QueryError = "abort"
	// SkipQuery records the error on the query's table and continues.
	SkipQuery QueryError = "skip"
)

// IsValid checks if the query error policy is supported.
func (q QueryError) IsValid() bool { return q == AbortBatch || q == SkipQuery }

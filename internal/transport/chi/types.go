package chi

import "github.com/kailas-cloud/ms2rank/internal/ingest"

// ErrorCode is the machine-readable error class of an ErrorResponse.
type ErrorCode string

// Error codes.
const (
	ErrorCodeBadRequest          ErrorCode = "bad_request"
	ErrorCodeUnauthorized        ErrorCode = "unauthorized"
	ErrorCodeValidationFailed    ErrorCode = "validation_failed"
	ErrorCodeInvalidSpectrum     ErrorCode = "invalid_spectrum"
	ErrorCodeTooManyQueries      ErrorCode = "too_many_queries"
	ErrorCodeNotFound            ErrorCode = "not_found"
	ErrorCodeDimensionMismatch   ErrorCode = "dimension_mismatch"
	ErrorCodeInsufficientLibrary ErrorCode = "insufficient_library"
	ErrorCodeInternalError       ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Code    ErrorCode       `json:"code"`
	Message string          `json:"message"`
	Details []RejectedQuery `json:"details,omitempty"`
}

// RejectedQuery points at an input spectrum that failed validation.
type RejectedQuery struct {
	Index   int    `json:"index"`
	ID      string `json:"spectrum_id,omitempty"`
	Message string `json:"message"`
}

// RankRequest is the body of POST /v1/rank and /v1/rank.csv.
type RankRequest struct {
	Spectra []ingest.Record `json:"spectra"`
}

// RankParams are the query parameters of the rank endpoints.
type RankParams struct {
	PreselectionSize       *int    `json:"preselection_size,omitempty"`
	Cutoff                 *int    `json:"cutoff,omitempty"`
	OnQueryError           *string `json:"on_query_error,omitempty"`
	KeepPreselectionScores *bool   `json:"keep_preselection_scores,omitempty"`
	ExtraColumns           *string `json:"extra_columns,omitempty"`
}

// RankResponse is the body of a successful POST /v1/rank.
type RankResponse struct {
	Results []QueryResult `json:"results"`
}

// QueryResult holds the ranked candidates of one query.
type QueryResult struct {
	QueryNumber        int                `json:"query_number"`
	QueryID            string             `json:"query_spectrum_id,omitempty"`
	ParentMass         float64            `json:"query_parent_mass"`
	Candidates         []Candidate        `json:"candidates"`
	PreselectionScores map[string]float64 `json:"preselection_scores,omitempty"`
	Error              string             `json:"error,omitempty"`
}

// Candidate is one ranked library spectrum.
type Candidate struct {
	SpectrumID  string             `json:"spectrum_id"`
	StructureID string             `json:"structure_id"`
	ParentMass  float64            `json:"parent_mass"`
	Score       float64            `json:"score"`
	Features    map[string]float64 `json:"features"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string            `json:"status"`
	Checks      map[string]string `json:"checks"`
	LibrarySize int               `json:"library_size"`
	Version     string            `json:"version"`
}

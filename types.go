package ms2rank

import (
	"context"
	"io"

	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/feature"
	"github.com/kailas-cloud/ms2rank/internal/domain/policy"
	"github.com/kailas-cloud/ms2rank/internal/domain/result"
	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
	"github.com/kailas-cloud/ms2rank/internal/domain/structure"
	"github.com/kailas-cloud/ms2rank/internal/ingest"
	"github.com/kailas-cloud/ms2rank/internal/ranking"
	"github.com/kailas-cloud/ms2rank/internal/usecase/build"
	"github.com/kailas-cloud/ms2rank/internal/usecase/health"
	"github.com/kailas-cloud/ms2rank/internal/usecase/training"
)

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrNotFound            = domain.ErrNotFound
	ErrInsufficientLibrary = domain.ErrInsufficientLibrary
	ErrDimensionMismatch   = domain.ErrDimensionMismatch
	ErrConfiguration       = domain.ErrConfiguration
	ErrLibraryNotEmpty     = build.ErrLibraryNotEmpty
)

// ConfigurationError names the rejected option. Use errors.As() to inspect.
type ConfigurationError = domain.ConfigurationError

type (
	// Spectrum is an immutable MS2 spectrum.
	Spectrum = spectrum.Spectrum
	// Peak is one (m/z, intensity) pair.
	Peak = spectrum.Peak
	// ResultTable holds the ranked candidates of one query.
	ResultTable = result.Table
	// ResultRow is one ranked candidate.
	ResultRow = result.Row
	// FeatureRow holds the rescoring features of one candidate.
	FeatureRow = feature.Row
	// SimilarityPair is the structural similarity of two structure-ids.
	SimilarityPair = structure.Pair
	// SimilarityMatrix is a dense structural similarity matrix over its IDs.
	SimilarityMatrix = ingest.SimilarityMatrix
	// TrainingRow is one labeled candidate row.
	TrainingRow = training.Row
	// TrainingReport lists labeled rows and the queries left out.
	TrainingReport = training.Report
	// BuildReport summarizes a library build.
	BuildReport = build.Report
	// BuildResult is the outcome for one library spectrum.
	BuildResult = build.Result
	// HealthReport aggregates library health checks.
	HealthReport = health.Report
	// RejectedRecord is an input spectrum that failed validation.
	RejectedRecord = ingest.Rejected
)

// PreselectionPolicy selects how candidates are drawn from the preselection scores.
type PreselectionPolicy = policy.Preselection

// Preselection policies.
const (
	TopSpectra    = policy.TopSpectra
	TopStructures = policy.TopStructures
)

// MissingPolicy decides what happens to candidates without a structure-id.
type MissingPolicy = policy.Missing

// Missing-structure policies.
const (
	SkipMissing    = policy.Skip
	AbortOnMissing = policy.Abort
)

// QueryErrorPolicy decides what a batch does with a failing query.
type QueryErrorPolicy = policy.QueryError

// Query error policies.
const (
	AbortBatch = policy.AbortBatch
	SkipQuery  = policy.SkipQuery
)

// ModelKind names a serialized ranking model format.
type ModelKind = ranking.Kind

// Ranking model formats.
const (
	ModelONNX   = ranking.KindONNX
	ModelForest = ranking.KindForest
	ModelLinear = ranking.KindLinear
)

// Embedder maps a spectrum to a fixed-length vector of one embedding space.
type Embedder interface {
	Embed(ctx context.Context, s Spectrum) ([]float32, error)
	Dimensions() int
}

// Model maps feature rows (FeatureColumns order) to one score per row.
type Model interface {
	Predict(rows [][]float64) ([]float64, error)
	NumFeatures() int
	Close() error
}

// NewSpectrum validates peaks and metadata. The "spectrum_id" key is required.
func NewSpectrum(peaks []Peak, metadata map[string]string) (Spectrum, error) {
	return spectrum.New(peaks, metadata)
}

// FeatureColumns returns the feature column names in model order.
func FeatureColumns() []string {
	out := make([]string, len(feature.Columns))
	copy(out, feature.Columns)
	return out
}

// ReadSpectra decodes a JSON array of spectrum records. Records that fail
// validation are returned separately.
func ReadSpectra(r io.Reader) ([]Spectrum, []RejectedRecord, error) {
	return ingest.ReadSpectra(r)
}

// ReadSimilarityPairs decodes a structure_id_1,structure_id_2,similarity CSV.
func ReadSimilarityPairs(r io.Reader) ([]SimilarityPair, error) {
	return ingest.ReadPairs(r)
}

// ReadSimilarityMatrix decodes a CSV similarity matrix whose header row lists
// the structure-ids in column order.
func ReadSimilarityMatrix(r io.Reader) (*SimilarityMatrix, error) {
	return ingest.ReadMatrix(r)
}

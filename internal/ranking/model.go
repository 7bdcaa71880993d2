// Package ranking loads pretrained ranking models and orders candidate rows by
// their predicted match quality.
package ranking

import (
	"fmt"
	"math"
	"sort"

	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/feature"
	"github.com/kailas-cloud/ms2rank/internal/domain/result"
)

// Kind names a serialized model format.
type Kind string

// Supported model formats.
const (
	KindONNX   Kind = "onnx"
	KindForest Kind = "forest"
	KindLinear Kind = "linear"
)

// IsValid checks if the model kind is supported.
func (k Kind) IsValid() bool {
	return k == KindONNX || k == KindForest || k == KindLinear
}

// Model maps feature rows (feature.Columns order) to scores, one per row.
type Model interface {
	Predict(rows [][]float64) ([]float64, error)
	NumFeatures() int
	Close() error
}

// Options tunes model loading.
type Options struct {
	// SharedLibraryPath locates the onnxruntime library for KindONNX.
	SharedLibraryPath string
	InputName         string
	OutputName        string
}

// Load reads a model artifact and checks its width against feature.NumColumns.
func Load(kind Kind, path string, opts Options) (Model, error) {
	if path == "" {
		return nil, domain.NewConfigurationError("ranking.path", "is required")
	}

	var (
		m   Model
		err error
	)
	switch kind {
	case KindLinear:
		m, err = LoadLinear(path)
	case KindForest:
		m, err = LoadForest(path)
	case KindONNX:
		m, err = LoadONNX(path, opts)
	default:
		return nil, domain.Configf("ranking.kind", "unknown model kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	if m.NumFeatures() != feature.NumColumns {
		_ = m.Close()
		return nil, domain.Configf("ranking.path", "model expects %d features, feature table has %d",
			m.NumFeatures(), feature.NumColumns)
	}
	return m, nil
}

// Rank attaches scores to rows, stable-sorts by descending score (ties keep
// preselection order) and truncates to cutoff. cutoff <= 0 keeps every row.
func Rank(rows []feature.Row, scores []float64, cutoff int) ([]result.Row, error) {
	if len(rows) != len(scores) {
		return nil, fmt.Errorf("rank: %d rows for %d scores", len(rows), len(scores))
	}
	out := make([]result.Row, len(rows))
	for i := range rows {
		if math.IsNaN(scores[i]) || math.IsInf(scores[i], 0) {
			return nil, fmt.Errorf("rank: model produced non-finite score for %q", rows[i].SpectrumID)
		}
		out[i] = result.Row{Row: rows[i], Score: scores[i]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if cutoff > 0 && len(out) > cutoff {
		out = out[:cutoff]
	}
	return out, nil
}

func checkWidth(rows [][]float64, width int) error {
	for i, r := range rows {
		if len(r) != width {
			return fmt.Errorf("row %d: expected %d features, got %d", i, width, len(r))
		}
	}
	return nil
}

func checkColumns(names []string) error {
	if len(names) == 0 {
		return nil
	}
	if len(names) != len(feature.Columns) {
		return domain.Configf("ranking.path", "model lists %d feature names, expected %d", len(names), len(feature.Columns))
	}
	for i, n := range names {
		if n != feature.Columns[i] {
			return domain.Configf("ranking.path", "feature %d is %q, expected %q", i, n, feature.Columns[i])
		}
	}
	return nil
}

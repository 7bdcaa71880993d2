package ranking

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kailas-cloud/ms2rank/internal/domain"
)

// Linear is a weighted sum of features plus bias.
type Linear struct {
	weights []float64
	bias    float64
}

type linearFile struct {
	Features []string  `json:"features,omitempty"`
	Weights  []float64 `json:"weights"`
	Bias     float64   `json:"bias"`
}

// NewLinear creates a linear model from weights in feature.Columns order.
func NewLinear(weights []float64, bias float64) *Linear {
	w := make([]float64, len(weights))
	copy(w, weights)
	return &Linear{weights: w, bias: bias}
}

// LoadLinear reads {"features": [...], "weights": [...], "bias": b}.
func LoadLinear(path string) (*Linear, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read linear model: %w", err)
	}
	var f linearFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, domain.Configf("ranking.path", "decode linear model %s: %v", path, err)
	}
	if err := checkColumns(f.Features); err != nil {
		return nil, err
	}
	if len(f.Weights) == 0 {
		return nil, domain.Configf("ranking.path", "linear model %s has no weights", path)
	}
	return NewLinear(f.Weights, f.Bias), nil
}

// Predict scores every row.
func (l *Linear) Predict(rows [][]float64) ([]float64, error) {
	if err := checkWidth(rows, len(l.weights)); err != nil {
		return nil, err
	}
	out := make([]float64, len(rows))
	for i, r := range rows {
		s := l.bias
		for j, w := range l.weights {
			s += w * r[j]
		}
		out[i] = s
	}
	return out, nil
}

// NumFeatures returns the number of weights.
func (l *Linear) NumFeatures() int { return len(l.weights) }

// Close is a no-op.
func (l *Linear) Close() error { return nil }

package ranking

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/feature"
)

// Aggregation combines per-tree outputs.
const (
	AggregateMean = "mean"
	AggregateSum  = "sum"
)

// Node is one decision or leaf node. A node with Left < 0 is a leaf.
// Rows go left when row[Feature] <= Threshold.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
}

// Tree is a flat node array rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Forest is a tree ensemble exported from a random forest or boosted model.
type Forest struct {
	Features    []string `json:"features,omitempty"`
	Aggregation string   `json:"aggregation"`
	BaseScore   float64  `json:"base_score"`
	Width       int      `json:"num_features"`
	Trees       []Tree   `json:"trees"`
}

// LoadForest reads a JSON tree ensemble.
func LoadForest(path string) (*Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read forest model: %w", err)
	}
	var f Forest
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, domain.Configf("ranking.path", "decode forest model %s: %v", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks node references. Children must come after their parent,
// which also rules out cycles.
func (f *Forest) Validate() error {
	if err := checkColumns(f.Features); err != nil {
		return err
	}
	if f.Width == 0 {
		f.Width = feature.NumColumns
	}
	switch f.Aggregation {
	case "":
		f.Aggregation = AggregateMean
	case AggregateMean, AggregateSum:
	default:
		return domain.Configf("ranking.path", "unknown forest aggregation %q", f.Aggregation)
	}
	if len(f.Trees) == 0 {
		return domain.Configf("ranking.path", "forest has no trees")
	}
	for t, tree := range f.Trees {
		if len(tree.Nodes) == 0 {
			return domain.Configf("ranking.path", "tree %d is empty", t)
		}
		for i, n := range tree.Nodes {
			if n.Left < 0 {
				continue
			}
			if n.Feature < 0 || n.Feature >= f.Width {
				return domain.Configf("ranking.path", "tree %d node %d: feature %d out of range", t, i, n.Feature)
			}
			if n.Left <= i || n.Right <= i || n.Left >= len(tree.Nodes) || n.Right >= len(tree.Nodes) {
				return domain.Configf("ranking.path", "tree %d node %d: invalid children %d/%d", t, i, n.Left, n.Right)
			}
		}
	}
	return nil
}

// Predict scores every row.
func (f *Forest) Predict(rows [][]float64) ([]float64, error) {
	if err := checkWidth(rows, f.Width); err != nil {
		return nil, err
	}
	out := make([]float64, len(rows))
	for i, r := range rows {
		var s float64
		for t := range f.Trees {
			s += f.Trees[t].eval(r)
		}
		if f.Aggregation == AggregateMean {
			s /= float64(len(f.Trees))
		}
		out[i] = f.BaseScore + s
	}
	return out, nil
}

func (t *Tree) eval(row []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Left < 0 {
			return n.Value
		}
		if row[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// NumFeatures returns the expected row width.
func (f *Forest) NumFeatures() int { return f.Width }

// Close is a no-op.
func (f *Forest) Close() error { return nil }

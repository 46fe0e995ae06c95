package model

import (
	"errors"
	"fmt"
	"math"
)

// ErrVectorLength is returned when a feature vector does not match the
// model's expected input width.
var ErrVectorLength = errors.New("feature vector length mismatch")

// Tree is a single binary decision tree in flat-array form: node i splits on
// Feature[i] at Threshold[i], descending to Left[i] when x <= threshold and
// Right[i] otherwise. A node with Left[i] == -1 is a leaf; Value[i] holds the
// leaf value and NodeSamples[i] (isolation trees only) the training sample
// count that reached it.
type Tree struct {
	Feature     []int     `json:"feature"`
	Threshold   []float64 `json:"threshold"`
	Left        []int     `json:"left"`
	Right       []int     `json:"right"`
	Value       []float64 `json:"value"`
	NodeSamples []int     `json:"n_node_samples,omitempty"`
}

// leaf walks the tree for x and returns the leaf node index and its depth.
func (t *Tree) leaf(x []float64) (node, depth int) {
	for t.Left[node] != -1 {
		if x[t.Feature[node]] <= t.Threshold[node] {
			node = t.Left[node]
		} else {
			node = t.Right[node]
		}
		depth++
	}
	return node, depth
}

func (t *Tree) validate(nFeatures int) error {
	n := len(t.Left)
	if len(t.Right) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
		return errors.New("inconsistent node arrays")
	}
	if n == 0 {
		return errors.New("empty tree")
	}
	for i := 0; i < n; i++ {
		if t.Left[i] == -1 {
			continue
		}
		if t.Feature[i] < 0 || t.Feature[i] >= nFeatures {
			return fmt.Errorf("node %d splits on feature %d, model has %d", i, t.Feature[i], nFeatures)
		}
		if t.Left[i] < 0 || t.Left[i] >= n || t.Right[i] < 0 || t.Right[i] >= n {
			return fmt.Errorf("node %d has child out of range", i)
		}
	}
	return nil
}

// GradientBoostedTrees is a boosted binary classifier: the sum of per-tree
// leaf values plus a base score, squashed through a sigmoid. All three
// classifier families in the bundle (catboost, xgboost, lightgbm) are
// exported to this shared representation.
type GradientBoostedTrees struct {
	NFeatures int     `json:"n_features"`
	BaseScore float64 `json:"base_score"`
	Trees     []Tree  `json:"trees"`
}

// PredictProba returns the positive-class probability for the feature
// vector. The vector width must match the model exactly.
func (m *GradientBoostedTrees) PredictProba(x []float64) (float64, error) {
	if len(x) != m.NFeatures {
		return 0, fmt.Errorf("%w: got %d features, model expects %d", ErrVectorLength, len(x), m.NFeatures)
	}
	raw := m.BaseScore
	for i := range m.Trees {
		leaf, _ := m.Trees[i].leaf(x)
		raw += m.Trees[i].Value[leaf]
	}
	return sigmoid(raw), nil
}

func (m *GradientBoostedTrees) validate() error {
	if m.NFeatures <= 0 {
		return errors.New("n_features must be positive")
	}
	if len(m.Trees) == 0 {
		return errors.New("no trees")
	}
	for i := range m.Trees {
		if err := m.Trees[i].validate(m.NFeatures); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

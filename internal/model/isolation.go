package model

import (
	"errors"
	"fmt"
	"math"
)

// eulerGamma is the Euler-Mascheroni constant, used in the average path
// length normalization of isolation trees.
const eulerGamma = 0.5772156649015329

// IsolationForest is an isolation-forest outlier detector exported from the
// training pipeline. DecisionFunction follows the sklearn convention:
// negative for anomalies, positive for inliers, zero at the contamination
// offset.
type IsolationForest struct {
	NFeatures  int     `json:"n_features"`
	MaxSamples int     `json:"max_samples"`
	Offset     float64 `json:"offset"`
	Trees      []Tree  `json:"trees"`
}

// DecisionFunction scores the feature vector. Callers that want
// "higher = more anomalous" must flip the sign.
func (f *IsolationForest) DecisionFunction(x []float64) (float64, error) {
	if len(x) != f.NFeatures {
		return 0, fmt.Errorf("%w: got %d features, model expects %d", ErrVectorLength, len(x), f.NFeatures)
	}

	var total float64
	for i := range f.Trees {
		t := &f.Trees[i]
		leaf, depth := t.leaf(x)
		samples := 1
		if len(t.NodeSamples) > leaf {
			samples = t.NodeSamples[leaf]
		}
		total += float64(depth) + avgPathLength(samples)
	}
	meanDepth := total / float64(len(f.Trees))

	// Anomaly score in (0, 1]: short average paths isolate quickly.
	score := math.Pow(2, -meanDepth/avgPathLength(f.MaxSamples))

	// sklearn: score_samples = -score; decision = score_samples - offset.
	return -score - f.Offset, nil
}

func (f *IsolationForest) validate() error {
	if f.NFeatures <= 0 {
		return errors.New("n_features must be positive")
	}
	if f.MaxSamples < 2 {
		return errors.New("max_samples must be at least 2")
	}
	if len(f.Trees) == 0 {
		return errors.New("no trees")
	}
	for i := range f.Trees {
		if err := f.Trees[i].validate(f.NFeatures); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

// avgPathLength is c(n): the average path length of an unsuccessful BST
// search over n samples. Defined as 0 for n <= 1 and 1 for n == 2.
func avgPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		nf := float64(n)
		return 2*(math.Log(nf-1)+eulerGamma) - 2*(nf-1)/nf
	}
}

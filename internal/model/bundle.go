// Package model loads the trained fraud model bundle: an anomaly detector,
// three boosted-tree classifiers, the ordered feature schema, the categorical
// encoders, the ensemble weights, and the calibrated decision threshold.
//
// The bundle is a single JSON artifact exported by the training pipeline.
// It is loaded once at startup and read-only afterwards, so every component
// may share it across goroutines without locking.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"
)

// weightTolerance is how far the ensemble weights may drift from summing
// to exactly 1 before the bundle is rejected at load time.
const weightTolerance = 1e-6

// HistoryRecord is a pre-seeded past transaction shipped with the bundle to
// warm-start the history store.
type HistoryRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Amount    float64   `json:"amount"`
	Direction string    `json:"direction"`
}

// Bundle is the loaded model artifact. All fields are immutable after Load.
type Bundle struct {
	Version     string
	Threshold   float64
	Weights     [3]float64
	FeatureCols []string
	Direction   *LabelEncoder

	Iso      *IsolationForest
	CatBoost *GradientBoostedTrees
	XGBoost  *GradientBoostedTrees
	LightGBM *GradientBoostedTrees

	// History maps customer id to pre-seeded records; may be empty.
	History map[int64][]HistoryRecord
}

// bundleFile is the on-disk JSON layout.
type bundleFile struct {
	Version         string                     `json:"version"`
	Threshold       *float64                   `json:"threshold"`
	EnsembleWeights []float64                  `json:"ensemble_weights"`
	FeatureCols     []string                   `json:"feature_cols"`
	Encoders        map[string][]string        `json:"encoders"`
	IsolationForest *IsolationForest           `json:"isolation_forest"`
	CatBoost        *GradientBoostedTrees      `json:"catboost"`
	XGBoost         *GradientBoostedTrees      `json:"xgboost"`
	LightGBM        *GradientBoostedTrees      `json:"lightgbm"`
	History         map[string][]HistoryRecord `json:"history"`
}

// Load reads and validates a model bundle from disk.
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config, not user input
	if err != nil {
		return nil, fmt.Errorf("read model bundle: %w", err)
	}

	var file bundleFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse model bundle: %w", err)
	}

	b, err := fromFile(&file)
	if err != nil {
		return nil, fmt.Errorf("invalid model bundle %s: %w", path, err)
	}
	return b, nil
}

func fromFile(file *bundleFile) (*Bundle, error) {
	if file.Threshold == nil {
		return nil, errors.New("missing decision threshold")
	}
	if len(file.FeatureCols) == 0 {
		return nil, errors.New("missing feature_cols")
	}
	if len(file.EnsembleWeights) != 3 {
		return nil, fmt.Errorf("expected 3 ensemble weights, got %d", len(file.EnsembleWeights))
	}

	var weights [3]float64
	copy(weights[:], file.EnsembleWeights)
	if sum := weights[0] + weights[1] + weights[2]; math.Abs(sum-1.0) > weightTolerance {
		return nil, fmt.Errorf("ensemble weights sum to %g, want 1", sum)
	}

	classes, ok := file.Encoders["direction"]
	if !ok || len(classes) == 0 {
		return nil, errors.New("missing direction encoder")
	}

	if file.IsolationForest == nil {
		return nil, errors.New("missing isolation_forest")
	}
	if err := file.IsolationForest.validate(); err != nil {
		return nil, fmt.Errorf("isolation_forest: %w", err)
	}
	// The detector sees the ordered schema; the classifiers additionally see
	// the derived anomaly score appended as the final input.
	if file.IsolationForest.NFeatures != len(file.FeatureCols) {
		return nil, fmt.Errorf("isolation_forest expects %d features, schema has %d",
			file.IsolationForest.NFeatures, len(file.FeatureCols))
	}

	classifiers := map[string]*GradientBoostedTrees{
		"catboost": file.CatBoost,
		"xgboost":  file.XGBoost,
		"lightgbm": file.LightGBM,
	}
	for name, clf := range classifiers {
		if clf == nil {
			return nil, fmt.Errorf("missing %s classifier", name)
		}
		if err := clf.validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if clf.NFeatures != len(file.FeatureCols)+1 {
			return nil, fmt.Errorf("%s expects %d features, want schema+anomaly = %d",
				name, clf.NFeatures, len(file.FeatureCols)+1)
		}
	}

	version := file.Version
	if version == "" {
		version = "unknown"
	}

	history := make(map[int64][]HistoryRecord, len(file.History))
	for key, records := range file.History {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("history key %q is not a customer id", key)
		}
		history[id] = records
	}

	return &Bundle{
		Version:     version,
		Threshold:   *file.Threshold,
		Weights:     weights,
		FeatureCols: append([]string(nil), file.FeatureCols...),
		Direction:   NewLabelEncoder(classes),
		Iso:         file.IsolationForest,
		CatBoost:    file.CatBoost,
		XGBoost:     file.XGBoost,
		LightGBM:    file.LightGBM,
		History:     history,
	}, nil
}

// Package ensemble fuses the anomaly detector and the three classifiers
// into a single fraud probability and risk level.
//
// The anomaly score is sign-flipped so that higher means more anomalous,
// then appended to the classifier input: the classifiers were trained with
// it as a feature. Any underlying model failure propagates unmodified; there
// is no partial ensemble result and no retry (a retry must rebuild the
// feature vector from scratch).
package ensemble

import (
	"fmt"
	"math"
)

// weightTolerance bounds how far fusion weights may drift from summing to 1.
const weightTolerance = 1e-6

// Risk level bands over the fused probability, evaluated high to low.
const (
	criticalBand = 0.8
	highBand     = 0.6
	mediumBand   = 0.4
)

// AnomalyDetector is anything exposing an isolation-style decision function:
// negative for outliers, positive for inliers.
type AnomalyDetector interface {
	DecisionFunction(x []float64) (float64, error)
}

// Classifier is anything returning a positive-class probability in [0, 1].
type Classifier interface {
	PredictProba(x []float64) (float64, error)
}

// RiskLevel is the display band for a fused probability.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// RiskLevelFor classifies a fused probability, first match wins.
func RiskLevelFor(fused float64) RiskLevel {
	switch {
	case fused >= criticalBand:
		return RiskCritical
	case fused >= highBand:
		return RiskHigh
	case fused >= mediumBand:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Bundle holds the individual model outputs and the fused probability for
// one scoring call. Immutable once returned.
type Bundle struct {
	Anomaly  float64 `json:"anomaly"`
	CatBoost float64 `json:"catboost"`
	XGBoost  float64 `json:"xgboost"`
	LightGBM float64 `json:"lightgbm"`
	Fused    float64 `json:"-"`
}

// Scorer wraps the four opaque models and the fixed fusion weights.
// Safe for concurrent use: the models are read-only after load.
type Scorer struct {
	iso     AnomalyDetector
	cat     Classifier
	xgb     Classifier
	lgb     Classifier
	weights [3]float64
}

// NewScorer builds a scorer. The weights must sum to 1; this is validated
// once here, never re-validated per call.
func NewScorer(iso AnomalyDetector, cat, xgb, lgb Classifier, weights [3]float64) (*Scorer, error) {
	if sum := weights[0] + weights[1] + weights[2]; math.Abs(sum-1.0) > weightTolerance {
		return nil, fmt.Errorf("ensemble weights sum to %g, want 1", sum)
	}
	return &Scorer{iso: iso, cat: cat, xgb: xgb, lgb: lgb, weights: weights}, nil
}

// Score runs the full ensemble over an ordered feature vector.
func (s *Scorer) Score(x []float64) (*Bundle, error) {
	decision, err := s.iso.DecisionFunction(x)
	if err != nil {
		return nil, err
	}
	anomaly := -decision // higher = more anomalous

	// The classifiers see the schema plus the derived anomaly score.
	xc := make([]float64, len(x)+1)
	copy(xc, x)
	xc[len(x)] = anomaly

	pCat, err := s.cat.PredictProba(xc)
	if err != nil {
		return nil, err
	}
	pXGB, err := s.xgb.PredictProba(xc)
	if err != nil {
		return nil, err
	}
	pLGB, err := s.lgb.PredictProba(xc)
	if err != nil {
		return nil, err
	}

	fused := s.weights[0]*pCat + s.weights[1]*pXGB + s.weights[2]*pLGB

	return &Bundle{
		Anomaly:  anomaly,
		CatBoost: pCat,
		XGBoost:  pXGB,
		LightGBM: pLGB,
		Fused:    fused,
	}, nil
}

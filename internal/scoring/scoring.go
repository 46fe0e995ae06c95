// Package scoring orchestrates the online fraud scoring pipeline: build
// features from the customer's pre-commit history, run the model ensemble,
// classify the risk level, generate alerts, and only then commit the
// transaction into history so a transaction never sees itself in its own
// feature computation.
package scoring

import (
	"context"
	"time"

	"github.com/nurbekov/fraudscore/internal/ensemble"
)

// Transaction is one incoming transaction to score.
type Transaction struct {
	ID         int64     `json:"id,omitempty"`
	CustomerID int64     `json:"cst_dim_id"`
	Amount     float64   `json:"amount"`
	Direction  string    `json:"direction"`
	Timestamp  time.Time `json:"transdatetime"`
	Target     *int      `json:"target,omitempty"`
}

// Result is the outcome of scoring a single transaction. Immutable,
// serializable to a flat record for tabular export.
type Result struct {
	IsFraud          bool               `json:"is_fraud"`
	FraudProbability float64            `json:"fraud_probability"`
	RiskLevel        ensemble.RiskLevel `json:"risk_level"`
	Alerts           []string           `json:"alerts"`
	ProcessingTimeMS float64            `json:"processing_time_ms"`
	ModelVersion     string             `json:"model_version"`
	ThresholdUsed    float64            `json:"threshold_used"`
	IndividualScores ensemble.Bundle    `json:"individual_scores"`

	// DefaultedFeatures lists schema names filled with the default 0 during
	// feature building. Diagnostic only; omitted from the wire format.
	DefaultedFeatures []string `json:"-"`
}

// Stats is a read-only snapshot of the engine, with no side effects.
type Stats struct {
	TotalCustomersInHistory int     `json:"total_customers_in_history"`
	ModelVersion            string  `json:"model_version"`
	Threshold               float64 `json:"threshold"`
	NumFeatures             int     `json:"num_features"`
}

// ValidationError reports a required transaction field that is missing.
// Raised before any state mutation: the history store stays untouched.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return "missing required field: " + e.Field
}

// Event is one audited scoring outcome. Persisted best-effort after every
// scoring call.
type Event struct {
	ID               string             `json:"id"`
	CustomerID       int64              `json:"customerId"`
	TransactionID    int64              `json:"transactionId,omitempty"`
	FraudProbability float64            `json:"fraudProbability"`
	RiskLevel        ensemble.RiskLevel `json:"riskLevel"`
	IsFraud          bool               `json:"isFraud"`
	Alerts           []string           `json:"alerts"`
	Scores           ensemble.Bundle    `json:"scores"`
	ProcessingTimeMS float64            `json:"processingTimeMs"`
	ScoredAt         time.Time          `json:"scoredAt"`
}

// Store persists scoring events for the audit trail.
type Store interface {
	Record(ctx context.Context, event *Event) error
	ListByCustomer(ctx context.Context, customerID int64, limit int, cursor string) ([]*Event, string, error)
}

// EventEmitter pushes scored transactions to realtime subscribers.
type EventEmitter interface {
	EmitScore(customerID int64, result *Result)
}

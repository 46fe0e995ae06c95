package scoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nurbekov/fraudscore/internal/circuitbreaker"
	"github.com/nurbekov/fraudscore/internal/ensemble"
	"github.com/nurbekov/fraudscore/internal/pagination"
	"github.com/nurbekov/fraudscore/internal/retry"
)

// auditBreakerKey is the single circuit key for the audit database.
const auditBreakerKey = "scoring_events"

// PostgresStore persists scoring events in PostgreSQL. Writes are retried
// with backoff, behind a circuit breaker so a down database does not get
// hammered by every scored transaction.
type PostgresStore struct {
	db      *sql.DB
	breaker *circuitbreaker.Breaker
}

// NewPostgresStore creates a PostgreSQL-backed scoring event store.
// The scoring_events table is created by the goose migrations.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:      db,
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

func (s *PostgresStore) Record(ctx context.Context, event *Event) error {
	alertsJSON, err := json.Marshal(event.Alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}
	scoresJSON, err := json.Marshal(event.Scores)
	if err != nil {
		return fmt.Errorf("failed to marshal scores: %w", err)
	}

	if !s.breaker.Allow(auditBreakerKey) {
		return fmt.Errorf("audit database circuit open, dropping event %s", event.ID)
	}

	err = retry.Do(ctx, 3, 100*time.Millisecond, func() error {
		_, execErr := s.db.ExecContext(ctx, `
			INSERT INTO scoring_events
				(id, customer_id, transaction_id, fraud_probability, risk_level,
				 is_fraud, alerts, scores, processing_time_ms, scored_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			event.ID,
			event.CustomerID,
			event.TransactionID,
			event.FraudProbability,
			string(event.RiskLevel),
			event.IsFraud,
			alertsJSON,
			scoresJSON,
			event.ProcessingTimeMS,
			event.ScoredAt,
		)
		return execErr
	})
	if err != nil {
		s.breaker.RecordFailure(auditBreakerKey)
		return fmt.Errorf("failed to record scoring event: %w", err)
	}
	s.breaker.RecordSuccess(auditBreakerKey)
	return nil
}

func (s *PostgresStore) ListByCustomer(ctx context.Context, customerID int64, limit int, cursor string) ([]*Event, string, error) {
	cur, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}

	query := `
		SELECT id, customer_id, transaction_id, fraud_probability, risk_level,
		       is_fraud, alerts, scores, processing_time_ms, scored_at
		FROM scoring_events
		WHERE customer_id = $1`
	args := []interface{}{customerID}
	if cur != nil {
		query += ` AND scored_at < $2`
		args = append(args, cur.CreatedAt)
	}
	query += fmt.Sprintf(` ORDER BY scored_at DESC LIMIT %d`, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list scoring events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*Event
	for rows.Next() {
		var e Event
		var alertsJSON, scoresJSON []byte
		var level string
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.TransactionID, &e.FraudProbability, &level,
			&e.IsFraud, &alertsJSON, &scoresJSON, &e.ProcessingTimeMS, &e.ScoredAt); err != nil {
			continue
		}
		e.RiskLevel = ensemble.RiskLevel(level)
		e.Alerts = []string{}
		_ = json.Unmarshal(alertsJSON, &e.Alerts)
		_ = json.Unmarshal(scoresJSON, &e.Scores)
		events = append(events, &e)
	}

	items, next, _ := pagination.ComputePage(events, limit, func(e *Event) (time.Time, string) {
		return e.ScoredAt, e.ID
	})
	return items, next, nil
}

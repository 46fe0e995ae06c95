package scoring

import (
	"context"
	"time"

	"github.com/nurbekov/fraudscore/internal/ensemble"
	"github.com/nurbekov/fraudscore/internal/features"
	"github.com/nurbekov/fraudscore/internal/history"
	"github.com/nurbekov/fraudscore/internal/idgen"
	"github.com/nurbekov/fraudscore/internal/metrics"
	"github.com/nurbekov/fraudscore/internal/syncutil"
	"github.com/nurbekov/fraudscore/internal/traces"
)

// Engine is the scoring orchestrator. It owns the per-customer lock
// discipline: the whole read-history, score, commit sequence for one
// customer is serialized, so concurrent requests for the same customer id
// cannot interleave append/prune/read.
type Engine struct {
	builder   *features.Builder
	scorer    *ensemble.Scorer
	history   *history.Store
	threshold float64
	version   string

	store  Store        // audit trail, may be nil
	events EventEmitter // realtime stream, may be nil
	locks  syncutil.ShardedMutex
}

// NewEngine creates a scoring engine over a loaded model's feature builder
// and ensemble scorer, backed by the given history store.
func NewEngine(builder *features.Builder, scorer *ensemble.Scorer, hist *history.Store, threshold float64, version string) *Engine {
	return &Engine{
		builder:   builder,
		scorer:    scorer,
		history:   hist,
		threshold: threshold,
		version:   version,
	}
}

// WithStore attaches an audit store. Events are recorded asynchronously,
// best-effort.
func (e *Engine) WithStore(s Store) *Engine {
	e.store = s
	return e
}

// WithEvents attaches a realtime event emitter.
func (e *Engine) WithEvents(em EventEmitter) *Engine {
	e.events = em
	return e
}

// ScoreTransaction scores one transaction and commits it into history.
//
// Sequence: validate, build features from the pre-commit history, score,
// classify, generate alerts, then append to history. Validation failures
// leave history untouched; scoring failures propagate unmodified with no
// partial result.
func (e *Engine) ScoreTransaction(ctx context.Context, tx *Transaction, overrides map[string]float64) (*Result, error) {
	start := time.Now()

	if err := validate(tx); err != nil {
		metrics.ScoringFailuresTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	_, span := traces.StartSpan(ctx, "scoring.ScoreTransaction",
		traces.CustomerID(tx.CustomerID),
		traces.Amount(tx.Amount),
	)
	defer span.End()

	// Serialize read -> score -> commit per customer id.
	unlock := e.locks.Lock(tx.CustomerID)
	defer unlock()

	hist := e.history.Get(tx.CustomerID)
	vec := e.builder.Build(tx.Timestamp, tx.Amount, tx.Direction, hist, overrides)

	bundle, err := e.scorer.Score(e.builder.Ordered(vec))
	if err != nil {
		metrics.ScoringFailuresTotal.WithLabelValues("scoring").Inc()
		return nil, err
	}

	level := ensemble.RiskLevelFor(bundle.Fused)
	alerts := Alerts(vec, bundle.Fused)
	span.SetAttributes(traces.RiskLevel(string(level)), traces.ModelVersion(e.version))

	// Commit after scoring: the transaction is visible to the NEXT call only.
	e.history.Append(tx.CustomerID, history.Record{
		Timestamp: tx.Timestamp,
		Amount:    tx.Amount,
		Direction: tx.Direction,
	})

	elapsed := time.Since(start)

	result := &Result{
		IsFraud:           bundle.Fused >= e.threshold,
		FraudProbability:  bundle.Fused,
		RiskLevel:         level,
		Alerts:            alerts,
		ProcessingTimeMS:  float64(elapsed.Microseconds()) / 1000.0,
		ModelVersion:      e.version,
		ThresholdUsed:     e.threshold,
		IndividualScores:  *bundle,
		DefaultedFeatures: vec.Defaulted,
	}

	metrics.ScoringDuration.Observe(elapsed.Seconds())
	metrics.ScoredTransactionsTotal.WithLabelValues(string(level)).Inc()
	metrics.FraudAlertsTotal.Add(float64(len(alerts)))
	metrics.HistoryCustomers.Set(float64(e.history.Customers()))

	// Persist asynchronously (best-effort audit trail).
	if e.store != nil {
		event := &Event{
			ID:               idgen.WithPrefix("score_"),
			CustomerID:       tx.CustomerID,
			TransactionID:    tx.ID,
			FraudProbability: bundle.Fused,
			RiskLevel:        level,
			IsFraud:          result.IsFraud,
			Alerts:           alerts,
			Scores:           *bundle,
			ProcessingTimeMS: result.ProcessingTimeMS,
			ScoredAt:         time.Now().UTC(),
		}
		go func() {
			_ = e.store.Record(context.Background(), event)
		}()
	}

	if e.events != nil {
		e.events.EmitScore(tx.CustomerID, result)
	}

	return result, nil
}

// ScoreBatch scores transactions strictly sequentially, in input order.
// Per-customer behavioral overrides are looked up by customer id. A
// transaction committed earlier in the batch is visible to later
// transactions for the same customer. The first failure aborts the batch.
func (e *Engine) ScoreBatch(ctx context.Context, txs []*Transaction, patterns map[int64]map[string]float64) ([]*Result, error) {
	ctx, span := traces.StartSpan(ctx, "scoring.ScoreBatch", traces.BatchSize(len(txs)))
	defer span.End()

	results := make([]*Result, 0, len(txs))
	for _, tx := range txs {
		var overrides map[string]float64
		if patterns != nil {
			overrides = patterns[tx.CustomerID]
		}
		result, err := e.ScoreTransaction(ctx, tx, overrides)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// Stats returns a read-only snapshot of the engine.
func (e *Engine) Stats() Stats {
	return Stats{
		TotalCustomersInHistory: e.history.Customers(),
		ModelVersion:            e.version,
		Threshold:               e.threshold,
		NumFeatures:             len(e.builder.Schema()),
	}
}

// Version returns the loaded model version.
func (e *Engine) Version() string {
	return e.version
}

func validate(tx *Transaction) error {
	if tx.CustomerID == 0 {
		return &ValidationError{Field: "cst_dim_id"}
	}
	if tx.Timestamp.IsZero() {
		return &ValidationError{Field: "transdatetime"}
	}
	if tx.Direction == "" {
		return &ValidationError{Field: "direction"}
	}
	return nil
}

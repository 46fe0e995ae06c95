package scoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nurbekov/fraudscore/internal/ensemble"
	"github.com/nurbekov/fraudscore/internal/features"
	"github.com/nurbekov/fraudscore/internal/history"
)

var engineSchema = []string{
	"num_trans_last_7d", "num_trans_last_30d",
	"sum_amount_last_7d", "sum_amount_last_30d",
	"avg_amount_last_7d", "avg_amount_last_30d",
	"velocity_7d", "velocity_30d", "velocity_acceleration",
	"std_amount_7d", "max_amount_7d", "min_amount_7d",
	"ratio_num_7_30", "ratio_sum_7_30",
	"amount_ratio_avg7", "amount_ratio_avg30", "amount_to_max_ratio",
	"time_since_last_hours", "time_since_last_squared",
	"days_since_first", "trans_frequency",
	"num_prev_trans_to_same", "total_prev_trans", "unique_directions_count",
	"is_amount_spike", "is_rapid_repeat", "is_night_transaction", "is_weekend",
	"hour", "dayofweek", "month", "amount", "amount_log", "direction",
}

func schemaIndex(t *testing.T, name string) int {
	t.Helper()
	for i, n := range engineSchema {
		if n == name {
			return i
		}
	}
	t.Fatalf("feature %q not in schema", name)
	return -1
}

type stubEncoder struct{}

func (stubEncoder) Encode(string) float64 { return 0 }

type stubDetector float64

func (d stubDetector) DecisionFunction([]float64) (float64, error) { return float64(d), nil }

type stubClassifier float64

func (c stubClassifier) PredictProba([]float64) (float64, error) { return float64(c), nil }

type errClassifier struct{ err error }

func (c errClassifier) PredictProba([]float64) (float64, error) { return 0, c.err }

// spyClassifier records every vector it scores.
type spyClassifier struct {
	mu      sync.Mutex
	vectors [][]float64
	p       float64
}

func (c *spyClassifier) PredictProba(x []float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vectors = append(c.vectors, append([]float64(nil), x...))
	return c.p, nil
}

// chanStore signals every recorded event on a channel so tests can wait for
// the engine's asynchronous audit write.
type chanStore struct {
	events chan *Event
}

func newChanStore() *chanStore { return &chanStore{events: make(chan *Event, 16)} }

func (s *chanStore) Record(_ context.Context, e *Event) error {
	s.events <- e
	return nil
}

func (s *chanStore) ListByCustomer(context.Context, int64, int, string) ([]*Event, string, error) {
	return nil, "", nil
}

type spyEmitter struct {
	mu      sync.Mutex
	results []*Result
}

func (e *spyEmitter) EmitScore(_ int64, r *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = append(e.results, r)
}

// newTestEngine wires an engine whose classifiers all return p.
func newTestEngine(t *testing.T, p float64) (*Engine, *history.Store) {
	t.Helper()
	return newTestEngineWith(t, stubClassifier(p), stubClassifier(p), stubClassifier(p))
}

func newTestEngineWith(t *testing.T, cat, xgb, lgb ensemble.Classifier) (*Engine, *history.Store) {
	t.Helper()
	scorer, err := ensemble.NewScorer(stubDetector(-0.1), cat, xgb, lgb, [3]float64{0.4, 0.3, 0.3})
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	builder := features.NewBuilder(stubEncoder{}, engineSchema)
	hist := history.NewStore()
	return NewEngine(builder, scorer, hist, 0.5, "v-test"), hist
}

func tx(customerID int64, amount float64, ts time.Time) *Transaction {
	return &Transaction{CustomerID: customerID, Amount: amount, Direction: "out", Timestamp: ts}
}

func TestScoreTransactionNewCustomer(t *testing.T) {
	e, hist := newTestEngine(t, 0.2)
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	result, err := e.ScoreTransaction(context.Background(), tx(1, 100, now), nil)
	if err != nil {
		t.Fatalf("ScoreTransaction: %v", err)
	}

	if result.IsFraud {
		t.Error("IsFraud = true below threshold")
	}
	if result.RiskLevel != ensemble.RiskLow {
		t.Errorf("RiskLevel = %v, want LOW", result.RiskLevel)
	}
	if result.ModelVersion != "v-test" || result.ThresholdUsed != 0.5 {
		t.Errorf("result metadata = %+v", result)
	}

	found := false
	for _, a := range result.Alerts {
		if a == AlertLimitedHistory {
			found = true
		}
	}
	if !found {
		t.Errorf("Alerts = %v, want limited-history alert for a new customer", result.Alerts)
	}

	// Committed after scoring: the record is now in history for the next call.
	records := hist.Get(1)
	if len(records) != 1 || records[0].Amount != 100 {
		t.Errorf("history after scoring = %v, want the scored transaction", records)
	}
}

func TestScoreTransactionThreshold(t *testing.T) {
	// Weight everything on one classifier so the fused value is bit-exact.
	scorer, err := ensemble.NewScorer(stubDetector(-0.1),
		stubClassifier(0.5), stubClassifier(0), stubClassifier(0),
		[3]float64{1, 0, 0})
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	builder := features.NewBuilder(stubEncoder{}, engineSchema)
	e := NewEngine(builder, scorer, history.NewStore(), 0.5, "v-test")

	result, err := e.ScoreTransaction(context.Background(), tx(1, 100, time.Now().UTC()), nil)
	if err != nil {
		t.Fatalf("ScoreTransaction: %v", err)
	}
	// Fused exactly equals the threshold: flagged.
	if !result.IsFraud {
		t.Error("IsFraud = false at fused == threshold, want true")
	}
	if result.RiskLevel != ensemble.RiskMedium {
		t.Errorf("RiskLevel = %v, want MEDIUM", result.RiskLevel)
	}
}

func TestScoreTransactionValidation(t *testing.T) {
	e, hist := newTestEngine(t, 0.2)
	now := time.Now().UTC()

	tests := []struct {
		name  string
		tx    *Transaction
		field string
	}{
		{"missing customer", &Transaction{Amount: 1, Direction: "out", Timestamp: now}, "cst_dim_id"},
		{"missing timestamp", &Transaction{CustomerID: 1, Amount: 1, Direction: "out"}, "transdatetime"},
		{"missing direction", &Transaction{CustomerID: 1, Amount: 1, Timestamp: now}, "direction"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.ScoreTransaction(context.Background(), tt.tx, nil)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %q, want %q", verr.Field, tt.field)
			}
		})
	}

	// Validation failures never touch history.
	if n := hist.Customers(); n != 0 {
		t.Errorf("history has %d customers after failed validations, want 0", n)
	}
}

func TestScoreTransactionModelErrorLeavesHistoryUntouched(t *testing.T) {
	modelErr := errors.New("model exploded")
	e, hist := newTestEngineWith(t, errClassifier{modelErr}, stubClassifier(0.5), stubClassifier(0.5))
	now := time.Now().UTC()

	_, err := e.ScoreTransaction(context.Background(), tx(7, 100, now), nil)
	if !errors.Is(err, modelErr) {
		t.Fatalf("error = %v, want the model error unmodified", err)
	}
	if got := hist.Get(7); got != nil {
		t.Errorf("history = %v after scoring failure, want none", got)
	}
}

func TestScoreTransactionSelfExclusion(t *testing.T) {
	spy := &spyClassifier{p: 0.2}
	e, _ := newTestEngineWith(t, spy, stubClassifier(0.2), stubClassifier(0.2))

	base := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	if _, err := e.ScoreTransaction(ctx, tx(1, 100, base), nil); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := e.ScoreTransaction(ctx, tx(1, 100, base.Add(2*time.Hour)), nil); err != nil {
		t.Fatalf("second: %v", err)
	}

	numIdx := schemaIndex(t, "num_trans_last_7d")
	lastIdx := schemaIndex(t, "time_since_last_hours")

	first := spy.vectors[0]
	if first[numIdx] != 0 {
		t.Errorf("first call num_trans_last_7d = %v, want 0 (must not see itself)", first[numIdx])
	}

	second := spy.vectors[1]
	if second[numIdx] != 1 {
		t.Errorf("second call num_trans_last_7d = %v, want 1", second[numIdx])
	}
	if second[lastIdx] != 2.0 {
		t.Errorf("second call time_since_last_hours = %v, want 2", second[lastIdx])
	}
}

func TestScoreTransactionAuditAndEmit(t *testing.T) {
	e, _ := newTestEngine(t, 0.7)
	store := newChanStore()
	emitter := &spyEmitter{}
	e.WithStore(store).WithEvents(emitter)

	result, err := e.ScoreTransaction(context.Background(), tx(9, 500, time.Now().UTC()), nil)
	if err != nil {
		t.Fatalf("ScoreTransaction: %v", err)
	}

	select {
	case event := <-store.events:
		if event.CustomerID != 9 {
			t.Errorf("event customer = %d, want 9", event.CustomerID)
		}
		if event.FraudProbability != result.FraudProbability {
			t.Errorf("event probability = %v, want %v", event.FraudProbability, result.FraudProbability)
		}
		if event.RiskLevel != ensemble.RiskHigh {
			t.Errorf("event risk = %v, want HIGH", event.RiskLevel)
		}
		if event.ID == "" {
			t.Error("event ID empty")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("audit event never recorded")
	}

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	if len(emitter.results) != 1 || emitter.results[0] != result {
		t.Errorf("emitter saw %d results", len(emitter.results))
	}
}

func TestScoreBatchSequentialVisibility(t *testing.T) {
	spy := &spyClassifier{p: 0.2}
	e, _ := newTestEngineWith(t, spy, stubClassifier(0.2), stubClassifier(0.2))

	base := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	txs := []*Transaction{
		tx(1, 100, base),
		tx(2, 100, base),
		tx(1, 100, base.Add(2*time.Hour)),
	}

	results, err := e.ScoreBatch(context.Background(), txs, nil)
	if err != nil {
		t.Fatalf("ScoreBatch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	numIdx := schemaIndex(t, "num_trans_last_7d")
	if spy.vectors[1][numIdx] != 0 {
		t.Errorf("customer 2 saw %v prior transactions, want 0", spy.vectors[1][numIdx])
	}
	// Third transaction is customer 1 again: it must see the first one.
	if spy.vectors[2][numIdx] != 1 {
		t.Errorf("customer 1 second transaction saw %v prior, want 1", spy.vectors[2][numIdx])
	}
}

func TestScoreBatchOverridesByCustomer(t *testing.T) {
	spy := &spyClassifier{p: 0.2}
	e, _ := newTestEngineWith(t, spy, stubClassifier(0.2), stubClassifier(0.2))

	base := time.Now().UTC()
	txs := []*Transaction{tx(1, 100, base), tx(2, 100, base)}
	patterns := map[int64]map[string]float64{
		1: {"velocity_7d": 99},
	}

	if _, err := e.ScoreBatch(context.Background(), txs, patterns); err != nil {
		t.Fatalf("ScoreBatch: %v", err)
	}

	vIdx := schemaIndex(t, "velocity_7d")
	if spy.vectors[0][vIdx] != 99 {
		t.Errorf("customer 1 velocity_7d = %v, want override 99", spy.vectors[0][vIdx])
	}
	if spy.vectors[1][vIdx] == 99 {
		t.Error("customer 2 must not inherit customer 1's overrides")
	}
}

func TestScoreBatchFailsFast(t *testing.T) {
	e, hist := newTestEngine(t, 0.2)
	base := time.Now().UTC()

	txs := []*Transaction{
		tx(1, 100, base),
		{CustomerID: 2, Amount: 100, Timestamp: base}, // missing direction
		tx(3, 100, base),
	}

	results, err := e.ScoreBatch(context.Background(), txs, nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if results != nil {
		t.Errorf("results = %v on batch failure, want nil", results)
	}
	// The first transaction was committed before the failure; the third never ran.
	if got := hist.Get(1); len(got) != 1 {
		t.Errorf("customer 1 history = %v, want 1 record", got)
	}
	if got := hist.Get(3); got != nil {
		t.Errorf("customer 3 history = %v, want none", got)
	}
}

func TestStats(t *testing.T) {
	e, _ := newTestEngine(t, 0.2)
	now := time.Now().UTC()

	_, _ = e.ScoreTransaction(context.Background(), tx(1, 1, now), nil)
	_, _ = e.ScoreTransaction(context.Background(), tx(2, 1, now), nil)

	s := e.Stats()
	if s.TotalCustomersInHistory != 2 {
		t.Errorf("TotalCustomersInHistory = %d, want 2", s.TotalCustomersInHistory)
	}
	if s.ModelVersion != "v-test" || s.Threshold != 0.5 {
		t.Errorf("Stats = %+v", s)
	}
	if s.NumFeatures != len(engineSchema) {
		t.Errorf("NumFeatures = %d, want %d", s.NumFeatures, len(engineSchema))
	}
}

func TestConcurrentScoringSameCustomer(t *testing.T) {
	e, hist := newTestEngine(t, 0.2)
	base := time.Now().UTC()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.ScoreTransaction(context.Background(), tx(1, float64(i+1), base.Add(time.Duration(i)*time.Second)), nil)
			if err != nil {
				t.Errorf("ScoreTransaction: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := len(hist.Get(1)); got != 50 {
		t.Errorf("history has %d records, want 50", got)
	}
}

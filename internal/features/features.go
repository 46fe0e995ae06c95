// Package features derives the fixed-schema numeric feature vector for one
// incoming transaction from the customer's transaction history.
//
// Every feature with a denominator is defined as 0 when that denominator is
// 0; window features over empty history are all exactly 0, never NaN.
// Building is pure read-only: the same transaction against the same history
// always yields the same vector.
package features

import (
	"math"
	"sort"
	"time"

	"github.com/nurbekov/fraudscore/internal/history"
)

// Window lengths for the velocity/ratio features.
const (
	shortWindow = 7 * 24 * time.Hour
	longWindow  = 30 * 24 * time.Hour
)

// Encoder maps a categorical direction value to its trained integer code.
type Encoder interface {
	Encode(value string) float64
}

// Vector is a feature-name to value mapping plus the names that were filled
// with the default 0 because nothing computed or overrode them. The
// defaulted list is a diagnostic side channel; it never changes the numbers.
type Vector struct {
	Values    map[string]float64
	Defaulted []string
}

// Builder derives feature vectors against the model's required schema.
type Builder struct {
	encoder Encoder
	schema  []string
}

// NewBuilder creates a feature builder for the given direction encoder and
// ordered feature-name schema (the model bundle's feature_cols).
func NewBuilder(encoder Encoder, schema []string) *Builder {
	return &Builder{encoder: encoder, schema: append([]string(nil), schema...)}
}

// Schema returns the ordered feature-name schema.
func (b *Builder) Schema() []string {
	return append([]string(nil), b.schema...)
}

// Build derives the feature vector for a transaction at ts with the given
// amount and direction, using the customer's pre-commit history. The
// transaction itself must not be in hist: callers commit to the history
// store only after scoring.
//
// Behavioral overrides, when supplied, overwrite or add any feature except
// the upstream identity/date fields. Without overrides, every schema name
// that was not computed is filled with 0.
func (b *Builder) Build(ts time.Time, amount float64, direction string, hist []history.Record, overrides map[string]float64) Vector {
	f := make(map[string]float64, len(b.schema))

	cutoff7 := ts.Add(-shortWindow)
	cutoff30 := ts.Add(-longWindow)

	var num7, num30 float64
	var sum7, sum30 float64
	var amounts7 []float64
	for _, h := range hist {
		if h.Timestamp.Before(ts) && !h.Timestamp.Before(cutoff30) {
			num30++
			sum30 += h.Amount
			if !h.Timestamp.Before(cutoff7) {
				num7++
				sum7 += h.Amount
				amounts7 = append(amounts7, h.Amount)
			}
		}
	}

	f["num_trans_last_7d"] = num7
	f["num_trans_last_30d"] = num30
	f["sum_amount_last_7d"] = sum7
	f["sum_amount_last_30d"] = sum30

	avg7 := safeDiv(sum7, num7)
	avg30 := safeDiv(sum30, num30)
	f["avg_amount_last_7d"] = avg7
	f["avg_amount_last_30d"] = avg30

	f["velocity_7d"] = num7 / 7.0
	f["velocity_30d"] = num30 / 30.0
	f["amount_velocity_7d"] = sum7 / 7.0
	f["amount_velocity_30d"] = sum30 / 30.0
	f["velocity_acceleration"] = f["velocity_7d"] - f["velocity_30d"]

	f["std_amount_7d"] = populationStd(amounts7)
	f["max_amount_7d"] = maxOrZero(amounts7)
	f["min_amount_7d"] = minOrZero(amounts7)

	f["ratio_num_7_30"] = safeDiv(num7, num30)
	f["ratio_sum_7_30"] = safeDiv(sum7, sum30)
	f["amount_ratio_avg7"] = safeDiv(amount, avg7)
	f["amount_ratio_avg30"] = safeDiv(amount, avg30)
	f["amount_to_max_ratio"] = safeDiv(amount, f["max_amount_7d"])

	// Recency against the chronologically-last record strictly before ts.
	// Arrival order can diverge from timestamp order, so scan all of hist.
	var hoursSinceLast float64
	if last, ok := latestBefore(hist, ts); ok {
		hoursSinceLast = ts.Sub(last).Hours()
	}
	f["time_since_last_hours"] = hoursSinceLast
	f["time_since_last_squared"] = hoursSinceLast * hoursSinceLast

	first := earliest(hist, ts)
	daysSinceFirst := math.Floor(ts.Sub(first).Hours() / 24)
	f["days_since_first"] = daysSinceFirst
	if daysSinceFirst > 0 {
		f["trans_frequency"] = float64(len(hist)) / daysSinceFirst
	} else {
		f["trans_frequency"] = 0
	}

	// Graph-lite relational features: single-node approximation over the
	// customer's own prior records; no cross-customer graph is maintained.
	var sameDirection, totalPrev float64
	directions := make(map[string]struct{})
	for _, h := range hist {
		if !h.Timestamp.Before(ts) {
			continue
		}
		totalPrev++
		directions[h.Direction] = struct{}{}
		if h.Direction == direction {
			sameDirection++
		}
	}
	f["num_prev_trans_to_same"] = sameDirection
	f["total_prev_trans"] = totalPrev
	f["unique_directions_count"] = float64(len(directions))
	f["sender_out_degree"] = f["unique_directions_count"]
	f["receiver_in_degree"] = 1 // not computable without a global graph
	f["pair_count"] = f["num_prev_trans_to_same"]

	f["is_amount_spike"] = boolFeature(avg30 > 0 && amount > 3*avg30)
	f["is_rapid_repeat"] = boolFeature(hoursSinceLast > 0 && hoursSinceLast < 1.0)

	hour := ts.Hour()
	f["is_night_transaction"] = boolFeature(hour >= 23 || hour <= 6)
	dow := pandasWeekday(ts)
	f["is_weekend"] = boolFeature(dow == 5 || dow == 6)

	f["hour"] = float64(hour)
	f["dayofweek"] = float64(dow)
	f["month"] = float64(ts.Month())
	f["amount"] = amount
	f["amount_log"] = math.Log1p(amount)

	f["direction"] = b.encoder.Encode(direction)

	var defaulted []string
	if overrides != nil {
		for key, value := range overrides {
			switch key {
			case "cst_dim_id", "transdate":
				// upstream identity/date fields, never features
			default:
				f[key] = value
			}
		}
	} else {
		for _, name := range b.schema {
			if _, ok := f[name]; !ok {
				f[name] = 0
				defaulted = append(defaulted, name)
			}
		}
		sort.Strings(defaulted)
	}

	return Vector{Values: f, Defaulted: defaulted}
}

// Ordered projects a vector onto the schema order, ready for model input.
// Names absent from the vector read as 0.
func (b *Builder) Ordered(v Vector) []float64 {
	x := make([]float64, len(b.schema))
	for i, name := range b.schema {
		x[i] = v.Values[name]
	}
	return x
}

// latestBefore returns the chronologically-last timestamp strictly before ts.
func latestBefore(hist []history.Record, ts time.Time) (time.Time, bool) {
	var last time.Time
	var found bool
	for _, h := range hist {
		if h.Timestamp.Before(ts) && (!found || h.Timestamp.After(last)) {
			last = h.Timestamp
			found = true
		}
	}
	return last, found
}

// earliest returns the chronologically-first record timestamp, or ts itself
// when the history is empty.
func earliest(hist []history.Record, ts time.Time) time.Time {
	first := ts
	for _, h := range hist {
		if h.Timestamp.Before(first) {
			first = h.Timestamp
		}
	}
	return first
}

func safeDiv(num, denom float64) float64 {
	if denom > 0 {
		return num / denom
	}
	return 0
}

// populationStd is the population (not sample) standard deviation, 0 when
// there are fewer than two values.
func populationStd(values []float64) float64 {
	if len(values) <= 1 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

func maxOrZero(values []float64) float64 {
	var m float64
	for i, v := range values {
		if i == 0 || v > m {
			m = v
		}
	}
	return m
}

func minOrZero(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func boolFeature(cond bool) float64 {
	if cond {
		return 1
	}
	return 0
}

// pandasWeekday converts Go's Sunday-based weekday to the Monday=0..Sunday=6
// convention the model was trained on.
func pandasWeekday(ts time.Time) int {
	return (int(ts.Weekday()) + 6) % 7
}

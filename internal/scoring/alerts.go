package scoring

import "github.com/nurbekov/fraudscore/internal/features"

// Alert text, stable across releases: dashboards match on these strings.
const (
	AlertAmountSpike    = "Amount is 3x higher than 30-day average"
	AlertRapidRepeat    = "Transaction less than 1 hour since last one"
	AlertNight          = "Transaction during night hours (23:00-06:00)"
	AlertVelocityAccel  = "Sudden increase in transaction velocity"
	AlertLimitedHistory = "New customer with limited history"
	AlertCritical       = "CRITICAL: Very high fraud probability"
)

// minPriorTransactions is the history size below which the limited-history
// alert fires.
const minPriorTransactions = 5

// Alerts derives the human-readable alert list from feature values and the
// fused probability. The order is fixed; each condition appends
// independently and nothing is ever removed or re-sorted by severity.
func Alerts(v features.Vector, fused float64) []string {
	alerts := []string{}

	if v.Values["is_amount_spike"] == 1 {
		alerts = append(alerts, AlertAmountSpike)
	}
	if v.Values["is_rapid_repeat"] == 1 {
		alerts = append(alerts, AlertRapidRepeat)
	}
	if v.Values["is_night_transaction"] == 1 {
		alerts = append(alerts, AlertNight)
	}
	if v.Values["velocity_acceleration"] > 2 {
		alerts = append(alerts, AlertVelocityAccel)
	}
	if v.Values["total_prev_trans"] < minPriorTransactions {
		alerts = append(alerts, AlertLimitedHistory)
	}
	if fused > 0.9 {
		alerts = append(alerts, AlertCritical)
	}

	return alerts
}

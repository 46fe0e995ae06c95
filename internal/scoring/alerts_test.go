package scoring

import (
	"reflect"
	"testing"

	"github.com/nurbekov/fraudscore/internal/features"
)

func vec(values map[string]float64) features.Vector {
	return features.Vector{Values: values}
}

func TestAlertsEmptyForQuietTransaction(t *testing.T) {
	v := vec(map[string]float64{"total_prev_trans": 100})
	got := Alerts(v, 0.1)

	if got == nil {
		t.Fatal("Alerts must return an empty slice, not nil")
	}
	if len(got) != 0 {
		t.Errorf("Alerts = %v, want none", got)
	}
}

func TestAlertsIndividualConditions(t *testing.T) {
	quiet := map[string]float64{"total_prev_trans": 100}

	tests := []struct {
		name   string
		values map[string]float64
		fused  float64
		want   string
	}{
		{"amount spike", map[string]float64{"is_amount_spike": 1, "total_prev_trans": 100}, 0.1, AlertAmountSpike},
		{"rapid repeat", map[string]float64{"is_rapid_repeat": 1, "total_prev_trans": 100}, 0.1, AlertRapidRepeat},
		{"night", map[string]float64{"is_night_transaction": 1, "total_prev_trans": 100}, 0.1, AlertNight},
		{"velocity acceleration", map[string]float64{"velocity_acceleration": 2.1, "total_prev_trans": 100}, 0.1, AlertVelocityAccel},
		{"limited history", map[string]float64{"total_prev_trans": 4}, 0.1, AlertLimitedHistory},
		{"critical probability", quiet, 0.91, AlertCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Alerts(vec(tt.values), tt.fused)
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("Alerts = %v, want [%q]", got, tt.want)
			}
		})
	}
}

func TestAlertsBoundariesDoNotFire(t *testing.T) {
	v := vec(map[string]float64{
		"velocity_acceleration": 2.0, // needs strictly greater than 2
		"total_prev_trans":      5,   // needs strictly fewer than 5
	})
	if got := Alerts(v, 0.9); len(got) != 0 { // critical needs strictly > 0.9
		t.Errorf("Alerts = %v, want none at the boundaries", got)
	}
}

func TestAlertsFixedOrder(t *testing.T) {
	v := vec(map[string]float64{
		"is_amount_spike":       1,
		"is_rapid_repeat":       1,
		"is_night_transaction":  1,
		"velocity_acceleration": 3,
		"total_prev_trans":      0,
	})
	got := Alerts(v, 0.95)
	want := []string{
		AlertAmountSpike, AlertRapidRepeat, AlertNight,
		AlertVelocityAccel, AlertLimitedHistory, AlertCritical,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Alerts order = %v, want %v", got, want)
	}
}

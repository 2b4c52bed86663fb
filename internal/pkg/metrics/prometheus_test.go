package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.PredictionCreated("HT")
	a.PredictionCreated("HT")
	b.PredictionCreated("HT")

	if got := testutil.ToFloat64(a.predictions.WithLabelValues("HT")); got != 2 {
		t.Errorf("recorder a HT predictions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(b.predictions.WithLabelValues("HT")); got != 1 {
		t.Errorf("recorder b HT predictions = %v, want 1", got)
	}
}

func TestRecorder_SettlementLabels(t *testing.T) {
	r := New()
	r.PredictionSettled("FT", true)
	r.PredictionSettled("FT", false)
	r.PredictionSettled("FT", false)

	if got := testutil.ToFloat64(r.settlements.WithLabelValues("FT", "loss")); got != 2 {
		t.Errorf("FT losses = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.settlements.WithLabelValues("FT", "win")); got != 1 {
		t.Errorf("FT wins = %v, want 1", got)
	}
}

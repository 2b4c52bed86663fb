package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns its own registry so several systems can coexist in one process (tests).
type Recorder struct {
	registry *prometheus.Registry

	openSessions      prometheus.Gauge
	sessionEvents     *prometheus.CounterVec
	refreshes         *prometheus.CounterVec
	cycleDuration     *prometheus.HistogramVec
	cycleErrors       *prometheus.CounterVec
	predictions       *prometheus.CounterVec
	settlements       *prometheus.CounterVec
	balance           prometheus.Gauge
	invariantFailures *prometheus.CounterVec
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		openSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "goalbot_open_sessions",
			Help: "Monitoring sessions currently open",
		}),
		sessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "goalbot_session_events_total",
			Help: "Session lifecycle events",
		}, []string{"event"}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "goalbot_refreshes_total",
			Help: "Session refreshes by result",
		}, []string{"result"}),
		cycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "goalbot_cycle_duration_seconds",
			Help:    "Duration of loop cycles",
			Buckets: prometheus.DefBuckets,
		}, []string{"loop"}),
		cycleErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "goalbot_cycle_errors_total",
			Help: "Loop cycles that ended in an error",
		}, []string{"loop"}),
		predictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "goalbot_predictions_created_total",
			Help: "Predictions created by type",
		}, []string{"type"}),
		settlements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "goalbot_predictions_settled_total",
			Help: "Predictions settled by type and result",
		}, []string{"type", "result"}),
		balance: f.NewGauge(prometheus.GaugeOpts{
			Name: "goalbot_bankroll_balance",
			Help: "Current bankroll balance",
		}),
		invariantFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "goalbot_invariant_violations_total",
			Help: "Detected invariant violations; any increase needs operator attention",
		}, []string{"invariant"}),
	}
}

// Handler serves the recorder's registry in Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) SetOpenSessions(n int) {
	r.openSessions.Set(float64(n))
}

// SessionEvent records "opened", "open_failed", "closed" or "finished".
func (r *Recorder) SessionEvent(event string) {
	r.sessionEvents.WithLabelValues(event).Inc()
}

// Refresh records "ok", "skipped", "finished" or "failed".
func (r *Recorder) Refresh(result string) {
	r.refreshes.WithLabelValues(result).Inc()
}

func (r *Recorder) ObserveCycle(loop string, d time.Duration, err error) {
	r.cycleDuration.WithLabelValues(loop).Observe(d.Seconds())
	if err != nil {
		r.cycleErrors.WithLabelValues(loop).Inc()
	}
}

func (r *Recorder) PredictionCreated(kind string) {
	r.predictions.WithLabelValues(kind).Inc()
}

func (r *Recorder) PredictionSettled(kind string, correct bool) {
	result := "loss"
	if correct {
		result = "win"
	}
	r.settlements.WithLabelValues(kind, result).Inc()
}

func (r *Recorder) SetBalance(v float64) {
	r.balance.Set(v)
}

func (r *Recorder) InvariantViolation(name string) {
	r.invariantFailures.WithLabelValues(name).Inc()
}

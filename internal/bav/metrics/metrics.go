package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for account verification.
type Metrics struct {
	// Outcomes by CoP result
	Outcomes *prometheus.CounterVec

	// Failures by error kind
	Failures *prometheus.CounterVec

	// End-to-end verification latency
	VerifyLatency prometheus.Histogram

	// Sessions started
	SessionsStarted prometheus.Counter

	// Audit events that could not be emitted
	AuditDropped *prometheus.CounterVec
}

// New creates a new Metrics instance with all verification metrics registered.
func New() *Metrics {
	return &Metrics{
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bav_cop_outcomes_total",
			Help: "Completed Confirmation-of-Payee checks by result",
		}, []string{"result"}),

		Failures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bav_verification_failures_total",
			Help: "Failed verification requests by error kind",
		}, []string{"kind"}),

		VerifyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bav_verification_duration_seconds",
			Help:    "Duration of verification processing including the HMRC call",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bav_sessions_started_total",
			Help: "Sessions created from shared claims",
		}),

		AuditDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bav_audit_emit_failures_total",
			Help: "Audit events that failed to emit, by event name",
		}, []string{"event_name"}),
	}
}

func (m *Metrics) IncrementOutcome(result string) {
	if m != nil {
		m.Outcomes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncrementFailure(kind string) {
	if m != nil {
		m.Failures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ObserveVerifyLatency(d time.Duration) {
	if m != nil {
		m.VerifyLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementSessionsStarted() {
	if m != nil {
		m.SessionsStarted.Inc()
	}
}

func (m *Metrics) IncrementAuditDropped(eventName string) {
	if m != nil {
		m.AuditDropped.WithLabelValues(eventName).Inc()
	}
}

package hmrc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for outbound HMRC calls.
type Metrics struct {
	AttemptLatency *prometheus.HistogramVec
	Retries        *prometheus.CounterVec
	TokenCache     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		AttemptLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bav_hmrc_attempt_duration_seconds",
			Help:    "Duration of individual HMRC HTTP attempts by operation and result",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation", "result"}),

		Retries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bav_hmrc_retries_total",
			Help: "Total HMRC retries after a server error, by operation",
		}, []string{"operation"}),

		TokenCache: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bav_hmrc_token_cache_total",
			Help: "Token cache lookups by result (hit, miss, error)",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObserveAttempt(op Operation, result string, d time.Duration) {
	if m != nil {
		m.AttemptLatency.WithLabelValues(string(op), result).Observe(d.Seconds())
	}
}

func (m *Metrics) IncRetry(op Operation) {
	if m != nil {
		m.Retries.WithLabelValues(string(op)).Inc()
	}
}

func (m *Metrics) IncTokenCache(result string) {
	if m != nil {
		m.TokenCache.WithLabelValues(result).Inc()
	}
}

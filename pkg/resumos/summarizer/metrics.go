package summarizer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the summarizer's Prometheus collectors. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	requests           *prometheus.CounterVec
	published          prometheus.Counter
	failures           *prometheus.CounterVec
	completionDuration prometheus.Histogram
	pendingDeletions   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resumos",
			Name:      "summary_requests_total",
			Help:      "Summary commands accepted, by selection mode.",
		}, []string{"mode"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "resumos",
			Name:      "summaries_published_total",
			Help:      "Summaries posted to a chat.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resumos",
			Name:      "summary_failures_total",
			Help:      "Failed summary steps, by stage.",
		}, []string{"stage"}),
		completionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "resumos",
			Name:      "completion_duration_seconds",
			Help:      "Latency of completion calls.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		pendingDeletions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "resumos",
			Name:      "pending_deletions",
			Help:      "Published summaries waiting to be deleted.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.published, m.failures, m.completionDuration, m.pendingDeletions)
	}
	return m
}

func (m *Metrics) request(mode Mode) {
	if m != nil {
		m.requests.WithLabelValues(string(mode)).Inc()
	}
}

func (m *Metrics) publishedSummary() {
	if m != nil {
		m.published.Inc()
	}
}

func (m *Metrics) failure(stage string) {
	if m != nil {
		m.failures.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) observeCompletion(d time.Duration) {
	if m != nil {
		m.completionDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) setPending(n int) {
	if m != nil {
		m.pendingDeletions.Set(float64(n))
	}
}

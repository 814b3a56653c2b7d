package submission

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pecademic/api/internal/contentstore"
)

// Metrics records submission outcomes and step latency. A nil *Metrics records nothing.
type Metrics struct {
	submissions *prometheus.CounterVec
	stepSeconds *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pecademic",
				Name:      "submissions_total",
				Help:      "Paper submissions by outcome and failure kind.",
			},
			[]string{"outcome", "kind"},
		),
		stepSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pecademic",
				Name:      "submission_step_seconds",
				Help:      "Duration of each submission step.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"step"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.submissions, m.stepSeconds)
	}
	return m
}

func (m *Metrics) observeStep(step State, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stepSeconds.WithLabelValues(string(step)).Observe(elapsed.Seconds())
}

func (m *Metrics) observeOutcome(state State, kind contentstore.Kind) {
	if m == nil {
		return
	}
	outcome := "succeeded"
	if state == StateFailed {
		outcome = "failed"
	}
	m.submissions.WithLabelValues(outcome, string(kind)).Inc()
}

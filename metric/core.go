package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors every interface reports to. Labels carry the
// interface name so several interfaces can share one registry.
type Metrics struct {
	PredictionDuration *prometheus.HistogramVec
	Predictions        *prometheus.CounterVec
	StateCommits       *prometheus.CounterVec
	Flags              *prometheus.CounterVec
	ExampleLookups     *prometheus.CounterVec
	QueueDepth         *prometheus.GaugeVec
	HTTPRequests       *prometheus.CounterVec
}

// NewMetrics creates the collectors without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		PredictionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gradio",
				Subsystem: "prediction",
				Name:      "duration_seconds",
				Help:      "Wall-clock duration of a single function invocation",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"interface", "fn"},
		),
		Predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gradio",
				Subsystem: "prediction",
				Name:      "total",
				Help:      "Predictions processed, by outcome (ok, invalid, failed, cancelled)",
			},
			[]string{"interface", "outcome"},
		),
		StateCommits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gradio",
				Subsystem: "state",
				Name:      "commits_total",
				Help:      "Session state writes after successful stateful predictions",
			},
			[]string{"interface"},
		),
		Flags: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gradio",
				Subsystem: "flagging",
				Name:      "records_total",
				Help:      "Flag submissions, by outcome (ok, failed)",
			},
			[]string{"interface", "outcome"},
		),
		ExampleLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gradio",
				Subsystem: "examples",
				Name:      "lookups_total",
				Help:      "Example cache lookups, by result (hit, computed)",
			},
			[]string{"interface", "result"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gradio",
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Jobs waiting in the prediction queue",
			},
			[]string{"queue"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gradio",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "API requests by route and status code",
			},
			[]string{"route", "code"},
		),
	}
}

func (m *Metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.PredictionDuration,
		m.Predictions,
		m.StateCommits,
		m.Flags,
		m.ExampleLookups,
		m.QueueDepth,
		m.HTTPRequests,
	)
}

// RecordInvocation observes the duration of function fn.
func (m *Metrics) RecordInvocation(iface, fn string, d time.Duration) {
	m.PredictionDuration.WithLabelValues(iface, fn).Observe(d.Seconds())
}

// RecordPrediction counts a finished prediction.
func (m *Metrics) RecordPrediction(iface, outcome string) {
	m.Predictions.WithLabelValues(iface, outcome).Inc()
}

// RecordStateCommit counts a session state write.
func (m *Metrics) RecordStateCommit(iface string) {
	m.StateCommits.WithLabelValues(iface).Inc()
}

// RecordFlag counts a flag submission.
func (m *Metrics) RecordFlag(iface string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.Flags.WithLabelValues(iface, outcome).Inc()
}

// RecordExampleLookup counts an example cache lookup.
func (m *Metrics) RecordExampleLookup(iface string, hit bool) {
	result := "computed"
	if hit {
		result = "hit"
	}
	m.ExampleLookups.WithLabelValues(iface, result).Inc()
}

// SetQueueDepth records how many jobs are waiting.
func (m *Metrics) SetQueueDepth(queue string, depth int) {
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordHTTPRequest counts an API request.
func (m *Metrics) RecordHTTPRequest(route, code string) {
	m.HTTPRequests.WithLabelValues(route, code).Inc()
}

package metrics

import (
	"time"

	"patchcert/domain/verdict"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records certification throughput. A nil *Metrics is a no-op so the
// batch runner and API can run without a registry.
type Metrics struct {
	verdicts *prometheus.CounterVec
	failures *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		verdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "patchcert", Name: "verdicts_total", Help: "Certification verdicts by adversary model and status."},
			[]string{"model", "status"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "patchcert", Name: "failures_total", Help: "Rejected certification or prediction calls by error code."},
			[]string{"model", "code"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "patchcert",
				Name:      "bound_seconds",
				Help:      "Time spent computing one bound table.",
				Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
			},
			[]string{"model"},
		),
	}
	for _, c := range []prometheus.Collector{m.verdicts, m.failures, m.latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveVerdict counts one verdict and its computation time.
func (m *Metrics) ObserveVerdict(model verdict.AdversaryModel, status verdict.Status, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(string(model), string(status)).Inc()
	m.latency.WithLabelValues(string(model)).Observe(elapsed.Seconds())
}

// ObserveLatency records a bound computation that produced no verdict.
func (m *Metrics) ObserveLatency(model verdict.AdversaryModel, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(string(model)).Observe(elapsed.Seconds())
}

// ObserveFailure counts a rejected call.
func (m *Metrics) ObserveFailure(model verdict.AdversaryModel, code string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(string(model), code).Inc()
}

package forwardauth

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry        *prometheus.Registry
	decisions       *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forward_auth",
			Name:      "decisions_total",
			Help:      "Forward auth decisions by request path and response status.",
		}, []string{"path", "status"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "forward_auth",
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of requests to the identity provider.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"code", "method"}),
	}
	m.registry.MustRegister(
		m.decisions,
		m.providerLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) observeDecision(path string, status int) {
	m.decisions.WithLabelValues(path, strconv.Itoa(status)).Inc()
}

// InstrumentTransport wraps the transport used for provider calls.
func (m *Metrics) InstrumentTransport(next http.RoundTripper) http.RoundTripper {
	return promhttp.InstrumentRoundTripperDuration(m.providerLatency, next)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

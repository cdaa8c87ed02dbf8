// Package metrics holds the engine's prometheus collectors. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "incubator_link"

type Metrics struct {
	reg *prometheus.Registry

	probesDispatched *prometheus.CounterVec
	probeResults     *prometheus.CounterVec
	verifications    *prometheus.CounterVec
	discoveries      *prometheus.CounterVec
	healthTicks      *prometheus.CounterVec
	failures         prometheus.Gauge
	connected        prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		probesDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "probes_dispatched_total",
			Help: "Strategy runs launched, by strategy.",
		}, []string{"strategy"}),
		probeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "probe_results_total",
			Help: "Candidates reported by strategies, by strategy.",
		}, []string{"strategy"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "verifications_total",
			Help: "Endpoint verifications, by outcome.",
		}, []string{"outcome"}),
		discoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "discovery_cycles_total",
			Help: "Discovery cycles, by outcome.",
		}, []string{"outcome"}),
		healthTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "health_ticks_total",
			Help: "Health monitor ticks, by outcome.",
		}, []string{"outcome"}),
		failures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "consecutive_failures",
			Help: "Consecutive verification failures against the current endpoint.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connected",
			Help: "1 when the current endpoint passed its last verification.",
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.probesDispatched, m.probeResults, m.verifications,
		m.discoveries, m.healthTicks, m.failures, m.connected,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ProbeDispatched(strategy string) {
	if m != nil {
		m.probesDispatched.WithLabelValues(strategy).Inc()
	}
}

func (m *Metrics) ProbeResult(strategy string) {
	if m != nil {
		m.probeResults.WithLabelValues(strategy).Inc()
	}
}

func (m *Metrics) Verification(outcome string) {
	if m != nil {
		m.verifications.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Discovery(outcome string) {
	if m != nil {
		m.discoveries.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) HealthTick(outcome string) {
	if m != nil {
		m.healthTicks.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SetFailures(n int) {
	if m != nil {
		m.failures.Set(float64(n))
	}
}

func (m *Metrics) SetConnected(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

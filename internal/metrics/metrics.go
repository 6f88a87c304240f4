// Package metrics provides Prometheus metrics for studyplan runs.
package metrics

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for one process.
type Metrics struct {
	GenerationTotal      *prometheus.CounterVec
	GatewayRequestsTotal *prometheus.CounterVec
	GatewayDuration      *prometheus.HistogramVec
	RendersTotal         *prometheus.CounterVec
	RefinementsTotal     *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		GenerationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studyplan_generation_total",
				Help: "Generation stage runs by stage and content source.",
			},
			[]string{"stage", "source"},
		),
		GatewayRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studyplan_gateway_requests_total",
				Help: "Language model round trips by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		GatewayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "studyplan_gateway_duration_seconds",
				Help:    "Language model round trip duration by provider.",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
			},
			[]string{"provider"},
		),
		RendersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studyplan_renders_total",
				Help: "Markdown files written by kind.",
			},
			[]string{"kind"},
		),
		RefinementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studyplan_refinements_total",
				Help: "Refinement and rollback calls by result.",
			},
			[]string{"result"},
		),
		registry: reg,
	}

	reg.MustRegister(m.GenerationTotal)
	reg.MustRegister(m.GatewayRequestsTotal)
	reg.MustRegister(m.GatewayDuration)
	reg.MustRegister(m.RendersTotal)
	reg.MustRegister(m.RefinementsTotal)

	return m
}

// Registry exposes the underlying registry as a Gatherer.
func (m *Metrics) Registry() prometheus.Gatherer { return m.registry }

// RecordGeneration increments the generation counter.
func (m *Metrics) RecordGeneration(stage, source string) {
	m.GenerationTotal.WithLabelValues(stage, source).Inc()
}

// ObserveGateway records one model round trip.
func (m *Metrics) ObserveGateway(provider, outcome string, elapsed time.Duration) {
	m.GatewayRequestsTotal.WithLabelValues(provider, outcome).Inc()
	m.GatewayDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// RecordRender increments the render counter.
func (m *Metrics) RecordRender(kind string) {
	m.RendersTotal.WithLabelValues(kind).Inc()
}

// RecordRefinement increments the refinement counter.
func (m *Metrics) RecordRefinement(result string) {
	m.RefinementsTotal.WithLabelValues(result).Inc()
}

// WriteTextfile dumps every metric in the text exposition format, for the
// node exporter textfile collector. An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

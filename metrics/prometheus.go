package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	promNamespace         = "trafficrouter"
	promRoutingSubsystem  = "routing"
	promSnapshotSubsystem = "snapshot"
	promCustomSubsystem   = "custom"
)

// Prometheus implements the prometheus metrics backend.
type Prometheus struct {
	// Metrics.
	routingResultM     *prometheus.CounterVec
	routingDetailsM    *prometheus.CounterVec
	routingDurationM   *prometheus.HistogramVec
	invalidEntityM     *prometheus.CounterVec
	snapshotBuildM     prometheus.Histogram
	snapshotGeneration prometheus.Gauge
	reloadFailuresM    prometheus.Counter
	customHistogramM   *prometheus.HistogramVec
	customCounterM     *prometheus.CounterVec
	customGaugeM       *prometheus.GaugeVec

	opts     Options
	registry *prometheus.Registry
	handler  http.Handler
}

// NewPrometheus returns a new Prometheus metric backend.
func NewPrometheus(opts Options) *Prometheus {
	namespace := promNamespace
	if opts.Prefix != "" {
		namespace = strings.TrimSuffix(opts.Prefix, ".")
	}

	buckets := opts.HistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	routingResult := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promRoutingSubsystem,
		Name:      "result_total",
		Help:      "Total number of routing decisions by result.",
	}, []string{"type", "result"})

	routingDetails := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promRoutingSubsystem,
		Name:      "result_details_total",
		Help:      "Total number of routing decisions by result details.",
	}, []string{"type", "details"})

	routingDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: promRoutingSubsystem,
		Name:      "duration_seconds",
		Help:      "Duration in seconds of a routing decision.",
		Buckets:   buckets,
	}, []string{"type"})

	invalidEntity := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promSnapshotSubsystem,
		Name:      "invalid_entity_total",
		Help:      "Total number of entities skipped when building a snapshot.",
	}, []string{"reason"})

	snapshotBuild := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: promSnapshotSubsystem,
		Name:      "build_duration_seconds",
		Help:      "Duration in seconds of building a snapshot.",
		Buckets:   buckets,
	})

	snapshotGeneration := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: promSnapshotSubsystem,
		Name:      "generation",
		Help:      "Generation of the published snapshot.",
	})

	reloadFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promSnapshotSubsystem,
		Name:      "reload_failure_total",
		Help:      "Total number of failed configuration reloads.",
	})

	customCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promCustomSubsystem,
		Name:      "total",
		Help:      "Total number of custom metrics.",
	}, []string{"key"})
	customGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: promCustomSubsystem,
		Name:      "gauges",
		Help:      "Gauges number of custom metrics.",
	}, []string{"key"})
	customHistogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: promCustomSubsystem,
		Name:      "duration_seconds",
		Help:      "Duration in seconds of custom metrics.",
		Buckets:   buckets,
	}, []string{"key"})

	p := &Prometheus{
		routingResultM:     routingResult,
		routingDetailsM:    routingDetails,
		routingDurationM:   routingDuration,
		invalidEntityM:     invalidEntity,
		snapshotBuildM:     snapshotBuild,
		snapshotGeneration: snapshotGeneration,
		reloadFailuresM:    reloadFailures,
		customCounterM:     customCounter,
		customGaugeM:       customGauge,
		customHistogramM:   customHistogram,

		registry: opts.PrometheusRegistry,
		opts:     opts,
	}

	if p.registry == nil {
		p.registry = prometheus.NewRegistry()
	}

	// Register all metrics.
	p.registerMetrics()
	return p
}

// sinceS returns the seconds passed since the start time until now.
func (p *Prometheus) sinceS(start time.Time) float64 {
	return time.Since(start).Seconds()
}

func (p *Prometheus) registerMetrics() {
	p.registry.MustRegister(p.routingResultM)
	p.registry.MustRegister(p.routingDetailsM)
	p.registry.MustRegister(p.routingDurationM)
	p.registry.MustRegister(p.invalidEntityM)
	p.registry.MustRegister(p.snapshotBuildM)
	p.registry.MustRegister(p.snapshotGeneration)
	p.registry.MustRegister(p.reloadFailuresM)
	p.registry.MustRegister(p.customCounterM)
	p.registry.MustRegister(p.customHistogramM)
	p.registry.MustRegister(p.customGaugeM)

	// Register prometheus runtime collectors if required.
	if p.opts.EnableRuntimeMetrics {
		p.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		p.registry.MustRegister(collectors.NewGoCollector())
	}
}

func (p *Prometheus) CreateHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) getHandler() http.Handler {
	if p.handler != nil {
		return p.handler
	}

	p.handler = p.CreateHandler()
	return p.handler
}

// RegisterHandler satisfies Metrics interface.
func (p *Prometheus) RegisterHandler(path string, mux *http.ServeMux) {
	promHandler := p.getHandler()
	mux.Handle(path, promHandler)
}

// MeasureSince satisfies Metrics interface.
func (p *Prometheus) MeasureSince(key string, start time.Time) {
	t := p.sinceS(start)
	p.customHistogramM.WithLabelValues(key).Observe(t)
}

// IncCounter satisfies Metrics interface.
func (p *Prometheus) IncCounter(key string) {
	p.customCounterM.WithLabelValues(key).Inc()
}

// IncCounterBy satisfies Metrics interface.
func (p *Prometheus) IncCounterBy(key string, value int64) {
	f := float64(value)
	p.customCounterM.WithLabelValues(key).Add(f)
}

// IncFloatCounterBy satisfies Metrics interface.
func (p *Prometheus) IncFloatCounterBy(key string, value float64) {
	p.customCounterM.WithLabelValues(key).Add(value)
}

// UpdateGauge satisfies Metrics interface.
func (p *Prometheus) UpdateGauge(key string, v float64) {
	p.customGaugeM.WithLabelValues(key).Set(v)
}

// MeasureRouting satisfies Metrics interface.
func (p *Prometheus) MeasureRouting(routeType, result, details string, start, finish time.Time) {
	p.routingDurationM.WithLabelValues(routeType).Observe(finish.Sub(start).Seconds())
	p.routingResultM.WithLabelValues(routeType, result).Inc()
	if p.opts.EnableResultDetailsMetrics && details != "" {
		p.routingDetailsM.WithLabelValues(routeType, details).Inc()
	}
}

// IncInvalidEntity satisfies Metrics interface.
func (p *Prometheus) IncInvalidEntity(reason string) {
	p.invalidEntityM.WithLabelValues(reason).Inc()
}

// MeasureSnapshotBuild satisfies Metrics interface.
func (p *Prometheus) MeasureSnapshotBuild(start time.Time) {
	p.snapshotBuildM.Observe(p.sinceS(start))
}

// UpdateSnapshotGeneration satisfies Metrics interface.
func (p *Prometheus) UpdateSnapshotGeneration(generation uint64) {
	p.snapshotGeneration.Set(float64(generation))
}

// IncReloadFailures satisfies Metrics interface.
func (p *Prometheus) IncReloadFailures() {
	p.reloadFailuresM.Inc()
}

func (p *Prometheus) Close() {}

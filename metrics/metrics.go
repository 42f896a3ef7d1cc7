package metrics

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Kind is the metrics backend.
type Kind int

const (
	UnknownKind Kind = iota
	CodaHaleKind
	PrometheusKind
	AllKind
)

func (k Kind) String() string {
	switch k {
	case AllKind:
		return "all"
	case CodaHaleKind:
		return "codahale"
	case PrometheusKind:
		return "prometheus"
	default:
		return "unknown"
	}
}

// ParseMetricsKind parses the name of a metrics backend.
func ParseMetricsKind(t string) Kind {
	switch strings.ToLower(t) {
	case "codahale":
		return CodaHaleKind
	case "prometheus":
		return PrometheusKind
	case "all":
		return AllKind
	default:
		return UnknownKind
	}
}

// Metrics is the metrics collector of the router.
type Metrics interface {
	// Generic metrics.
	MeasureSince(key string, start time.Time)
	IncCounter(key string)
	IncCounterBy(key string, value int64)
	IncFloatCounterBy(key string, value float64)
	UpdateGauge(key string, value float64)

	// MeasureRouting counts the result of a routing decision and
	// observes its duration.
	MeasureRouting(routeType, result, details string, start, finish time.Time)

	// IncInvalidEntity counts an entity skipped when building a
	// snapshot, by the reason code.
	IncInvalidEntity(reason string)

	MeasureSnapshotBuild(start time.Time)
	UpdateSnapshotGeneration(generation uint64)
	IncReloadFailures()

	RegisterHandler(path string, handler *http.ServeMux)
	Close()
}

// Options for initializing metrics collection.
type Options struct {
	// the metrics exposing format.
	Format Kind

	// Common prefix for the keys of the different
	// collected metrics.
	Prefix string

	// If set, garbage collector metrics are collected
	// in addition to the routing metrics.
	EnableDebugGcMetrics bool

	// If set, Go runtime metrics are collected in
	// addition to the routing metrics.
	EnableRuntimeMetrics bool

	// If set, the routing results are counted by their details, too.
	EnableResultDetailsMetrics bool

	// If set, the CodaHale timers use an exponentially decaying
	// sample instead of a uniform one.
	UseExpDecaySample bool

	// HistogramBuckets defines buckets into which the observations
	// are counted for histogram metrics. Only used by the Prometheus
	// backend.
	HistogramBuckets []float64

	// PrometheusRegistry is used instead of a new registry, when set.
	PrometheusRegistry *prometheus.Registry

	// EnableProfile exposes the Go profiling endpoints next to the
	// metrics.
	EnableProfile bool
}

var (
	// Void is a metrics collector that drops everything.
	Void Metrics = NewVoid()

	// Default is used when no metrics collector is configured.
	Default = Void
)

// NewMetrics creates the metrics collector of the configured format.
func NewMetrics(o Options) Metrics {
	switch o.Format {
	case AllKind:
		return NewAll(o)
	case PrometheusKind:
		return NewPrometheus(o)
	default:
		return NewCodaHale(o)
	}
}

// NewDefaultHandler returns a handler serving the metrics of a newly
// created collector, and sets Default to it.
func NewDefaultHandler(o Options) http.Handler {
	m := NewMetrics(o)
	Default = m
	return NewHandler(o, m)
}

// NewHandler returns a collection of metrics handlers.
func NewHandler(o Options, m Metrics) http.Handler {
	mux := http.NewServeMux()

	if o.EnableProfile {
		mux.Handle("/debug/pprof/", http.HandlerFunc(pprof.Index))
		mux.Handle("/debug/pprof/cmdline", http.HandlerFunc(pprof.Cmdline))
		mux.Handle("/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
		mux.Handle("/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
		mux.Handle("/debug/pprof/trace", http.HandlerFunc(pprof.Trace))
	}

	// Root path should return 404.
	mux.Handle("/", http.NotFoundHandler())

	m.RegisterHandler("/metrics", mux)
	if o.Format != PrometheusKind {
		m.RegisterHandler("/metrics/", mux)
	}

	return mux
}

func routingKey(routeType, result string) string {
	return fmt.Sprintf(KeyRouting, routeType, result)
}

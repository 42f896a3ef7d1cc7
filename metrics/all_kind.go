package metrics

import (
	"net/http"
	"strings"
	"time"
)

// All fans out every metric to both the Prometheus and the CodaHale
// backend. The served format is chosen by the Accept header of the
// metrics request.
type All struct {
	prometheus        *Prometheus
	codaHale          *CodaHale
	prometheusHandler http.Handler
	codaHaleHandler   http.Handler
}

func NewAll(o Options) *All {
	return &All{
		prometheus: NewPrometheus(o),
		codaHale:   NewCodaHale(o),
	}
}

func (a *All) MeasureSince(key string, start time.Time) {
	a.prometheus.MeasureSince(key, start)
	a.codaHale.MeasureSince(key, start)
}

func (a *All) IncCounter(key string) {
	a.prometheus.IncCounter(key)
	a.codaHale.IncCounter(key)
}

func (a *All) IncCounterBy(key string, value int64) {
	a.prometheus.IncCounterBy(key, value)
	a.codaHale.IncCounterBy(key, value)
}

func (a *All) IncFloatCounterBy(key string, value float64) {
	a.prometheus.IncFloatCounterBy(key, value)
	a.codaHale.IncFloatCounterBy(key, value)
}

func (a *All) UpdateGauge(key string, v float64) {
	a.prometheus.UpdateGauge(key, v)
	a.codaHale.UpdateGauge(key, v)
}

func (a *All) MeasureRouting(routeType, result, details string, start, finish time.Time) {
	a.prometheus.MeasureRouting(routeType, result, details, start, finish)
	a.codaHale.MeasureRouting(routeType, result, details, start, finish)
}

func (a *All) IncInvalidEntity(reason string) {
	a.prometheus.IncInvalidEntity(reason)
	a.codaHale.IncInvalidEntity(reason)
}

func (a *All) MeasureSnapshotBuild(start time.Time) {
	a.prometheus.MeasureSnapshotBuild(start)
	a.codaHale.MeasureSnapshotBuild(start)
}

func (a *All) UpdateSnapshotGeneration(generation uint64) {
	a.prometheus.UpdateSnapshotGeneration(generation)
	a.codaHale.UpdateSnapshotGeneration(generation)
}

func (a *All) IncReloadFailures() {
	a.prometheus.IncReloadFailures()
	a.codaHale.IncReloadFailures()
}

func (a *All) RegisterHandler(path string, handler *http.ServeMux) {
	a.prometheusHandler = a.prometheus.getHandler()
	a.codaHaleHandler = a.codaHale.getHandler(path)
	handler.Handle(path, a.newHandler())
}

func (a *All) newHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.Contains(req.Header.Get("Accept"), "application/codahale+json") {
			a.codaHaleHandler.ServeHTTP(w, req)
		} else {
			a.prometheusHandler.ServeHTTP(w, req)
		}
	})
}

func (a *All) Close() {
	a.codaHale.Close()
	a.prometheus.Close()
}

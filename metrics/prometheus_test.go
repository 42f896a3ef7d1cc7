package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/trafficrouter/metrics"
)

func TestPrometheusMetrics(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		opts       metrics.Options
		addMetrics func(*metrics.Prometheus)
		expMetrics []string
		notMetrics []string
	}{
		{
			name: "routing results are counted by route type and result",
			addMetrics: func(pm *metrics.Prometheus) {
				pm.MeasureRouting("DNS", "CZ", "", start, start.Add(time.Millisecond))
				pm.MeasureRouting("DNS", "CZ", "", start, start.Add(time.Millisecond))
				pm.MeasureRouting("HTTP", "MISS", "DS_NO_BYPASS", start, start.Add(time.Millisecond))
			},
			expMetrics: []string{
				`trafficrouter_routing_result_total{result="CZ",type="DNS"} 2`,
				`trafficrouter_routing_result_total{result="MISS",type="HTTP"} 1`,
			},
			notMetrics: []string{`trafficrouter_routing_result_details_total{`},
		},
		{
			name: "result details are counted when enabled",
			opts: metrics.Options{EnableResultDetailsMetrics: true},
			addMetrics: func(pm *metrics.Prometheus) {
				pm.MeasureRouting("HTTP", "MISS", "DS_NO_BYPASS", start, start.Add(time.Millisecond))
				pm.MeasureRouting("HTTP", "GEO", "", start, start.Add(time.Millisecond))
			},
			expMetrics: []string{
				`trafficrouter_routing_result_details_total{details="DS_NO_BYPASS",type="HTTP"} 1`,
			},
		},
		{
			name: "routing duration is observed",
			addMetrics: func(pm *metrics.Prometheus) {
				pm.MeasureRouting("DNS", "GEO", "", start, start.Add(3*time.Millisecond))
				pm.MeasureRouting("DNS", "GEO", "", start, start.Add(15*time.Millisecond))
			},
			expMetrics: []string{
				`trafficrouter_routing_duration_seconds_bucket{type="DNS",le="0.005"} 1`,
				`trafficrouter_routing_duration_seconds_bucket{type="DNS",le="0.025"} 2`,
				`trafficrouter_routing_duration_seconds_count{type="DNS"} 2`,
			},
		},
		{
			name: "snapshot metrics",
			addMetrics: func(pm *metrics.Prometheus) {
				pm.IncInvalidEntity("duplicate_id")
				pm.IncInvalidEntity("duplicate_id")
				pm.UpdateSnapshotGeneration(42)
				pm.IncReloadFailures()
				pm.MeasureSnapshotBuild(time.Now())
			},
			expMetrics: []string{
				`trafficrouter_snapshot_invalid_entity_total{reason="duplicate_id"} 2`,
				`trafficrouter_snapshot_generation 42`,
				`trafficrouter_snapshot_reload_failure_total 1`,
				`trafficrouter_snapshot_build_duration_seconds_count 1`,
			},
		},
		{
			name: "custom metrics",
			addMetrics: func(pm *metrics.Prometheus) {
				pm.IncCounter("geolocation.errors")
				pm.IncCounterBy("geolocation.errors", 2)
				pm.IncFloatCounterBy("float", 0.5)
				pm.UpdateGauge("locations", 3)
			},
			expMetrics: []string{
				`trafficrouter_custom_total{key="geolocation.errors"} 3`,
				`trafficrouter_custom_total{key="float"} 0.5`,
				`trafficrouter_custom_gauges{key="locations"} 3`,
			},
		},
		{
			name: "prefix replaces the namespace",
			opts: metrics.Options{Prefix: "cdn."},
			addMetrics: func(pm *metrics.Prometheus) {
				pm.IncReloadFailures()
			},
			expMetrics: []string{`cdn_snapshot_reload_failure_total 1`},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			pm := metrics.NewPrometheus(test.opts)
			path := "/awesome-metrics"

			mux := http.NewServeMux()
			pm.RegisterHandler(path, mux)

			test.addMetrics(pm)

			req := httptest.NewRequest("GET", path, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			resp := w.Result()
			require.Equal(t, http.StatusOK, resp.StatusCode)

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			for _, expMetric := range test.expMetrics {
				assert.Contains(t, string(body), expMetric)
			}

			for _, m := range test.notMetrics {
				assert.False(t, strings.Contains(string(body), m), "unexpected metric: %s", m)
			}
		})
	}
}

func TestParseMetricsKind(t *testing.T) {
	for _, test := range []struct {
		in   string
		kind metrics.Kind
	}{
		{"codahale", metrics.CodaHaleKind},
		{"Prometheus", metrics.PrometheusKind},
		{"all", metrics.AllKind},
		{"statsd", metrics.UnknownKind},
	} {
		t.Run(test.in, func(t *testing.T) {
			assert.Equal(t, test.kind, metrics.ParseMetricsKind(test.in))
		})
	}

	assert.Equal(t, "prometheus", metrics.PrometheusKind.String())
}

func TestAllKindHandler(t *testing.T) {
	o := metrics.Options{Format: metrics.AllKind}
	m := metrics.NewMetrics(o)
	defer m.Close()

	h := metrics.NewHandler(o, m)
	m.IncReloadFailures()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Contains(t, w.Body.String(), "trafficrouter_snapshot_reload_failure_total 1")

	req = httptest.NewRequest("GET", "/metrics", nil)
	req.Header.Set("Accept", "application/codahale+json")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Contains(t, w.Body.String(), `"snapshot.reloadfailure":{"count":1}`)

	req = httptest.NewRequest("GET", "/", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

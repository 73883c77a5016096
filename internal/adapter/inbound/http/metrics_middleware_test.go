package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func serveThrough(metrics *Metrics, status int, method, path string) {
	handler := MetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(method, path, nil))
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, nil)

	serveThrough(metrics, http.StatusOK, http.MethodGet, "/api/quotas")

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, mf := range metricFamilies {
		if mf.GetName() != "inkgate_http_request_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "method" && lp.GetValue() == "GET" {
					if m.GetHistogram().GetSampleCount() != 1 {
						t.Errorf("expected 1 observation, got %d", m.GetHistogram().GetSampleCount())
					}
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected http_request_duration_seconds with method=GET")
	}
}

func TestMetricsMiddleware_StatusLabels(t *testing.T) {
	tests := []struct {
		status int
		label  string
	}{
		{http.StatusOK, "ok"},
		{http.StatusNotModified, "ok"},
		{http.StatusBadRequest, "error"},
		{http.StatusInternalServerError, "error"},
	}
	for _, tt := range tests {
		metrics := NewMetrics(prometheus.NewRegistry(), nil)
		serveThrough(metrics, tt.status, http.MethodGet, "/api/decisions")

		var m dto.Metric
		if err := metrics.HTTPRequestsTotal.WithLabelValues("GET", tt.label).Write(&m); err != nil {
			t.Fatal(err)
		}
		if m.Counter.GetValue() != 1 {
			t.Errorf("status %d: %s count = %f, want 1", tt.status, tt.label, m.Counter.GetValue())
		}
	}
}

func TestMetricsMiddleware_SkipsScrapesAndProbes(t *testing.T) {
	for _, path := range []string{"/metrics", "/healthz"} {
		metrics := NewMetrics(prometheus.NewRegistry(), nil)
		serveThrough(metrics, http.StatusOK, http.MethodGet, path)

		if got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "ok")); got != 0 {
			t.Errorf("%s recorded %v requests, want 0", path, got)
		}
	}
}

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHealthChecker_NilComponents(t *testing.T) {
	hc := NewHealthChecker(nil, nil, nil, "", nil)
	health := hc.Check()

	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	for _, name := range []string{"policies", "loop", "quota_tracker"} {
		if health.Checks[name] != "not configured" {
			t.Errorf("%s = %q, want 'not configured'", name, health.Checks[name])
		}
	}
	if health.Checks["goroutines"] == "" {
		t.Error("goroutines check missing")
	}
}

func TestHealthChecker_WaitingForFirstCycle(t *testing.T) {
	f := newAgentFixture(t)
	hc := NewHealthChecker(f.policies, f.loop, f.quotas, "test-version", f.clock)

	health := hc.Check()
	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Version != "test-version" {
		t.Errorf("Version = %q", health.Version)
	}
	if health.Checks["loop"] != "waiting for first cycle" {
		t.Errorf("loop = %q", health.Checks["loop"])
	}
	if health.Checks["policies"] != "no documents loaded" {
		t.Errorf("policies = %q", health.Checks["policies"])
	}
}

func TestHealthChecker_StaleLoop(t *testing.T) {
	f := newAgentFixture(t)
	f.loop.RunCycle(context.Background())
	hc := NewHealthChecker(f.policies, f.loop, f.quotas, "1.0.0", f.clock)

	health := hc.Check()
	if health.Status != "healthy" {
		t.Fatalf("Status = %q right after a cycle (%v)", health.Status, health.Checks)
	}
	if !strings.HasPrefix(health.Checks["loop"], "ok: last outcome dispatched") {
		t.Errorf("loop = %q", health.Checks["loop"])
	}
	if !strings.HasPrefix(health.Checks["policies"], "ok: 1 documents") {
		t.Errorf("policies = %q", health.Checks["policies"])
	}
	if health.Checks["quota_tracker"] != "ok: 2 keys" {
		t.Errorf("quota_tracker = %q", health.Checks["quota_tracker"])
	}

	// 2 * 5m + 1m grace.
	f.clock.Advance(11 * time.Minute)
	if got := hc.Check().Status; got != "healthy" {
		t.Errorf("Status at the limit = %q, want healthy", got)
	}
	f.clock.Advance(time.Second)

	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want 503", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "unhealthy" || !strings.HasPrefix(resp.Checks["loop"], "stale: last cycle 11m1s ago") {
		t.Errorf("response = %+v", resp)
	}
}

func TestHealthChecker_Handler_HTTP(t *testing.T) {
	hc := NewHealthChecker(nil, nil, nil, "1.0.0", nil)

	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Version != "1.0.0" {
		t.Errorf("Version = %q", resp.Version)
	}
}

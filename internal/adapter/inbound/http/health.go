package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/Sentinel-Gate/inkgate/internal/clock"
	"github.com/Sentinel-Gate/inkgate/internal/service"
)

// staleGrace is added to twice the loop interval before a missing cycle
// marks the agent unhealthy.
const staleGrace = time.Minute

// HealthResponse is the JSON response from the /healthz endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// HealthChecker verifies component health.
type HealthChecker struct {
	policies *service.PolicyService
	loop     *service.DecisionLoop
	quotas   QuotaSizer
	version  string
	clock    clock.Clock
}

// NewHealthChecker creates a HealthChecker. Pass nil for components that
// aren't available.
func NewHealthChecker(policies *service.PolicyService, loop *service.DecisionLoop, quotas QuotaSizer, version string, clk clock.Clock) *HealthChecker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &HealthChecker{
		policies: policies,
		loop:     loop,
		quotas:   quotas,
		version:  version,
		clock:    clk,
	}
}

// Check performs health checks on all components. Only a stalled decision
// loop makes the agent unhealthy; missing policy documents do not, since
// validation fails open on them.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.policies != nil {
		snap := h.policies.Snapshot()
		if snap.Empty() {
			checks["policies"] = "no documents loaded"
		} else {
			checks["policies"] = fmt.Sprintf("ok: %d documents (%s)", len(snap.Names()), snap.Version())
		}
	} else {
		checks["policies"] = "not configured"
	}

	if h.loop != nil {
		report, ok := h.loop.LastReport()
		switch {
		case !ok:
			checks["loop"] = "waiting for first cycle"
		default:
			age := h.clock.Now().Sub(report.StartedAt)
			if limit := 2*h.loop.SleepInterval() + staleGrace; age > limit {
				checks["loop"] = fmt.Sprintf("stale: last cycle %s ago", age.Round(time.Second))
				healthy = false
			} else {
				checks["loop"] = fmt.Sprintf("ok: last outcome %s", report.Outcome)
			}
		}
	} else {
		checks["loop"] = "not configured"
	}

	if h.quotas != nil {
		checks["quota_tracker"] = fmt.Sprintf("ok: %d keys", h.quotas.Size())
	} else {
		checks["quota_tracker"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}

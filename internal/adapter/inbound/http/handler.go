package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
	"github.com/Sentinel-Gate/inkgate/internal/domain/journal"
	"github.com/Sentinel-Gate/inkgate/internal/service"
)

// StatusAPI serves the read-only JSON endpoints.
type StatusAPI struct {
	status *service.StatusService
	stats  *service.StatsService
}

// NewStatusAPI creates a StatusAPI. stats may be nil.
func NewStatusAPI(status *service.StatusService, stats *service.StatsService) *StatusAPI {
	return &StatusAPI{status: status, stats: stats}
}

// Register adds the API routes to mux.
func (a *StatusAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/decisions", a.handleDecisions)
	mux.HandleFunc("GET /api/policies", a.handlePolicies)
	mux.HandleFunc("GET /api/quotas", a.handleQuotas)
	mux.HandleFunc("GET /api/stats", a.handleStats)
}

func (a *StatusAPI) handleDecisions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := a.status.Decisions(r.Context(), filter)
	if errors.Is(err, service.ErrNoJournal) {
		writeError(w, http.StatusNotImplemented, err.Error())
		return
	}
	if err != nil {
		LoggerFromContext(r.Context()).Error("journal query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "journal query failed")
		return
	}
	if records == nil {
		records = []journal.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": records, "count": len(records)})
}

func (a *StatusAPI) handlePolicies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.status.PolicyStatus())
}

func (a *StatusAPI) handleQuotas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"quotas": a.status.QuotaStatus()})
}

func (a *StatusAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	if a.stats == nil {
		writeError(w, http.StatusNotImplemented, "stats are not collected")
		return
	}
	writeJSON(w, http.StatusOK, a.stats.GetStats())
}

// parseFilter reads outcome, kind, since, until (RFC 3339) and limit.
func parseFilter(r *http.Request) (journal.Filter, error) {
	q := r.URL.Query()
	var f journal.Filter

	if v := q.Get("outcome"); v != "" {
		o := journal.Outcome(v)
		known := false
		for _, candidate := range journal.Outcomes() {
			known = known || candidate == o
		}
		if !known {
			return f, fmt.Errorf("unknown outcome %q", v)
		}
		f.Outcome = o
	}
	if v := q.Get("kind"); v != "" {
		k, ok := action.ParseKind(v)
		if !ok {
			return f, fmt.Errorf("unknown kind %q", v)
		}
		f.Kind = k
	}
	for name, dst := range map[string]*time.Time{"since": &f.StartTime, "until": &f.EndTime} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, fmt.Errorf("invalid %s: %w", name, err)
			}
			*dst = t
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
		f.Limit = n
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

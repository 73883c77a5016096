package service

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Sentinel-Gate/inkgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/inkgate/internal/adapter/outbound/state"
	"github.com/Sentinel-Gate/inkgate/internal/domain/quota"
)

// RuntimeState bridges state.json with the in-memory policy check time and
// quota windows, so the daily gate and quotas survive restarts.
type RuntimeState struct {
	store    *state.FileStateStore
	policies *PolicyService
	quotas   *memory.QuotaTracker
	logger   *slog.Logger
}

// NewRuntimeState creates a RuntimeState.
func NewRuntimeState(store *state.FileStateStore, policies *PolicyService, quotas *memory.QuotaTracker, logger *slog.Logger) *RuntimeState {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuntimeState{store: store, policies: policies, quotas: quotas, logger: logger}
}

// Restore loads state.json and applies it. A missing file is not an error.
// Unparseable quota keys are skipped.
func (r *RuntimeState) Restore() error {
	st, err := r.store.Load()
	if err != nil {
		return fmt.Errorf("restore runtime state: %w", err)
	}

	if st.LastPolicyCheck != nil && r.policies != nil {
		r.policies.RestoreLastCheck(*st.LastPolicyCheck)
	}

	if r.quotas != nil {
		snap := make(map[quota.Key][]time.Time, len(st.QuotaLog))
		for raw, stamps := range st.QuotaLog {
			key, err := quota.ParseKey(raw)
			if err != nil {
				r.logger.Warn("skipping unparseable quota key in state", "key", raw, "error", err)
				continue
			}
			snap[key] = stamps
		}
		r.quotas.Restore(snap)
	}

	r.logger.Debug("runtime state restored", "path", r.store.Path(), "quota_keys", len(st.QuotaLog))
	return nil
}

// SaveRuntimeState writes the current check time and quota windows.
func (r *RuntimeState) SaveRuntimeState() error {
	st, err := r.store.Load()
	if err != nil {
		// A corrupt file is replaced rather than blocking every later save.
		r.logger.Warn("state file unreadable, rewriting", "path", r.store.Path(), "error", err)
		st = r.store.DefaultState()
	}

	if r.policies != nil {
		if last := r.policies.LastCheck(); !last.IsZero() {
			t := last.UTC()
			st.LastPolicyCheck = &t
		}
		st.PolicyHashes = r.policies.Hashes()
	}

	if r.quotas != nil {
		log := make(map[string][]time.Time)
		for key, stamps := range r.quotas.Snapshot() {
			log[key.String()] = stamps
		}
		st.QuotaLog = log
	}

	if err := r.store.Save(st); err != nil {
		return fmt.Errorf("save runtime state: %w", err)
	}
	return nil
}

// Compile-time interface verification.
var _ StateSaver = (*RuntimeState)(nil)

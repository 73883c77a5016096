package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sentinel-Gate/inkgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/inkgate/internal/adapter/outbound/state"
	"github.com/Sentinel-Gate/inkgate/internal/clock"
	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
)

func TestRuntimeState_SaveAndRestore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	logger := discardLogger()
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	// First process: check policy, dispatch twice.
	policies := NewPolicyService(newFakeSource(map[string]string{"p": "a: 1"}), nil, []string{"p"}, logger, WithClock(clk))
	quotas := memory.NewQuotaTracker(clk, nil, logger)
	rs := NewRuntimeState(state.NewFileStateStore(path, logger), policies, quotas, logger)

	if _, err := policies.CheckForUpdates(context.Background()); err != nil {
		t.Fatalf("CheckForUpdates() error: %v", err)
	}
	quotas.Record(action.KindCreateThread, "story-1")
	quotas.Record(action.KindContinue, "branch:with:colons")
	if err := rs.SaveRuntimeState(); err != nil {
		t.Fatalf("SaveRuntimeState() error: %v", err)
	}

	// Second process, later the same day.
	clk.Advance(10 * time.Minute)
	policies2 := NewPolicyService(nil, nil, []string{"p"}, logger, WithClock(clk))
	quotas2 := memory.NewQuotaTracker(clk, nil, logger)
	rs2 := NewRuntimeState(state.NewFileStateStore(path, logger), policies2, quotas2, logger)
	if err := rs2.Restore(); err != nil {
		t.Fatalf("Restore() error: %v", err)
	}

	if policies2.ShouldCheckToday() {
		t.Error("restored check time should close the daily gate")
	}
	if quotas2.CanPerform(action.KindCreateThread, "") {
		t.Error("create_thread quota (1/h) should still be used")
	}
	if got := quotas2.RemainingWait(action.KindCreateThread, ""); got != 50*time.Minute {
		t.Errorf("RemainingWait = %v, want 50m", got)
	}
	if quotas2.Size() != quotas.Size() {
		t.Errorf("restored %d keys, want %d", quotas2.Size(), quotas.Size())
	}
}

func TestRuntimeState_RestoreMissingFile(t *testing.T) {
	t.Parallel()

	logger := discardLogger()
	policies := NewPolicyService(nil, nil, nil, logger)
	rs := NewRuntimeState(state.NewFileStateStore(filepath.Join(t.TempDir(), "state.json"), logger), policies, memory.NewQuotaTracker(nil, nil, logger), logger)

	if err := rs.Restore(); err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if !policies.ShouldCheckToday() {
		t.Error("fresh state should leave the daily check due")
	}
}

func TestRuntimeState_SkipsBadKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	data := `{"version":"1","quota_log":{"bogus":["2026-03-01T09:00:00Z"],"quota:comment":["2026-03-01T09:00:00Z"]}}`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	logger := discardLogger()
	quotas := memory.NewQuotaTracker(clock.NewFake(time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)), nil, logger)
	rs := NewRuntimeState(state.NewFileStateStore(path, logger), nil, quotas, logger)
	if err := rs.Restore(); err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if quotas.Size() != 1 {
		t.Errorf("Size() = %d, want 1", quotas.Size())
	}
}

func TestRuntimeState_CorruptFileIsRewritten(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{broken"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	logger := discardLogger()
	store := state.NewFileStateStore(path, logger)
	rs := NewRuntimeState(store, nil, memory.NewQuotaTracker(nil, nil, logger), logger)

	if err := rs.Restore(); err == nil {
		t.Error("Restore() should report a corrupt file")
	}
	if err := rs.SaveRuntimeState(); err != nil {
		t.Fatalf("SaveRuntimeState() error: %v", err)
	}
	if _, err := store.Load(); err != nil {
		t.Errorf("state still unreadable after save: %v", err)
	}
}

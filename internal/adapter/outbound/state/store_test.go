package state

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// ---------------------------------------------------------------------------
// DefaultState / Load tests
// ---------------------------------------------------------------------------

func TestDefaultState_Empty(t *testing.T) {
	s := NewFileStateStore(filepath.Join(t.TempDir(), "state.json"), testLogger())
	state := s.DefaultState()

	if state.Version != SchemaVersion {
		t.Errorf("expected Version %q, got %q", SchemaVersion, state.Version)
	}
	if state.LastPolicyCheck != nil {
		t.Errorf("expected no LastPolicyCheck, got %v", state.LastPolicyCheck)
	}
	if state.QuotaLog == nil || len(state.QuotaLog) != 0 {
		t.Errorf("expected empty QuotaLog map, got %v", state.QuotaLog)
	}
	if state.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestLoad_NoFile_ReturnsDefaultState(t *testing.T) {
	s := NewFileStateStore(filepath.Join(t.TempDir(), "state.json"), testLogger())

	state, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if state.LastPolicyCheck != nil || len(state.QuotaLog) != 0 {
		t.Errorf("expected default state, got %+v", state)
	}
	if s.Exists() {
		t.Error("Load() must not create the file")
	}
}

func TestLoad_CorruptFile_ReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{invalid json"), 0600); err != nil {
		t.Fatalf("failed to write corrupt file: %v", err)
	}

	if _, err := NewFileStateStore(path, testLogger()).Load(); err == nil {
		t.Fatal("expected error for corrupt JSON, got nil")
	}
}

func TestLoad_MissingQuotaLogIsInitialized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"version":"1"}`), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	state, err := NewFileStateStore(path, testLogger()).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if state.QuotaLog == nil {
		t.Error("QuotaLog should never be nil after Load")
	}
}

// ---------------------------------------------------------------------------
// Save tests
// ---------------------------------------------------------------------------

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileStateStore(path, testLogger())

	checked := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	state := s.DefaultState()
	state.LastPolicyCheck = &checked
	state.PolicyHashes = map[string]string{"agent-policy": "abc123"}
	state.QuotaLog["quota:continue:b-1"] = []time.Time{checked, checked.Add(time.Minute)}

	if err := s.Save(state); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.LastPolicyCheck == nil || !loaded.LastPolicyCheck.Equal(checked) {
		t.Errorf("LastPolicyCheck = %v, want %v", loaded.LastPolicyCheck, checked)
	}
	if loaded.PolicyHashes["agent-policy"] != "abc123" {
		t.Errorf("PolicyHashes = %v", loaded.PolicyHashes)
	}
	stamps := loaded.QuotaLog["quota:continue:b-1"]
	if len(stamps) != 2 || !stamps[1].Equal(checked.Add(time.Minute)) {
		t.Errorf("QuotaLog = %v", loaded.QuotaLog)
	}
}

func TestSave_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.json")
	s := NewFileStateStore(path, testLogger())

	if err := s.Save(s.DefaultState()); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if !s.Exists() {
		t.Error("state file not created")
	}
}

func TestSave_SetsFilePermissions0600(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileStateStore(path, testLogger())

	if err := s.Save(s.DefaultState()); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	// Loosen and save again: permissions are restored.
	if err := os.Chmod(path, 0644); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if err := s.Save(s.DefaultState()); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected permissions 0600, got %04o", perm)
	}
}

func TestSave_CreatesBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileStateStore(path, testLogger())

	first := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	second := first.Add(24 * time.Hour)

	st := s.DefaultState()
	st.LastPolicyCheck = &first
	if err := s.Save(st); err != nil {
		t.Fatalf("first Save() failed: %v", err)
	}
	st.LastPolicyCheck = &second
	if err := s.Save(st); err != nil {
		t.Fatalf("second Save() failed: %v", err)
	}

	data, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("failed to read backup file: %v", err)
	}
	var backup AppState
	if err := json.Unmarshal(data, &backup); err != nil {
		t.Fatalf("failed to unmarshal backup: %v", err)
	}
	if backup.LastPolicyCheck == nil || !backup.LastPolicyCheck.Equal(first) {
		t.Errorf("backup LastPolicyCheck = %v, want %v", backup.LastPolicyCheck, first)
	}
}

func TestSave_AtomicWrite_NoTmpFileLeftBehind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileStateStore(path, testLogger())

	if err := s.Save(s.DefaultState()); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("expected .tmp file to not exist after save")
	}
}

func TestSave_UpdatesUpdatedAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileStateStore(path, testLogger())

	st := s.DefaultState()
	st.UpdatedAt = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.Save(st); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if st.UpdatedAt.Year() == 2000 {
		t.Error("Save() did not refresh UpdatedAt")
	}
}

func TestConcurrentSaves_DoNotCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileStateStore(path, testLogger())

	const goroutines = 20
	var wg sync.WaitGroup
	errs := make(chan error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st := s.DefaultState()
			st.QuotaLog["quota:comment"] = []time.Time{time.Now().UTC()}
			if err := s.Save(st); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Save() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file after concurrent saves: %v", err)
	}
	var final AppState
	if err := json.Unmarshal(data, &final); err != nil {
		t.Fatalf("file corrupted after concurrent saves: %v", err)
	}
	if len(final.QuotaLog["quota:comment"]) != 1 {
		t.Errorf("QuotaLog = %v", final.QuotaLog)
	}
}

func TestReset_RemovesFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewFileStateStore(path, testLogger())

	// Reset on a missing file is fine.
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset() on missing file error: %v", err)
	}

	_ = s.Save(s.DefaultState())
	_ = s.Save(s.DefaultState()) // creates .bak
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if s.Exists() {
		t.Error("state file still exists after Reset")
	}
	if _, err := os.Stat(path + ".bak"); !os.IsNotExist(err) {
		t.Error("backup still exists after Reset")
	}
}

func TestLoad_TooOpenPermissions_WarnsButSucceeds(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"version":"1","quota_log":{}}`), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if _, err := NewFileStateStore(path, logger).Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !strings.Contains(buf.String(), "too-open permissions") {
		t.Errorf("expected warning about too-open permissions, got log output: %q", buf.String())
	}
}

func TestWriteFileAtomic_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	if err := WriteFileAtomic(path, []byte("one"), 0600); err != nil {
		t.Fatalf("WriteFileAtomic() error: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0600); err != nil {
		t.Fatalf("WriteFileAtomic() error: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "two" {
		t.Errorf("content = %q, want %q", data, "two")
	}
}

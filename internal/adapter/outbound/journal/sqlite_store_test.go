package journal

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
	"github.com/Sentinel-Gate/inkgate/internal/domain/journal"
)

func openTempSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_AppendAndQuery(t *testing.T) {
	t.Parallel()

	s := openTempSQLite(t)
	ctx := context.Background()

	rejected := journal.Record{
		Timestamp:     day1.Add(time.Minute),
		CycleID:       "r-1",
		Outcome:       journal.OutcomeRejected,
		Kind:          action.KindComment,
		TargetID:      "b-2",
		ReasonCode:    "MISSING_REFERENCE",
		Message:       "comment must cite one of E-, S-, GAP-",
		Scores:        action.ScoreVector{action.DimConflict: 0.9, action.FlagHasConflict: 1},
		Candidates:    4,
		PolicyVersion: "abc123",
		PolicyUpdated: []string{"agent_policy"},
		DurationMS:    12,
	}
	silent := journal.Record{Timestamp: day1.Add(2 * time.Minute), CycleID: "s-1", Outcome: journal.OutcomeSilent}
	if err := s.Append(ctx, makeRecord(day1, "d-1"), rejected, silent); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	all, err := s.Query(ctx, journal.Filter{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	var ids []string
	for _, r := range all {
		ids = append(ids, r.CycleID)
	}
	if strings.Join(ids, ",") != "s-1,r-1,d-1" {
		t.Errorf("Query() order = %v", ids)
	}

	got := all[1]
	if got.ReasonCode != rejected.ReasonCode || got.Candidates != 4 || got.DurationMS != 12 {
		t.Errorf("record = %+v", got)
	}
	if !got.Timestamp.Equal(rejected.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, rejected.Timestamp)
	}
	if got.Scores[action.DimConflict] != 0.9 || !got.Scores.Flag(action.FlagHasConflict) {
		t.Errorf("Scores = %v", got.Scores)
	}
	if len(got.PolicyUpdated) != 1 || got.PolicyUpdated[0] != "agent_policy" {
		t.Errorf("PolicyUpdated = %v", got.PolicyUpdated)
	}
	if all[0].Scores != nil || all[0].PolicyUpdated != nil {
		t.Errorf("silent record should have no scores: %+v", all[0])
	}
}

func TestSQLiteStore_QueryFilters(t *testing.T) {
	t.Parallel()

	s := openTempSQLite(t)
	ctx := context.Background()
	silent := journal.Record{Timestamp: day1.Add(time.Hour), CycleID: "s", Outcome: journal.OutcomeSilent}
	_ = s.Append(ctx, makeRecord(day1, "d-1"), silent, makeRecord(day1.Add(2*time.Hour), "d-2"))

	tests := []struct {
		name   string
		filter journal.Filter
		want   string
	}{
		{"outcome", journal.Filter{Outcome: journal.OutcomeSilent}, "s"},
		{"kind", journal.Filter{Kind: action.KindContinue}, "d-2,d-1"},
		{"window", journal.Filter{StartTime: day1.Add(30 * time.Minute), EndTime: day1.Add(90 * time.Minute)}, "s"},
		{"limit", journal.Filter{Limit: 2}, "d-2,s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Query() error: %v", err)
			}
			ids := make([]string, len(got))
			for i, r := range got {
				ids[i] = r.CycleID
			}
			if strings.Join(ids, ",") != tt.want {
				t.Errorf("Query() = %v, want %s", ids, tt.want)
			}
		})
	}
}

func TestSQLiteStore_CountByOutcome(t *testing.T) {
	t.Parallel()

	s := openTempSQLite(t)
	ctx := context.Background()
	_ = s.Append(ctx,
		makeRecord(day1, "a"),
		makeRecord(day1, "b"),
		journal.Record{Timestamp: day1, CycleID: "c", Outcome: journal.OutcomeSilent},
	)

	counts, err := s.CountByOutcome(ctx)
	if err != nil {
		t.Fatalf("CountByOutcome() error: %v", err)
	}
	if counts[journal.OutcomeDispatched] != 2 || counts[journal.OutcomeSilent] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	_ = s.Append(context.Background(), makeRecord(day1, "kept"))
	_ = s.Close()

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer func() { _ = s.Close() }()
	got, _ := s.Query(context.Background(), journal.Filter{})
	if len(got) != 1 || got[0].CycleID != "kept" {
		t.Errorf("after reopen = %+v", got)
	}
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := OpenSQLite("  "); err == nil {
		t.Error("OpenSQLite() expected error for empty path")
	}
}

func TestSQLiteStore_CloseReleasesGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, err := OpenSQLite(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	_ = s.Append(context.Background(), makeRecord(day1, "x"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tests := []struct {
		output  string
		want    string
		wantErr bool
	}{
		{"stdout", "*memory.JournalStore", false},
		{"", "*memory.JournalStore", false},
		{"file://" + filepath.Join(dir, "files"), "*journal.FileStore", false},
		{"sqlite://" + filepath.Join(dir, "j.db"), "*journal.SQLiteStore", false},
		{"kafka://broker", "", true},
	}
	for _, tt := range tests {
		j, err := Open(tt.output, OpenOptions{BufferSize: 10}, testLogger())
		if (err != nil) != tt.wantErr {
			t.Errorf("Open(%q) error = %v", tt.output, err)
			continue
		}
		if err != nil {
			continue
		}
		if got := fmt.Sprintf("%T", j); got != tt.want {
			t.Errorf("Open(%q) = %s, want %s", tt.output, got, tt.want)
		}
		_ = j.Close()
	}
}

package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
	"github.com/Sentinel-Gate/inkgate/internal/domain/journal"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id       TEXT    NOT NULL,
	ts             INTEGER NOT NULL,
	outcome        TEXT    NOT NULL,
	kind           TEXT    NOT NULL DEFAULT '',
	target_id      TEXT    NOT NULL DEFAULT '',
	reason_code    TEXT    NOT NULL DEFAULT '',
	message        TEXT    NOT NULL DEFAULT '',
	scores         TEXT    NOT NULL DEFAULT '',
	candidates     INTEGER NOT NULL DEFAULT 0,
	policy_version TEXT    NOT NULL DEFAULT '',
	policy_updated TEXT    NOT NULL DEFAULT '',
	error          TEXT    NOT NULL DEFAULT '',
	duration_ms    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions (ts);
CREATE INDEX IF NOT EXISTS idx_decisions_outcome ON decisions (outcome, ts);
`

// SQLiteStore implements journal.Store on a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the journal database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal database path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer; SQLite serializes anyway.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append inserts records in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, records ...journal.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO decisions (
	cycle_id, ts, outcome, kind, target_id, reason_code, message,
	scores, candidates, policy_version, policy_updated, error, duration_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		scores, err := encodeJSON(len(r.Scores), r.Scores)
		if err != nil {
			return fmt.Errorf("encode scores: %w", err)
		}
		updated, err := encodeJSON(len(r.PolicyUpdated), r.PolicyUpdated)
		if err != nil {
			return fmt.Errorf("encode policy_updated: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.CycleID,
			r.Timestamp.UTC().UnixMilli(),
			string(r.Outcome),
			string(r.Kind),
			r.TargetID,
			r.ReasonCode,
			r.Message,
			scores,
			r.Candidates,
			r.PolicyVersion,
			updated,
			r.Error,
			r.DurationMS,
		); err != nil {
			return fmt.Errorf("insert record %s: %w", r.CycleID, err)
		}
	}
	return tx.Commit()
}

// Flush is a no-op; every Append commits.
func (s *SQLiteStore) Flush(context.Context) error { return nil }

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Query returns matching records, newest first.
func (s *SQLiteStore) Query(ctx context.Context, f journal.Filter) ([]journal.Record, error) {
	var (
		where []string
		args  []any
	)
	if !f.StartTime.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.StartTime.UTC().UnixMilli())
	}
	if !f.EndTime.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, f.EndTime.UTC().UnixMilli())
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(f.Outcome))
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}

	q := `SELECT cycle_id, ts, outcome, kind, target_id, reason_code, message,
	scores, candidates, policy_version, policy_updated, error, duration_ms
FROM decisions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts DESC, id DESC LIMIT ?"
	args = append(args, f.NormalizedLimit())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []journal.Record
	for rows.Next() {
		var (
			r               journal.Record
			ts              int64
			outcome, kind   string
			scores, updated string
		)
		if err := rows.Scan(&r.CycleID, &ts, &outcome, &kind, &r.TargetID, &r.ReasonCode, &r.Message,
			&scores, &r.Candidates, &r.PolicyVersion, &updated, &r.Error, &r.DurationMS); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		r.Timestamp = time.UnixMilli(ts).UTC()
		r.Outcome = journal.Outcome(outcome)
		r.Kind = action.Kind(kind)
		if scores != "" {
			if err := json.Unmarshal([]byte(scores), &r.Scores); err != nil {
				return nil, fmt.Errorf("decode scores of %s: %w", r.CycleID, err)
			}
		}
		if updated != "" {
			if err := json.Unmarshal([]byte(updated), &r.PolicyUpdated); err != nil {
				return nil, fmt.Errorf("decode policy_updated of %s: %w", r.CycleID, err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return out, nil
}

// CountByOutcome returns how many cycles ended with each outcome.
func (s *SQLiteStore) CountByOutcome(ctx context.Context) (map[journal.Outcome]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM decisions GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("count decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[journal.Outcome]int)
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[journal.Outcome(outcome)] = n
	}
	return out, rows.Err()
}

// encodeJSON returns "" when n is zero.
func encodeJSON(n int, v any) (string, error) {
	if n == 0 {
		return "", nil
	}
	data, err := json.Marshal(v)
	return string(data), err
}

// Compile-time interface verification.
var (
	_ journal.Store      = (*SQLiteStore)(nil)
	_ journal.QueryStore = (*SQLiteStore)(nil)
)

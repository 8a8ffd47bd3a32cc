package audit

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder stores entries in a local SQLite database.
type SQLiteRecorder struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *rand.Rand
}

// NewSQLiteRecorder opens or creates the database at dbPath.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("audit: create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("audit: open db: %w", err)
	}
	r := &SQLiteRecorder{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return r, nil
}

func (r *SQLiteRecorder) newID(t time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), r.entropy).String()
}

func (r *SQLiteRecorder) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dispatches (
		id          TEXT PRIMARY KEY,
		dispatch_id TEXT NOT NULL,
		at          INTEGER NOT NULL, -- unix nanoseconds
		event       TEXT NOT NULL,
		tool_name   TEXT NOT NULL,
		session_id  TEXT,
		verdict     TEXT NOT NULL,
		reason      TEXT,
		has_fault   INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_dispatches_at ON dispatches(at DESC);
	CREATE INDEX IF NOT EXISTS idx_dispatches_fault ON dispatches(has_fault);

	CREATE TABLE IF NOT EXISTS hook_runs (
		dispatch_id TEXT NOT NULL REFERENCES dispatches(id),
		seq         INTEGER NOT NULL,
		hook        TEXT NOT NULL,
		category    TEXT NOT NULL,
		kind        TEXT NOT NULL,
		verdict     TEXT NOT NULL,
		reason      TEXT,
		fault       TEXT,
		duration_ms INTEGER NOT NULL,
		PRIMARY KEY (dispatch_id, seq)
	);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Record implements Recorder.
func (r *SQLiteRecorder) Record(ctx context.Context, e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.ID == "" {
		e.ID = r.newID(e.Time)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("audit: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO dispatches (id, dispatch_id, at, event, tool_name, session_id, verdict, reason, has_fault)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DispatchID, e.Time.UnixNano(), e.Event, e.ToolName,
		nullIfEmpty(e.SessionID), e.Verdict, nullIfEmpty(e.Reason), boolInt(e.HasFault()))
	if err != nil {
		return fmt.Errorf("audit: insert dispatch: %w", err)
	}
	for i, h := range e.Hooks {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO hook_runs (dispatch_id, seq, hook, category, kind, verdict, reason, fault, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, i, h.Hook, h.Category, h.Kind, h.Verdict, nullIfEmpty(h.Reason), nullIfEmpty(h.Fault), h.DurationMS)
		if err != nil {
			return fmt.Errorf("audit: insert hook run: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("audit: commit: %w", err)
	}
	return nil
}

// Tail returns the n most recent entries, newest first. With faultsOnly set
// only dispatches in which a hook faulted are returned.
func (r *SQLiteRecorder) Tail(ctx context.Context, n int, faultsOnly bool) ([]Entry, error) {
	if n <= 0 {
		n = 20
	}
	query := `SELECT id, dispatch_id, at, event, tool_name, session_id, verdict, reason
		FROM dispatches`
	if faultsOnly {
		query += ` WHERE has_fault = 1`
	}
	query += ` ORDER BY at DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e               Entry
			at              int64
			session, reason sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.DispatchID, &at, &e.Event, &e.ToolName, &session, &e.Verdict, &reason); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Time = time.Unix(0, at).UTC()
		e.SessionID = session.String
		e.Reason = reason.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}

	for i := range out {
		hooks, err := r.hooksFor(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Hooks = hooks
	}
	return out, nil
}

func (r *SQLiteRecorder) hooksFor(ctx context.Context, id string) ([]HookRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT hook, category, kind, verdict, reason, fault, duration_ms
		 FROM hook_runs WHERE dispatch_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("audit: query hook runs: %w", err)
	}
	defer rows.Close()

	var out []HookRecord
	for rows.Next() {
		var (
			h             HookRecord
			reason, fault sql.NullString
		)
		if err := rows.Scan(&h.Hook, &h.Category, &h.Kind, &h.Verdict, &reason, &fault, &h.DurationMS); err != nil {
			return nil, fmt.Errorf("audit: scan hook run: %w", err)
		}
		h.Reason = reason.String
		h.Fault = fault.String
		out = append(out, h)
	}
	return out, rows.Err()
}

// Close closes the database.
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

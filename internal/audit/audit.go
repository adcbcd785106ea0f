// ABOUTME: SQLite-backed audit log for tool invocations and REST mutations
// ABOUTME: Records who performed which action, with automatic schema creation

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one recorded action.
type Entry struct {
	ID        string    `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	Failed    bool      `json:"failed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Filter narrows a List call. Zero values mean "no constraint".
type Filter struct {
	Actor  string
	Action string
	Since  *time.Time
	Limit  int // default 100, capped at 1000
}

// Log persists audit entries to SQLite. A nil *Log is valid and drops
// every write, so callers never need to branch on whether auditing is
// configured.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the audit database at path. An empty path
// returns a nil log, which discards all entries.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if path == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "audit")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id TEXT PRIMARY KEY,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			target TEXT NOT NULL DEFAULT '',
			failed INTEGER NOT NULL DEFAULT 0,
			ts TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts);
		CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	logger.Info("audit log initialized", "path", path)
	return &Log{db: db, logger: logger}, nil
}

// Append records an entry. ID and Timestamp are generated when unset.
func (l *Log) Append(ctx context.Context, e Entry) error {
	if l == nil {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	failed := 0
	if e.Failed {
		failed = 1
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO audit_log (audit_id, actor, action, target, failed, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Actor, e.Action, e.Target, failed, e.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	l.logger.Debug("appended audit entry", "actor", e.Actor, "action", e.Action, "target", e.Target)
	return nil
}

// RecordTool logs a tool invocation. Failures are logged, never surfaced:
// a broken audit database must not take the protocol surface down with it.
func (l *Log) RecordTool(actor, tool string, isError bool) {
	if l == nil {
		return
	}
	err := l.Append(context.Background(), Entry{
		Actor:  actor,
		Action: "tools/call",
		Target: tool,
		Failed: isError,
	})
	if err != nil {
		l.logger.Warn("failed to record tool invocation", "error", err)
	}
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// List returns entries matching the filter, newest first.
func (l *Log) List(ctx context.Context, f Filter) ([]Entry, error) {
	if l == nil {
		return []Entry{}, nil
	}

	var sinceStr *string
	if f.Since != nil {
		s := f.Since.UTC().Format(time.RFC3339Nano)
		sinceStr = &s
	}
	var actor, action *string
	if f.Actor != "" {
		actor = &f.Actor
	}
	if f.Action != "" {
		action = &f.Action
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT audit_id, actor, action, target, failed, ts
		FROM audit_log
		WHERE (? IS NULL OR actor = ?)
		  AND (? IS NULL OR action = ?)
		  AND (? IS NULL OR ts >= ?)
		ORDER BY ts DESC
		LIMIT ?`,
		actor, actor,
		action, action,
		sinceStr, sinceStr,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var failed int
		var tsStr string
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Target, &failed, &tsStr); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Failed = failed != 0
		e.Timestamp, err = time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			return nil, fmt.Errorf("parsing audit timestamp: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}

// Close releases the database handle.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}

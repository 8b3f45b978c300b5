// Package journal records one row per dispatched API call in SQLite.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/keybridge/internal/storage"
)

// MaxErrorBytes caps the stored error text of a single call.
const MaxErrorBytes = 64 * 1024

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Call statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Entry is one journaled call.
type Entry struct {
	ID        string        `json:"id"`
	API       string        `json:"api"`
	Method    string        `json:"method"`
	Status    string        `json:"status"`
	Kind      string        `json:"kind,omitempty"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Filter narrows List results. Zero values mean no constraint.
type Filter struct {
	API   string
	Limit int
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens the journal database at path, bootstrapping its schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return NewStore(db), nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts e, assigning an ID and timestamp when missing.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.API == "" || e.Method == "" {
		return fmt.Errorf("journal entry needs api and method")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Status == "" {
		e.Status = StatusOK
	}
	if len(e.Error) > MaxErrorBytes {
		e.Error = e.Error[:MaxErrorBytes]
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO call_log(id, api, method, status, kind, exit_code, duration_ms, error, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, e.ID, e.API, e.Method, e.Status, nullIfEmpty(e.Kind), e.ExitCode, e.Duration.Milliseconds(),
		nullIfEmpty(e.Error), e.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert call_log: %w", err)
	}
	return nil
}

// List returns entries newest-first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	query := `SELECT id, api, method, status, kind, exit_code, duration_ms, error, created_at FROM call_log`
	var args []any
	if f.API != "" {
		query += ` WHERE api = ?`
		args = append(args, f.API)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query call_log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			kind, msg  sql.NullString
			durationMS int64
			createdAt  string
		)
		if err := rows.Scan(&e.ID, &e.API, &e.Method, &e.Status, &kind, &e.ExitCode, &durationMS, &msg, &createdAt); err != nil {
			return nil, fmt.Errorf("scan call_log: %w", err)
		}
		e.Kind = kind.String
		e.Error = msg.String
		e.Duration = time.Duration(durationMS) * time.Millisecond
		if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call_log: %w", err)
	}
	return out, nil
}

// Prune deletes entries older than retention and reports how many were removed.
// A non-positive retention keeps everything.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention).UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `DELETE FROM call_log WHERE created_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune call_log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune call_log: %w", err)
	}
	return n, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

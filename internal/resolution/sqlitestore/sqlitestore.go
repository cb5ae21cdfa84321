// Package sqlitestore provides a single-node SQLite implementation of
// resolution.Store. Each run is kept as its JSON document next to the
// columns used for lookup and ordering.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/linnemanlabs/settle/internal/resolution"
)

// DefaultDSN is used when New is given an empty path.
const DefaultDSN = "file:settle.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// Store persists runs in a SQLite database file.
type Store struct {
	db *sql.DB
}

// New opens the database at dsn and creates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = DefaultDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS resolve_runs (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_resolve_runs_started ON resolve_runs(started_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Put inserts or replaces a run.
func (s *Store) Put(ctx context.Context, r *resolution.Run) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO resolve_runs (id, mode, status, started_at, doc) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET mode = excluded.mode, status = excluded.status,
			started_at = excluded.started_at, doc = excluded.doc`,
		r.ID, string(r.Mode), string(r.Status), sortableTime(r.StartedAt), string(doc),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// Get retrieves a run by ID.
func (s *Store) Get(ctx context.Context, id string) (*resolution.Run, bool, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM resolve_runs WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select run: %w", err)
	}
	r, err := decode(doc)
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

// List returns the most recent runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*resolution.Run, error) {
	if limit <= 0 {
		limit = resolution.DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM resolve_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	out := []*resolution.Run{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func decode(doc string) (*resolution.Run, error) {
	var r resolution.Run
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &r, nil
}

// sortableTime formats t so lexical order matches chronological order.
func sortableTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

// Package pgstore provides a PostgreSQL implementation of resolution.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/settle/internal/resolution"
)

var tracer = otel.Tracer("github.com/linnemanlabs/settle/internal/resolution/pgstore")

//go:embed schema.sql
var schema string

// Store persists resolve runs in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on an existing pool and returns a ready Store.
// The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const runColumns = `id, mode, status, lookback_hours, started_at, completed_at, duration_s,
	total_tickets, firing_alerts, resolved_alerts, matched_pairs, auto_close_pairs,
	manual_review_pairs, closed_pairs, notified, error, generated_at,
	auto_close, manual_review, closed, failed_closures`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Put inserts or replaces a run.
func (s *Store) Put(ctx context.Context, r *resolution.Run) error {
	ctx, span := startSpan(ctx, "pgstore.Put", "UPSERT")
	defer span.End()

	pairs, err := marshalPairs(r)
	if err != nil {
		fail(span, err)
		return err
	}

	var completedAt, generatedAt *time.Time
	if !r.CompletedAt.IsZero() {
		completedAt = &r.CompletedAt
	}
	if !r.Summary.GeneratedAt.IsZero() {
		generatedAt = &r.Summary.GeneratedAt
	}

	query := `INSERT INTO resolve_runs (` + runColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	ON CONFLICT (id) DO UPDATE SET
		mode                = EXCLUDED.mode,
		status              = EXCLUDED.status,
		lookback_hours      = EXCLUDED.lookback_hours,
		started_at          = EXCLUDED.started_at,
		completed_at        = EXCLUDED.completed_at,
		duration_s          = EXCLUDED.duration_s,
		total_tickets       = EXCLUDED.total_tickets,
		firing_alerts       = EXCLUDED.firing_alerts,
		resolved_alerts     = EXCLUDED.resolved_alerts,
		matched_pairs       = EXCLUDED.matched_pairs,
		auto_close_pairs    = EXCLUDED.auto_close_pairs,
		manual_review_pairs = EXCLUDED.manual_review_pairs,
		closed_pairs        = EXCLUDED.closed_pairs,
		notified            = EXCLUDED.notified,
		error               = EXCLUDED.error,
		generated_at        = EXCLUDED.generated_at,
		auto_close          = EXCLUDED.auto_close,
		manual_review       = EXCLUDED.manual_review,
		closed              = EXCLUDED.closed,
		failed_closures     = EXCLUDED.failed_closures`

	sm := &r.Summary
	_, err = s.pool.Exec(ctx, query,
		r.ID, string(r.Mode), string(r.Status), r.LookbackHours, r.StartedAt, completedAt, r.Duration,
		sm.Total, sm.FiringCount, sm.ResolvedCount, sm.MatchedCount, sm.AutoCloseCount,
		sm.ManualReviewCount, sm.ClosedCount, sm.Notified, sm.Error, generatedAt,
		pairs[0], pairs[1], pairs[2], pairs[3],
	)
	if err != nil {
		err = fmt.Errorf("upsert run: %w", err)
		fail(span, err)
		return err
	}
	return nil
}

// Get retrieves a run by ID.
func (s *Store) Get(ctx context.Context, id string) (*resolution.Run, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	r, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM resolve_runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		fail(span, err)
		return nil, false, err
	}
	return r, true, nil
}

// List returns the most recent runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*resolution.Run, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	if limit <= 0 {
		limit = resolution.DefaultListLimit
	}
	span.SetAttributes(attribute.Int("db.limit", limit))

	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM resolve_runs ORDER BY started_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		err = fmt.Errorf("query runs: %w", err)
		fail(span, err)
		return nil, err
	}
	defer rows.Close()

	out := []*resolution.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			fail(span, err)
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		err = fmt.Errorf("iterate runs: %w", err)
		fail(span, err)
		return nil, err
	}
	return out, nil
}

func marshalPairs(r *resolution.Run) ([4][]byte, error) {
	var out [4][]byte
	for i, pv := range [][]resolution.PairView{r.AutoClose, r.ManualReview, r.Closed, r.FailedClosures} {
		if pv == nil {
			pv = []resolution.PairView{}
		}
		b, err := json.Marshal(pv)
		if err != nil {
			return out, fmt.Errorf("marshal pairs: %w", err)
		}
		out[i] = b
	}
	return out, nil
}

// scanRun scans one row. pgx.ErrNoRows is returned unwrapped.
func scanRun(row pgx.Row) (*resolution.Run, error) {
	var (
		r           resolution.Run
		mode        string
		status      string
		completedAt *time.Time
		generatedAt *time.Time
		pairs       [4][]byte
	)
	sm := &r.Summary
	err := row.Scan(
		&r.ID, &mode, &status, &r.LookbackHours, &r.StartedAt, &completedAt, &r.Duration,
		&sm.Total, &sm.FiringCount, &sm.ResolvedCount, &sm.MatchedCount, &sm.AutoCloseCount,
		&sm.ManualReviewCount, &sm.ClosedCount, &sm.Notified, &sm.Error, &generatedAt,
		&pairs[0], &pairs[1], &pairs[2], &pairs[3],
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	r.Mode = resolution.Mode(mode)
	r.Status = resolution.Status(status)
	if completedAt != nil {
		r.CompletedAt = completedAt.UTC()
	}
	if generatedAt != nil {
		sm.GeneratedAt = generatedAt.UTC()
	}
	r.StartedAt = r.StartedAt.UTC()

	for i, dst := range []*[]resolution.PairView{&r.AutoClose, &r.ManualReview, &r.Closed, &r.FailedClosures} {
		if err := json.Unmarshal(pairs[i], dst); err != nil {
			return nil, fmt.Errorf("unmarshal pairs: %w", err)
		}
	}
	return &r, nil
}

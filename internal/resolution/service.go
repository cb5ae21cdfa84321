package resolution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/settle/internal/alert"
	"github.com/linnemanlabs/settle/internal/correlate"
)

const (
	// DefaultLookbackHours is the window used when a caller passes no hours.
	DefaultLookbackHours = 24

	// MaxLookbackHours caps the window to 30 days.
	MaxLookbackHours = 720
)

var (
	errNoSource = errors.New("no ticket source configured")
	errNoCloser = errors.New("no ticket closer configured")
)

// Config holds service-level settings. Zero timeouts mean no per-call deadline.
type Config struct {
	LookbackHours  int
	FetchTimeout   time.Duration
	CloseTimeout   time.Duration
	NotifyTimeout  time.Duration
	PublishTimeout time.Duration
}

// Deps are the collaborators a Service drives. Any of them may be nil:
// a missing Source or Closer degrades the run, a missing Notifier or
// Publisher skips that stage, a missing Store skips persistence.
type Deps struct {
	Source    TicketSource
	Closer    TicketCloser
	Notifier  Notifier
	Publisher Publisher
	Store     Store
}

// Hooks are optional callbacks fired at each stage of a run.
type Hooks struct {
	OnFetch    func(n int)
	OnClose    func(outcome string)
	OnNotify   func(outcome string)
	OnPublish  func(outcome string)
	OnComplete func(run *Run)
}

// Service is the business boundary for resolve runs.
type Service struct {
	cfg    Config
	engine *correlate.Engine
	deps   Deps
	logger log.Logger
	hooks  Hooks
	now    func() time.Time
}

// NewService creates a new resolution service.
func NewService(cfg Config, engine *correlate.Engine, deps Deps, logger log.Logger, hooks Hooks) *Service {
	if cfg.LookbackHours <= 0 {
		cfg.LookbackHours = DefaultLookbackHours
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		cfg:    cfg,
		engine: engine,
		deps:   deps,
		logger: logger,
		hooks:  hooks,
		now:    time.Now,
	}
}

// Preview runs fetch, classify and pair for the last hours hours and
// reports what a resolve would do. Nothing is closed, sent or stored.
func (s *Service) Preview(ctx context.Context, hours int) *Run {
	return s.execute(ctx, ModePreview, hours)
}

// Resolve runs the full pipeline. It never fails; stage errors are logged,
// joined into Summary.Error and mark the run degraded.
func (s *Service) Resolve(ctx context.Context, hours int) *Run {
	return s.execute(ctx, ModeResolve, hours)
}

// Get retrieves a stored run by ID.
func (s *Service) Get(ctx context.Context, id string) (*Run, bool, error) {
	if s.deps.Store == nil {
		return nil, false, nil
	}
	return s.deps.Store.Get(ctx, id)
}

// List returns recent stored runs, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]*Run, error) {
	if s.deps.Store == nil {
		return []*Run{}, nil
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.deps.Store.List(ctx, limit)
}

func (s *Service) lookback(hours int) int {
	switch {
	case hours <= 0:
		return s.cfg.LookbackHours
	case hours > MaxLookbackHours:
		return MaxLookbackHours
	default:
		return hours
	}
}

func (s *Service) execute(ctx context.Context, mode Mode, hours int) *Run {
	start := s.now().UTC()
	run := &Run{
		ID:             ulid.Make().String(),
		Mode:           mode,
		LookbackHours:  s.lookback(hours),
		StartedAt:      start,
		Closed:         []PairView{},
		FailedClosures: []PairView{},
	}
	L := s.logger.With("run_id", run.ID, "mode", mode)
	L.Info(ctx, "run started", "lookback_hours", run.LookbackHours)

	var errs []error

	tickets, err := s.fetch(ctx, start.Add(-time.Duration(run.LookbackHours)*time.Hour))
	if err != nil {
		L.Error(ctx, err, "fetch tickets failed")
		errs = append(errs, fmt.Errorf("fetch tickets: %w", err))
	}
	if s.hooks.OnFetch != nil {
		s.hooks.OnFetch(len(tickets))
	}

	sets := alert.Categorize(tickets)
	part := s.engine.Pair(ctx, sets.Firing, sets.Resolved)
	run.AutoClose = PairViews(part.AutoClose)
	run.ManualReview = PairViews(part.ManualReview)

	var closed []correlate.Pair
	notified := false
	if mode == ModeResolve {
		var failed []correlate.Pair
		closed, failed, err = s.closePairs(ctx, L, part.AutoClose)
		if err != nil {
			errs = append(errs, err)
		}
		run.Closed = PairViews(closed)
		run.FailedClosures = PairViews(failed)

		if len(part.ManualReview) > 0 {
			notified, err = s.notify(ctx, L, NewReport(run.ID, s.engine.Threshold(), run.ManualReview, start))
			if err != nil {
				errs = append(errs, fmt.Errorf("notify: %w", err))
			}
		}
	}

	run.CompletedAt = s.now().UTC()
	run.Duration = run.CompletedAt.Sub(start).Seconds()
	run.Summary = correlate.Summarize(len(tickets), sets, part, closed, run.CompletedAt)
	run.Summary.Notified = notified

	if mode == ModeResolve {
		if err := s.persist(ctx, run, errs); err != nil {
			L.Error(ctx, err, "persist run failed")
			errs = append(errs, fmt.Errorf("persist run: %w", err))
		}
	}
	finish(run, errs)

	if mode == ModeResolve {
		s.publish(ctx, L, run)
	}

	if s.hooks.OnComplete != nil {
		s.hooks.OnComplete(run)
	}

	L.Info(ctx, "run complete",
		"status", run.Status,
		"duration", run.Duration,
		"total_tickets", run.Summary.Total,
		"firing", run.Summary.FiringCount,
		"resolved", run.Summary.ResolvedCount,
		"matched", run.Summary.MatchedCount,
		"closed", run.Summary.ClosedCount,
		"manual_review", run.Summary.ManualReviewCount,
		"notified", run.Summary.Notified,
	)
	return run
}

// finish sets status and error text from the collected stage errors.
func finish(run *Run, errs []error) {
	if len(errs) == 0 {
		run.Status = StatusComplete
		run.Summary.Error = ""
		return
	}
	run.Status = StatusDegraded
	run.Summary.Error = errors.Join(errs...).Error()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (s *Service) fetch(ctx context.Context, since time.Time) ([]alert.Ticket, error) {
	if s.deps.Source == nil {
		return nil, errNoSource
	}
	cctx, cancel := withTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()
	tickets, err := s.deps.Source.FetchTickets(cctx, since)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// closePairs closes both tickets of every pair. A pair counts as closed
// only when both sides closed. Tickets closed earlier in the same run are
// not closed again.
func (s *Service) closePairs(ctx context.Context, L log.Logger, pairs []correlate.Pair) (closed, failed []correlate.Pair, err error) {
	if len(pairs) == 0 {
		return nil, nil, nil
	}
	if s.deps.Closer == nil {
		L.Warn(ctx, "auto-close pairs found but no ticket closer configured", "pairs", len(pairs))
		return nil, pairs, errNoCloser
	}

	done := make(map[int64]bool, len(pairs)*2)
	threshold := s.engine.Threshold()
	for i := range pairs {
		p := &pairs[i]
		fOK := s.closeTicket(ctx, L, done, p.Firing.ID, ClosureNote(p.Resolved.ID, threshold))
		rOK := s.closeTicket(ctx, L, done, p.Resolved.ID, ClosureNote(p.Firing.ID, threshold))
		if fOK && rOK {
			closed = append(closed, *p)
			L.Info(ctx, "closed alert pair", "firing_id", p.Firing.ID, "resolved_id", p.Resolved.ID, "rule", p.Rule)
			continue
		}
		failed = append(failed, *p)
		L.Warn(ctx, "failed to close alert pair",
			"firing_id", p.Firing.ID,
			"resolved_id", p.Resolved.ID,
			"firing_closed", fOK,
			"resolved_closed", rOK,
		)
	}

	if len(failed) > 0 {
		err = fmt.Errorf("close tickets: %d of %d pairs failed", len(failed), len(pairs))
	}
	return closed, failed, err
}

func (s *Service) closeTicket(ctx context.Context, L log.Logger, done map[int64]bool, id int64, note string) bool {
	if done[id] {
		s.closeOutcome(OutcomeSkipped)
		return true
	}
	cctx, cancel := withTimeout(ctx, s.cfg.CloseTimeout)
	defer cancel()
	if err := s.deps.Closer.CloseTicket(cctx, id, note); err != nil {
		L.Error(ctx, err, "close ticket failed", "ticket_id", id)
		s.closeOutcome(OutcomeError)
		return false
	}
	done[id] = true
	s.closeOutcome(OutcomeOK)
	return true
}

func (s *Service) closeOutcome(outcome string) {
	if s.hooks.OnClose != nil {
		s.hooks.OnClose(outcome)
	}
}

func (s *Service) notify(ctx context.Context, L log.Logger, r *Report) (bool, error) {
	if s.deps.Notifier == nil {
		L.Info(ctx, "manual review pairs found but no notifier configured", "pairs", len(r.Pairs))
		if s.hooks.OnNotify != nil {
			s.hooks.OnNotify(OutcomeSkipped)
		}
		return false, nil
	}
	cctx, cancel := withTimeout(ctx, s.cfg.NotifyTimeout)
	defer cancel()
	if err := s.deps.Notifier.Notify(cctx, r); err != nil {
		L.Error(ctx, err, "manual review notification failed", "pairs", len(r.Pairs))
		if s.hooks.OnNotify != nil {
			s.hooks.OnNotify(OutcomeError)
		}
		return false, err
	}
	L.Info(ctx, "manual review notification sent", "pairs", len(r.Pairs))
	if s.hooks.OnNotify != nil {
		s.hooks.OnNotify(OutcomeOK)
	}
	return true, nil
}

// persist stores the run with status and error already applied, so the
// stored record matches what the caller receives when the write succeeds.
func (s *Service) persist(ctx context.Context, run *Run, errs []error) error {
	if s.deps.Store == nil {
		return nil
	}
	finish(run, errs)
	return s.deps.Store.Put(ctx, run)
}

// publish failures are logged and counted only; the stored run is final.
func (s *Service) publish(ctx context.Context, L log.Logger, run *Run) {
	if s.deps.Publisher == nil {
		return
	}
	cctx, cancel := withTimeout(ctx, s.cfg.PublishTimeout)
	defer cancel()
	outcome := OutcomeOK
	if err := s.deps.Publisher.Publish(cctx, run); err != nil {
		L.Error(ctx, err, "publish run event failed")
		outcome = OutcomeError
	}
	if s.hooks.OnPublish != nil {
		s.hooks.OnPublish(outcome)
	}
}

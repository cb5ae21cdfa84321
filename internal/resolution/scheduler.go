package resolution

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// Resolver runs one resolve pass. *Service satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, hours int) *Run
}

// Scheduler triggers Resolve on a fixed interval. A tick that arrives while
// the previous run is still going is skipped.
type Scheduler struct {
	resolver Resolver
	interval time.Duration
	hours    int
	logger   log.Logger

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. interval must be positive.
func NewScheduler(r Resolver, interval time.Duration, hours int, logger log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Nop()
	}
	return &Scheduler{resolver: r, interval: interval, hours: hours, logger: logger}
}

// Run blocks until ctx is cancelled, then waits for an in-flight run.
func (s *Scheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	defer s.wg.Wait()

	s.logger.Info(ctx, "resolve scheduler started", "interval", s.interval.String(), "lookback_hours", s.hours)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(context.Background(), "resolve scheduler stopped")
			return
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn(ctx, "previous resolve run still in progress, skipping tick")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		run := s.resolver.Resolve(ctx, s.hours)
		s.logger.Info(ctx, "scheduled resolve run finished", "run_id", run.ID, "status", run.Status)
	}()
}

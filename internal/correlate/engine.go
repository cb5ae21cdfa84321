// internal/correlate/engine.go
package correlate

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/settle/internal/alert"
	"github.com/linnemanlabs/settle/internal/match"
)

// DefaultAutoCloseThreshold is the largest firing-to-resolved gap that is
// closed without review.
const DefaultAutoCloseThreshold = 5 * time.Minute

// Disposition is the action decided for a matched pair.
type Disposition string

const (
	// AutoClose pairs resolved within the threshold and are closed remotely.
	AutoClose Disposition = "auto_close"

	// ManualReview pairs took longer and are reported to a human.
	ManualReview Disposition = "manual_review"
)

// Ticket sides reported to Hooks.OnSkip.
const (
	SideFiring   = "firing"
	SideResolved = "resolved"
)

// Pair is one firing ticket matched with one resolved ticket.
type Pair struct {
	Firing       alert.Ticket
	Resolved     alert.Ticket
	TimeDelta    time.Duration // resolved.created - firing.created, may be negative
	AbsTimeDelta time.Duration
	Rule         string
	Disposition  Disposition
}

// Minutes returns the absolute time delta in minutes.
func (p *Pair) Minutes() float64 {
	return p.AbsTimeDelta.Minutes()
}

// Partition splits matched pairs by disposition.
type Partition struct {
	AutoClose    []Pair
	ManualReview []Pair
	Skipped      int
}

// Matched returns the number of pairs in both dispositions.
func (p *Partition) Matched() int {
	return len(p.AutoClose) + len(p.ManualReview)
}

// Config controls pairing.
type Config struct {
	// AutoCloseThreshold is inclusive. Zero means DefaultAutoCloseThreshold.
	AutoCloseThreshold time.Duration

	// Workers bounds the goroutines used to scan firing tickets. Values
	// below 2 pair sequentially.
	Workers int
}

// Hooks are optional callbacks invoked during pairing. They may be called
// from several goroutines at once when Workers > 1.
type Hooks struct {
	OnMatch func(rule string, d Disposition)
	OnSkip  func(side string)
}

// Engine pairs firing and resolved tickets. It is safe for concurrent use.
type Engine struct {
	cfg    Config
	logger log.Logger
	hooks  Hooks
}

// NewEngine creates an engine. A nil logger discards output.
func NewEngine(cfg Config, logger log.Logger, hooks Hooks) *Engine {
	if cfg.AutoCloseThreshold <= 0 {
		cfg.AutoCloseThreshold = DefaultAutoCloseThreshold
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{cfg: cfg, logger: logger, hooks: hooks}
}

// Threshold returns the effective auto-close threshold.
func (e *Engine) Threshold() time.Duration {
	return e.cfg.AutoCloseThreshold
}

// candidate is a ticket that passed validation, with its parsed creation time.
type candidate struct {
	ticket  alert.Ticket
	created time.Time
}

// Pair matches every firing ticket against every resolved ticket. A firing
// ticket may appear in several pairs; no deduplication is done. Tickets
// with a zero ID, an empty normalized subject or an unparsable creation
// time are skipped and counted.
func (e *Engine) Pair(ctx context.Context, firing, resolved []alert.Ticket) Partition {
	var part Partition

	fc := e.candidates(ctx, SideFiring, firing, &part.Skipped)
	rc := e.candidates(ctx, SideResolved, resolved, &part.Skipped)
	if len(fc) == 0 || len(rc) == 0 {
		return part
	}

	// one slot per firing ticket keeps output in input order
	slots := make([][]Pair, len(fc))
	if e.cfg.Workers < 2 {
		for i := range fc {
			slots[i] = e.scan(&fc[i], rc)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(e.cfg.Workers)
		for i := range fc {
			g.Go(func() error {
				slots[i] = e.scan(&fc[i], rc)
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, pairs := range slots {
		for i := range pairs {
			switch pairs[i].Disposition {
			case AutoClose:
				part.AutoClose = append(part.AutoClose, pairs[i])
			default:
				part.ManualReview = append(part.ManualReview, pairs[i])
			}
		}
	}

	e.logger.Info(ctx, "pairing complete",
		"firing", len(fc),
		"resolved", len(rc),
		"auto_close", len(part.AutoClose),
		"manual_review", len(part.ManualReview),
		"skipped", part.Skipped,
	)

	return part
}

func (e *Engine) candidates(ctx context.Context, side string, tickets []alert.Ticket, skipped *int) []candidate {
	out := make([]candidate, 0, len(tickets))
	for i := range tickets {
		t := &tickets[i]
		reason := ""
		var created time.Time
		switch {
		case t.ID == 0:
			reason = "missing id"
		case t.Normalized == "":
			reason = "empty normalized subject"
		default:
			var err error
			if created, err = t.Created(); err != nil {
				reason = "unparsable created_at"
			}
		}
		if reason != "" {
			*skipped++
			e.logger.Warn(ctx, "skipping ticket",
				"side", side,
				"ticket_id", t.ID,
				"created_at", t.CreatedAt,
				"reason", reason,
			)
			if e.hooks.OnSkip != nil {
				e.hooks.OnSkip(side)
			}
			continue
		}
		out = append(out, candidate{ticket: *t, created: created})
	}
	return out
}

func (e *Engine) scan(f *candidate, resolved []candidate) []Pair {
	var out []Pair
	for j := range resolved {
		r := &resolved[j]
		rule, ok := match.Match(f.ticket.Normalized, r.ticket.Normalized)
		if !ok {
			continue
		}
		delta := r.created.Sub(f.created)
		abs := delta
		if abs < 0 {
			abs = -abs
		}
		d := ManualReview
		if abs <= e.cfg.AutoCloseThreshold {
			d = AutoClose
		}
		if e.hooks.OnMatch != nil {
			e.hooks.OnMatch(rule, d)
		}
		out = append(out, Pair{
			Firing:       f.ticket,
			Resolved:     r.ticket,
			TimeDelta:    delta,
			AbsTimeDelta: abs,
			Rule:         rule,
			Disposition:  d,
		})
	}
	return out
}

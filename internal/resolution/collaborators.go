package resolution

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/settle/internal/alert"
)

// TicketSource fetches helpdesk tickets updated since a point in time.
type TicketSource interface {
	FetchTickets(ctx context.Context, since time.Time) ([]alert.Ticket, error)
}

// TicketCloser closes a ticket remotely and attaches a note to it.
type TicketCloser interface {
	CloseTicket(ctx context.Context, id int64, note string) error
}

// Notifier delivers a manual review report.
type Notifier interface {
	Notify(ctx context.Context, r *Report) error
}

// Publisher emits a completed run to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, run *Run) error
}

// Report lists the pairs a human has to look at.
type Report struct {
	RunID       string
	Subject     string
	Threshold   time.Duration
	Pairs       []PairView
	GeneratedAt time.Time
}

// NewReport builds the manual review report for a run.
func NewReport(runID string, threshold time.Duration, pairs []PairView, at time.Time) *Report {
	return &Report{
		RunID:       runID,
		Subject:     fmt.Sprintf("Alert Resolution: %d Ticket Pairs Need Manual Review", len(pairs)),
		Threshold:   threshold,
		Pairs:       pairs,
		GeneratedAt: at,
	}
}

// ThresholdText renders a threshold the way it appears in notes and
// reports, e.g. "5 minutes" or "90s".
func ThresholdText(d time.Duration) string {
	switch {
	case d == time.Minute:
		return "1 minute"
	case d > 0 && d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int64(d/time.Minute))
	default:
		return d.String()
	}
}

// ClosureNote is attached to a ticket closed as part of a pair.
func ClosureNote(otherID int64, threshold time.Duration) string {
	return fmt.Sprintf("Auto-closed by alert resolution. Matched with ticket #%d as an alert-resolution pair that resolved within %s.",
		otherID, ThresholdText(threshold))
}

package resolution

import (
	"slices"
	"time"

	"github.com/linnemanlabs/settle/internal/correlate"
)

// Mode says whether a run may act on tickets.
type Mode string

const (
	// ModePreview computes pairs and counts without side effects.
	ModePreview Mode = "preview"

	// ModeResolve closes, notifies, persists and publishes.
	ModeResolve Mode = "resolve"
)

// Status is the final state of a run.
type Status string

const (
	// StatusComplete means every stage succeeded
	StatusComplete Status = "complete"

	// StatusDegraded means at least one stage failed and was skipped over
	StatusDegraded Status = "degraded"
)

// PairView is the reporting form of a matched pair.
type PairView struct {
	FiringID           int64   `json:"firing_id"`
	FiringSubject      string  `json:"firing_subject"`
	FiringCreated      string  `json:"firing_created"`
	ResolvedID         int64   `json:"resolved_id"`
	ResolvedSubject    string  `json:"resolved_subject"`
	ResolvedCreated    string  `json:"resolved_created"`
	TimeDiffMinutes    float64 `json:"time_diff_minutes"`
	AbsTimeDiffMinutes float64 `json:"abs_time_diff_minutes"`
	Rule               string  `json:"rule"`
	Disposition        string  `json:"disposition"`
}

// NewPairView converts a pair, keeping the raw subjects and timestamps.
func NewPairView(p *correlate.Pair) PairView {
	return PairView{
		FiringID:           p.Firing.ID,
		FiringSubject:      p.Firing.Subject,
		FiringCreated:      p.Firing.CreatedAt,
		ResolvedID:         p.Resolved.ID,
		ResolvedSubject:    p.Resolved.Subject,
		ResolvedCreated:    p.Resolved.CreatedAt,
		TimeDiffMinutes:    p.TimeDelta.Minutes(),
		AbsTimeDiffMinutes: p.AbsTimeDelta.Minutes(),
		Rule:               p.Rule,
		Disposition:        string(p.Disposition),
	}
}

// PairViews converts a slice of pairs. A nil or empty input yields an empty
// non-nil slice so JSON renders [] rather than null.
func PairViews(pairs []correlate.Pair) []PairView {
	out := make([]PairView, 0, len(pairs))
	for i := range pairs {
		out = append(out, NewPairView(&pairs[i]))
	}
	return out
}

// Run is the record of one pipeline execution.
type Run struct {
	ID             string            `json:"id"`
	Mode           Mode              `json:"mode"`
	Status         Status            `json:"status"`
	LookbackHours  int               `json:"lookback_hours"`
	StartedAt      time.Time         `json:"started_at"`
	CompletedAt    time.Time         `json:"completed_at"`
	Duration       float64           `json:"duration_seconds"`
	Summary        correlate.Summary `json:"summary"`
	AutoClose      []PairView        `json:"pairs_for_auto_close"`
	ManualReview   []PairView        `json:"pairs_for_manual_review"`
	Closed         []PairView        `json:"pairs_closed"`
	FailedClosures []PairView        `json:"pairs_failed"`
}

// Clone returns a copy that shares no slices with r.
func (r *Run) Clone() *Run {
	cp := *r
	cp.AutoClose = slices.Clone(r.AutoClose)
	cp.ManualReview = slices.Clone(r.ManualReview)
	cp.Closed = slices.Clone(r.Closed)
	cp.FailedClosures = slices.Clone(r.FailedClosures)
	return &cp
}

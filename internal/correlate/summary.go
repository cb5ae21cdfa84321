package correlate

import (
	"time"

	"github.com/linnemanlabs/settle/internal/alert"
)

// Summary is the count-level outcome of one correlation run.
type Summary struct {
	Total             int       `json:"total_tickets"`
	FiringCount       int       `json:"firing_alerts"`
	ResolvedCount     int       `json:"resolved_alerts"`
	MatchedCount      int       `json:"matched_pairs"`
	AutoCloseCount    int       `json:"auto_close_pairs"`
	ManualReviewCount int       `json:"manual_review_pairs"`
	ClosedCount       int       `json:"closed_pairs"`
	Notified          bool      `json:"notified"`
	Error             string    `json:"error,omitempty"`
	GeneratedAt       time.Time `json:"generated_at"`
}

// Summarize counts a run. Notified and Error are left for the caller.
func Summarize(total int, sets alert.Sets, p Partition, closed []Pair, at time.Time) Summary {
	return Summary{
		Total:             total,
		FiringCount:       len(sets.Firing),
		ResolvedCount:     len(sets.Resolved),
		MatchedCount:      p.Matched(),
		AutoCloseCount:    len(p.AutoClose),
		ManualReviewCount: len(p.ManualReview),
		ClosedCount:       len(closed),
		GeneratedAt:       at.UTC(),
	}
}

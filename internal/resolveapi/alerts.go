package resolveapi

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/settle/internal/resolution"
)

type summaryResponse struct {
	RunID                string                `json:"run_id"`
	Hours                int                   `json:"hours"`
	TotalTickets         int                   `json:"total_tickets"`
	FiringAlerts         int                   `json:"firing_alerts"`
	ResolvedAlerts       int                   `json:"resolved_alerts"`
	MatchedPairs         int                   `json:"matched_pairs"`
	AutoClosePairs       int                   `json:"auto_close_pairs"`
	ManualReviewPairs    int                   `json:"manual_review_pairs"`
	Error                string                `json:"error,omitempty"`
	PairsForAutoClose    []resolution.PairView `json:"pairs_for_auto_close"`
	PairsForManualReview []resolution.PairView `json:"pairs_for_manual_review"`
}

type resolveResponse struct {
	Success              bool                  `json:"success"`
	Error                string                `json:"error,omitempty"`
	RunID                string                `json:"run_id"`
	Status               resolution.Status     `json:"status"`
	TotalTickets         int                   `json:"total_tickets"`
	FiringAlerts         int                   `json:"firing_alerts"`
	ResolvedAlerts       int                   `json:"resolved_alerts"`
	MatchedPairs         int                   `json:"matched_pairs"`
	ClosedPairs          int                   `json:"closed_pairs"`
	ManualReviewPairs    int                   `json:"manual_review_pairs"`
	Notified             bool                  `json:"notified"`
	PairsClosed          []resolution.PairView `json:"pairs_closed"`
	PairsForManualReview []resolution.PairView `json:"pairs_for_manual_review"`
	PairsFailed          []resolution.PairView `json:"pairs_failed"`
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r, "hours", 0, 1, MaxHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run := a.svc.Preview(r.Context(), hours)
	annotate(r, run)

	s := &run.Summary
	writeJSON(w, http.StatusOK, summaryResponse{
		RunID:                run.ID,
		Hours:                run.LookbackHours,
		TotalTickets:         s.Total,
		FiringAlerts:         s.FiringCount,
		ResolvedAlerts:       s.ResolvedCount,
		MatchedPairs:         s.MatchedCount,
		AutoClosePairs:       s.AutoCloseCount,
		ManualReviewPairs:    s.ManualReviewCount,
		Error:                s.Error,
		PairsForAutoClose:    nonNil(run.AutoClose),
		PairsForManualReview: nonNil(run.ManualReview),
	})
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r, "hours", 0, 1, MaxHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run := a.svc.Resolve(r.Context(), hours)
	annotate(r, run)

	s := &run.Summary
	writeJSON(w, http.StatusOK, resolveResponse{
		Success:              run.Status == resolution.StatusComplete,
		Error:                s.Error,
		RunID:                run.ID,
		Status:               run.Status,
		TotalTickets:         s.Total,
		FiringAlerts:         s.FiringCount,
		ResolvedAlerts:       s.ResolvedCount,
		MatchedPairs:         s.MatchedCount,
		ClosedPairs:          s.ClosedCount,
		ManualReviewPairs:    s.ManualReviewCount,
		Notified:             s.Notified,
		PairsClosed:          nonNil(run.Closed),
		PairsForManualReview: nonNil(run.ManualReview),
		PairsFailed:          nonNil(run.FailedClosures),
	})
}

func annotate(r *http.Request, run *resolution.Run) {
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("settle.run.id", run.ID),
		attribute.String("settle.run.mode", string(run.Mode)),
		attribute.String("settle.run.status", string(run.Status)),
		attribute.Int("settle.run.lookback_hours", run.LookbackHours),
		attribute.Int("settle.run.matched_pairs", run.Summary.MatchedCount),
	)
}

func nonNil(v []resolution.PairView) []resolution.PairView {
	if v == nil {
		return []resolution.PairView{}
	}
	return v
}

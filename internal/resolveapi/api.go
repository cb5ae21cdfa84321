// Package resolveapi exposes the resolution pipeline over HTTP.
package resolveapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/settle/internal/authmw"
	"github.com/linnemanlabs/settle/internal/resolution"
)

// Query parameter bounds.
const (
	MaxHours     = resolution.MaxLookbackHours
	MaxListLimit = 200
)

// ResolutionService defines the business operations resolveapi needs.
type ResolutionService interface {
	Preview(ctx context.Context, hours int) *resolution.Run
	Resolve(ctx context.Context, hours int) *resolution.Run
	Get(ctx context.Context, id string) (*resolution.Run, bool, error)
	List(ctx context.Context, limit int) ([]*resolution.Run, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger  log.Logger
	svc     ResolutionService
	tickets TicketService
	token   string
}

// Option configures an API.
type Option func(*API)

// WithTickets enables the helpdesk ticket endpoints.
func WithTickets(ts TicketService) Option {
	return func(a *API) { a.tickets = ts }
}

// New creates a new API handler. A non-empty token protects the mutating
// endpoints with bearer authentication.
func New(logger log.Logger, svc ResolutionService, token string, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("resolution service is required"))
	}
	a := &API{
		logger: logger,
		svc:    svc,
		token:  token,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/alerts/summary", a.handleSummary)
		r.With(authmw.BearerToken(a.token)).Post("/alerts/resolve", a.handleResolve)
		r.Get("/runs", a.handleListRuns)
		r.Get("/runs/{id}", a.handleGetRun)

		if a.tickets != nil {
			r.Get("/tickets", a.handleListTickets)
			r.Get("/tickets/{id}", a.handleGetTicket)
			r.With(authmw.BearerToken(a.token)).Put("/tickets/{id}", a.handleUpdateTicket)
		}
	})
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("settle.run.id", id))

	run, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get run", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	span.SetAttributes(attribute.String("settle.run.status", string(run.Status)))
	writeJSON(w, http.StatusOK, run)
}

func (a *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", resolution.DefaultListLimit, 1, MaxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := a.svc.List(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list runs", "limit", limit)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if runs == nil {
		runs = []*resolution.Run{}
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.Int("settle.runs.count", len(runs)))
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// intParam reads an optional integer query parameter. A missing value yields
// def; a present value must parse and fall within [lo, hi].
func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%s must be between %d and %d", name, lo, hi)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

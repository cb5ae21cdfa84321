package resolveapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/settle/internal/alert"
	"github.com/linnemanlabs/settle/internal/freshservice"
	"github.com/linnemanlabs/settle/internal/resolution"
)

// TicketService is the helpdesk surface proxied under /api/v1/tickets.
type TicketService interface {
	ListTickets(ctx context.Context, hours int) ([]alert.Ticket, error)
	GetTicket(ctx context.Context, id int64) (json.RawMessage, error)
	UpdateTicket(ctx context.Context, id int64, u freshservice.TicketUpdate) (json.RawMessage, error)
}

func (a *API) handleListTickets(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r, "hours", resolution.DefaultLookbackHours, 1, MaxHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tickets, err := a.tickets.ListTickets(r.Context(), hours)
	if err != nil {
		a.writeHelpdeskError(w, r, err, "failed to list tickets", "hours", hours)
		return
	}
	if tickets == nil {
		tickets = []alert.Ticket{}
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.Int("settle.tickets.hours", hours),
		attribute.Int("settle.tickets.count", len(tickets)),
	)
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

func (a *API) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}

	ticket, err := a.tickets.GetTicket(r.Context(), id)
	if err != nil {
		a.writeHelpdeskError(w, r, err, "failed to get ticket", "ticket_id", id)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (a *API) handleUpdateTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}

	var u freshservice.TicketUpdate
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ticket, err := a.tickets.UpdateTicket(r.Context(), id, u)
	if err != nil {
		a.writeHelpdeskError(w, r, err, "failed to update ticket", "ticket_id", id)
		return
	}
	a.logger.Info(r.Context(), "ticket updated", "ticket_id", id, "note", u.Note != nil)
	writeJSON(w, http.StatusOK, ticket)
}

func ticketID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "ticket id must be a positive integer")
		return 0, false
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.Int64("settle.ticket.id", id))
	return id, true
}

// writeHelpdeskError maps client errors onto responses. Helpdesk 404s pass
// through; other upstream failures are 502.
func (a *API) writeHelpdeskError(w http.ResponseWriter, r *http.Request, err error, msg string, kv ...any) {
	var serr *freshservice.StatusError
	switch {
	case errors.Is(err, freshservice.ErrEmptyUpdate):
		writeError(w, http.StatusBadRequest, "update has no fields or note")
	case errors.Is(err, freshservice.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "helpdesk not configured")
	case errors.As(err, &serr) && serr.Code == http.StatusNotFound:
		writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &serr):
		a.logger.Error(r.Context(), err, msg, kv...)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("helpdesk returned %d", serr.Code))
	default:
		a.logger.Error(r.Context(), err, msg, kv...)
		writeError(w, http.StatusBadGateway, "helpdesk unavailable")
	}
}

package resolveapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/settle/internal/alert"
	"github.com/linnemanlabs/settle/internal/freshservice"
	"github.com/linnemanlabs/settle/internal/resolution"
)

type mockTickets struct {
	mu        sync.Mutex
	listHours []int
	updates   []freshservice.TicketUpdate
	tickets   map[int64]json.RawMessage
	err       error
}

func (m *mockTickets) ListTickets(_ context.Context, hours int) ([]alert.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listHours = append(m.listHours, hours)
	if m.err != nil {
		return nil, m.err
	}
	return []alert.Ticket{{ID: 1, Subject: "[FIRING:1] HighCPU", CreatedAt: "2026-02-26T10:00:00Z"}}, nil
}

func (m *mockTickets) GetTicket(_ context.Context, id int64) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	t, ok := m.tickets[id]
	if !ok {
		return nil, &freshservice.StatusError{Op: "get ticket", Code: http.StatusNotFound}
	}
	return t, nil
}

func (m *mockTickets) UpdateTicket(_ context.Context, id int64, u freshservice.TicketUpdate) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, u)
	if m.err != nil {
		return nil, m.err
	}
	if u.Status == nil && u.Priority == nil && u.ResponderID == nil && u.GroupID == nil && u.Note == nil {
		return nil, freshservice.ErrEmptyUpdate
	}
	return m.tickets[id], nil
}

func newTicketRouter(t *testing.T, token string, err error) (chi.Router, *mockTickets) {
	t.Helper()
	ts := &mockTickets{
		tickets: map[int64]json.RawMessage{42: json.RawMessage(`{"id":42,"subject":"disk full","status":2}`)},
		err:     err,
	}
	r := chi.NewRouter()
	New(nil, newMockService(), token, WithTickets(ts)).RegisterRoutes(r)
	return r, ts
}

func put(r http.Handler, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPut, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestTicketRoutes_DisabledWithoutService(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, "")
	if rec := serve(r, http.MethodGet, "/api/v1/tickets", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleListTickets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantHours  []int
	}{
		{"default hours", "", http.StatusOK, []int{resolution.DefaultLookbackHours}},
		{"explicit hours", "?hours=6", http.StatusOK, []int{6}},
		{"zero hours", "?hours=0", http.StatusBadRequest, nil},
		{"too many hours", "?hours=721", http.StatusBadRequest, nil},
		{"not a number", "?hours=abc", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, ts := newTicketRouter(t, "", nil)
			rec := serve(r, http.MethodGet, "/api/v1/tickets"+tt.query, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body=%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			ts.mu.Lock()
			if len(ts.listHours) != len(tt.wantHours) || (len(tt.wantHours) == 1 && ts.listHours[0] != tt.wantHours[0]) {
				t.Errorf("hours = %v, want %v", ts.listHours, tt.wantHours)
			}
			ts.mu.Unlock()
			if tt.wantStatus != http.StatusOK {
				return
			}
			body := decode[struct {
				Tickets []alert.Ticket `json:"tickets"`
			}](t, rec)
			if len(body.Tickets) != 1 || body.Tickets[0].ID != 1 {
				t.Errorf("tickets = %+v", body.Tickets)
			}
		})
	}
}

func TestHandleGetTicket(t *testing.T) {
	t.Parallel()

	r, _ := newTicketRouter(t, "", nil)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"found", "/api/v1/tickets/42", http.StatusOK},
		{"missing", "/api/v1/tickets/43", http.StatusNotFound},
		{"not a number", "/api/v1/tickets/abc", http.StatusBadRequest},
		{"negative", "/api/v1/tickets/-1", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := serve(r, http.MethodGet, tt.path, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Header().Get("Content-Type") != "application/json" {
				t.Errorf("content type = %q", rec.Header().Get("Content-Type"))
			}
		})
	}

	rec := serve(r, http.MethodGet, "/api/v1/tickets/42", nil)
	body := decode[map[string]any](t, rec)
	if body["subject"] != "disk full" {
		t.Errorf("ticket = %v", body)
	}
}

func TestHandleUpdateTicket(t *testing.T) {
	t.Parallel()

	r, ts := newTicketRouter(t, "", nil)

	rec := put(r, "/api/v1/tickets/42", `{"status":3,"group_id":7,"note":"waiting on vendor"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decode[map[string]any](t, rec)
	if body["id"] != float64(42) {
		t.Errorf("ticket = %v", body)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(ts.updates))
	}
	u := ts.updates[0]
	if u.Status == nil || *u.Status != 3 || u.GroupID == nil || *u.GroupID != 7 || u.Priority != nil {
		t.Errorf("update = %+v", u)
	}
	if u.Note == nil || *u.Note != "waiting on vendor" {
		t.Errorf("note = %v", u.Note)
	}
}

func TestHandleUpdateTicket_BadRequests(t *testing.T) {
	t.Parallel()

	r, _ := newTicketRouter(t, "", nil)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"malformed json", "/api/v1/tickets/42", `{"status":`},
		{"unknown field", "/api/v1/tickets/42", `{"subject":"renamed"}`},
		{"wrong type", "/api/v1/tickets/42", `{"status":"closed"}`},
		{"empty update", "/api/v1/tickets/42", `{}`},
		{"bad id", "/api/v1/tickets/0", `{"status":3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := put(r, tt.path, tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body=%s)", rec.Code, rec.Body.String())
			}
			if body := decode[map[string]string](t, rec); body["error"] == "" {
				t.Error("error message missing")
			}
		})
	}
}

func TestHandleUpdateTicket_BearerToken(t *testing.T) {
	t.Parallel()

	r, ts := newTicketRouter(t, "s3cret", nil)

	if rec := put(r, "/api/v1/tickets/42", `{"status":3}`, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}
	if rec := put(r, "/api/v1/tickets/42", `{"status":3}`, map[string]string{"Authorization": "Bearer s3cret"}); rec.Code != http.StatusOK {
		t.Errorf("with token: status = %d, want 200", rec.Code)
	}
	if rec := serve(r, http.MethodGet, "/api/v1/tickets/42", nil); rec.Code != http.StatusOK {
		t.Errorf("read without token: status = %d, want 200", rec.Code)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.updates) != 1 {
		t.Errorf("updates = %d, want 1", len(ts.updates))
	}
}

func TestTicketEndpoints_HelpdeskErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not configured", freshservice.ErrNotConfigured, http.StatusServiceUnavailable},
		{"upstream 500", &freshservice.StatusError{Op: "list tickets", Code: 500}, http.StatusBadGateway},
		{"upstream 404", &freshservice.StatusError{Op: "get ticket", Code: 404}, http.StatusNotFound},
		{"transport", errors.New("connection refused"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, _ := newTicketRouter(t, "", tt.err)
			for _, rec := range []*httptest.ResponseRecorder{
				serve(r, http.MethodGet, "/api/v1/tickets", nil),
				serve(r, http.MethodGet, "/api/v1/tickets/42", nil),
				put(r, "/api/v1/tickets/42", `{"priority":1}`, nil),
			} {
				if rec.Code != tt.wantStatus {
					t.Errorf("status = %d, want %d (body=%s)", rec.Code, tt.wantStatus, rec.Body.String())
				}
			}
		})
	}
}

// Package freshservice is a minimal FreshService API v2 client covering the
// ticket operations settle needs: listing, reading and updating tickets and
// closing a ticket with a public note.
package freshservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/settle/internal/alert"
)

// ErrNotConfigured is returned by every call when the domain or API key is missing.
var ErrNotConfigured = errors.New("freshservice: domain and api key are required")

// ErrEmptyUpdate is returned by UpdateTicket when neither fields nor a note are set.
var ErrEmptyUpdate = errors.New("freshservice: update has no fields or note")

const (
	defaultPerPage  = 100
	defaultMaxPages = 50
	defaultTimeout  = 30 * time.Second
	maxTries        = 4
	maxErrorBody    = 512
)

// StatusError is a non-success HTTP response from the API.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("freshservice: %s returned %d: %s", e.Op, e.Code, e.Body)
}

// Config holds connection settings.
type Config struct {
	Domain   string // e.g. "acme.freshservice.com"
	APIKey   string
	PerPage  int
	MaxPages int
	Timeout  time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBaseURL overrides the https://<domain> base, for tests and proxies.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithBackOff sets the retry delay policy. The factory is called once per request.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = f }
}

// Client talks to one FreshService account.
type Client struct {
	cfg        Config
	baseURL    string
	http       *http.Client
	newBackOff func() backoff.BackOff
	logger     log.Logger
}

// New creates a client. A client with an empty domain or key is valid but
// every call returns ErrNotConfigured.
func New(cfg Config, logger log.Logger, opts ...Option) *Client {
	if cfg.PerPage <= 0 {
		cfg.PerPage = defaultPerPage
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = log.Nop()
	}
	c := &Client{
		cfg:     cfg,
		baseURL: "https://" + strings.TrimRight(cfg.Domain, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
		logger: logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) configured() bool {
	return c.cfg.Domain != "" && c.cfg.APIKey != ""
}

type ticketsPage struct {
	Tickets []alert.Ticket `json:"tickets"`
}

// FetchTickets lists tickets updated since the given time, following pages
// until a short page or MaxPages.
func (c *Client) FetchTickets(ctx context.Context, since time.Time) ([]alert.Ticket, error) {
	if !c.configured() {
		return nil, ErrNotConfigured
	}

	var out []alert.Ticket
	for page := 1; page <= c.cfg.MaxPages; page++ {
		q := url.Values{}
		q.Set("updated_since", since.UTC().Format("2006-01-02T15:04:05Z"))
		q.Set("per_page", strconv.Itoa(c.cfg.PerPage))
		q.Set("page", strconv.Itoa(page))

		body, err := c.do(ctx, "list tickets", http.MethodGet, "/api/v2/tickets?"+q.Encode(), nil, http.StatusOK)
		if err != nil {
			return nil, err
		}
		var p ticketsPage
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("freshservice: decode tickets page %d: %w", page, err)
		}
		out = append(out, p.Tickets...)
		if len(p.Tickets) < c.cfg.PerPage {
			return out, nil
		}
	}
	c.logger.Warn(ctx, "ticket listing truncated at page limit", "max_pages", c.cfg.MaxPages, "tickets", len(out))
	return out, nil
}

// ListTickets lists tickets updated within the last hours.
func (c *Client) ListTickets(ctx context.Context, hours int) ([]alert.Ticket, error) {
	return c.FetchTickets(ctx, time.Now().Add(-time.Duration(hours)*time.Hour))
}

type ticketEnvelope struct {
	Ticket json.RawMessage `json:"ticket"`
}

// GetTicket returns the raw ticket object as FreshService reports it.
func (c *Client) GetTicket(ctx context.Context, id int64) (json.RawMessage, error) {
	if !c.configured() {
		return nil, ErrNotConfigured
	}
	body, err := c.do(ctx, "get ticket", http.MethodGet, fmt.Sprintf("/api/v2/tickets/%d", id), nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	var env ticketEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("freshservice: decode ticket %d: %w", id, err)
	}
	if len(env.Ticket) == 0 {
		return nil, fmt.Errorf("freshservice: ticket %d: response has no ticket", id)
	}
	return env.Ticket, nil
}

// TicketUpdate is a partial ticket update. Nil fields are left unchanged.
type TicketUpdate struct {
	Status      *int    `json:"status,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
	ResponderID *int64  `json:"responder_id,omitempty"`
	GroupID     *int64  `json:"group_id,omitempty"`
	Note        *string `json:"note,omitempty"`
}

func (u TicketUpdate) fields() map[string]any {
	f := map[string]any{}
	if u.Status != nil {
		f["status"] = *u.Status
	}
	if u.Priority != nil {
		f["priority"] = *u.Priority
	}
	if u.ResponderID != nil {
		f["responder_id"] = *u.ResponderID
	}
	if u.GroupID != nil {
		f["group_id"] = *u.GroupID
	}
	return f
}

func (u TicketUpdate) note() string {
	if u.Note == nil {
		return ""
	}
	return *u.Note
}

// UpdateTicket applies the set fields, adds the note as a private note and
// returns the ticket as it reads afterwards. A note failure is logged and
// does not fail the update.
func (c *Client) UpdateTicket(ctx context.Context, id int64, u TicketUpdate) (json.RawMessage, error) {
	if !c.configured() {
		return nil, ErrNotConfigured
	}
	fields, note := u.fields(), u.note()
	if len(fields) == 0 && note == "" {
		return nil, ErrEmptyUpdate
	}

	path := fmt.Sprintf("/api/v2/tickets/%d", id)
	if len(fields) > 0 {
		if _, err := c.do(ctx, "update ticket", http.MethodPut, path, fields, http.StatusOK); err != nil {
			return nil, err
		}
	}
	if note != "" {
		if err := c.addNote(ctx, id, note, true); err != nil {
			c.logger.Warn(ctx, "ticket updated but note was not added", "ticket_id", id, "error", err)
		}
	}
	return c.GetTicket(ctx, id)
}

func (c *Client) addNote(ctx context.Context, id int64, note string, private bool) error {
	payload := map[string]any{"body": note, "private": private}
	_, err := c.do(ctx, "add note", http.MethodPost, fmt.Sprintf("/api/v2/tickets/%d/notes", id), payload, http.StatusCreated)
	return err
}

// CloseTicket sets the ticket to Closed and then adds a public note. A note
// failure is logged and does not fail the closure.
func (c *Client) CloseTicket(ctx context.Context, id int64, note string) error {
	if !c.configured() {
		return ErrNotConfigured
	}

	path := fmt.Sprintf("/api/v2/tickets/%d", id)
	if _, err := c.do(ctx, "close ticket", http.MethodPut, path, map[string]any{"status": StatusClosed}, http.StatusOK); err != nil {
		return err
	}

	if note == "" {
		return nil
	}
	if err := c.addNote(ctx, id, note, false); err != nil {
		c.logger.Warn(ctx, "ticket closed but note was not added", "ticket_id", id, "error", err)
	}
	return nil
}

// do sends one request with retries and returns the response body when the
// status equals want. 429, 5xx and transport errors are retried.
func (c *Client) do(ctx context.Context, op, method, path string, payload any, want int) ([]byte, error) {
	var encoded []byte
	if payload != nil {
		var err error
		if encoded, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("freshservice: marshal %s: %w", op, err)
		}
	}

	attempt := func() ([]byte, error) {
		var body io.Reader
		if encoded != nil {
			body = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("freshservice: create request: %w", err))
		}
		req.SetBasicAuth(c.cfg.APIKey, "X")
		req.Header.Set("Accept", "application/json")
		if encoded != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req) //nolint:gosec // G704: base URL comes from trusted config
		if err != nil {
			return nil, fmt.Errorf("freshservice: %s: %w", op, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == want {
			b, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("freshservice: read %s response: %w", op, err)
			}
			return b, nil
		}

		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		serr := &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
				return nil, backoff.RetryAfter(secs)
			}
			return nil, serr
		case resp.StatusCode >= 500:
			return nil, serr
		default:
			return nil, backoff.Permanent(serr)
		}
	}

	return backoff.Retry(ctx, attempt,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn(ctx, "freshservice request failed, retrying", "op", op, "error", err, "retry_in", next.String())
		}),
	)
}

// Package ticketfile loads helpdesk tickets from a YAML or JSON fixture and
// serves them as a ticket source.
package ticketfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/settle/internal/alert"
)

// document accepts either a bare list of tickets or the helpdesk envelope
// {"tickets": [...]}.
type document struct {
	Tickets []alert.Ticket `json:"tickets" yaml:"tickets"`
}

// Parse decodes fixture content. JSON is detected by a leading brace or
// bracket, anything else is read as YAML.
func Parse(content []byte) ([]alert.Ticket, error) {
	trimmed := strings.TrimSpace(string(content))
	if trimmed == "" {
		return nil, errors.New("ticket file is empty")
	}

	if looksLikeJSON(trimmed) {
		if trimmed[0] == '[' {
			var list []alert.Ticket
			if err := json.Unmarshal([]byte(trimmed), &list); err != nil {
				return nil, fmt.Errorf("decode json: %w", err)
			}
			return list, nil
		}
		var doc document
		if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		return doc.Tickets, nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal([]byte(trimmed), &node); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
		var list []alert.Ticket
		if err := node.Decode(&list); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
		return list, nil
	}
	var doc document
	if err := node.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return doc.Tickets, nil
}

func looksLikeJSON(s string) bool {
	return s[0] == '{' || s[0] == '['
}

// Load reads and parses a fixture file.
func Load(path string) ([]alert.Ticket, error) {
	content, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, err
	}
	tickets, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tickets, nil
}

// Source serves a fixed set of tickets.
type Source struct {
	tickets []alert.Ticket
}

// NewSource wraps already loaded tickets.
func NewSource(tickets []alert.Ticket) *Source {
	return &Source{tickets: tickets}
}

// FetchTickets returns the tickets updated at or after since. A ticket
// without a parsable updated_at falls back to created_at; a ticket with
// neither is returned so the pairing engine can count it as skipped.
// A zero since returns everything.
func (s *Source) FetchTickets(ctx context.Context, since time.Time) ([]alert.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]alert.Ticket, 0, len(s.tickets))
	for i := range s.tickets {
		t := s.tickets[i]
		if since.IsZero() {
			out = append(out, t)
			continue
		}
		ts, err := alert.ParseTime(t.UpdatedAt)
		if err != nil {
			ts, err = t.Created()
		}
		if err != nil || !ts.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

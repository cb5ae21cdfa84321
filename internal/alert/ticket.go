// Package alert models helpdesk tickets raised by monitoring systems and
// provides the subject normalization and firing/resolved classification
// used to pair them.
package alert

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Ticket is a helpdesk ticket as delivered by the ticket source.
// Timestamps are kept as the raw text the source sent so that one bad value
// only disqualifies that ticket.
type Ticket struct {
	ID        int64  `json:"id" yaml:"id"`
	Subject   string `json:"subject" yaml:"subject"`
	CreatedAt string `json:"created_at" yaml:"created_at"`
	UpdatedAt string `json:"updated_at" yaml:"updated_at"`
	Status    int    `json:"status,omitempty" yaml:"status"`
	Priority  int    `json:"priority,omitempty" yaml:"priority"`

	// Normalized is the canonical subject attached by Categorize.
	Normalized string `json:"normalized_subject,omitempty" yaml:"-"`
}

// Created parses the ticket's creation timestamp.
func (t *Ticket) Created() (time.Time, error) {
	return ParseTime(t.CreatedAt)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime parses an ISO-8601 timestamp with or without fractional seconds
// and with or without a zone designator. Values without a zone are UTC.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

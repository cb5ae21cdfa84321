package alert

import "strings"

// Class labels a ticket by the alert state its subject announces.
type Class string

const (
	// Unclassified subjects carry no alert marker.
	Unclassified Class = "unclassified"

	// Firing subjects announce an active problem.
	Firing Class = "firing"

	// Resolved subjects announce that a problem ended.
	Resolved Class = "resolved"
)

var (
	firingMarkers   = []string{"[firing", "alert-critical", "alert-warning", "crit alert"}
	resolvedMarkers = []string{"[resolved]", "resolved:"}
)

// Classify labels a raw subject. Firing markers win when both kinds are present.
func Classify(subject string) Class {
	s := strings.ToLower(subject)
	if s == "" {
		return Unclassified
	}
	if containsAny(s, firingMarkers) {
		return Firing
	}
	if containsAny(s, resolvedMarkers) {
		return Resolved
	}
	return Unclassified
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// Sets is the outcome of splitting a ticket batch by class.
type Sets struct {
	Firing       []Ticket
	Resolved     []Ticket
	Unclassified int
}

// Categorize splits tickets into firing and resolved sets, attaching the
// normalized subject to each kept ticket. Tickets with a blank subject and
// unclassified tickets are dropped and counted in Unclassified.
// Input order is preserved within each set.
func Categorize(tickets []Ticket) Sets {
	var sets Sets
	for _, t := range tickets {
		subject := strings.TrimSpace(t.Subject)
		if subject == "" {
			sets.Unclassified++
			continue
		}
		t.Normalized = Normalize(subject)
		switch Classify(subject) {
		case Firing:
			sets.Firing = append(sets.Firing, t)
		case Resolved:
			sets.Resolved = append(sets.Resolved, t)
		default:
			sets.Unclassified++
		}
	}
	return sets
}

package alert

import (
	"regexp"
	"strings"
)

// framing prefixes, applied in this order
var framingPrefixes = []*regexp.Regexp{
	regexp.MustCompile(`^\[firing:\d+\]\s*`),
	regexp.MustCompile(`^\[resolved\]\s*`),
	regexp.MustCompile(`^resolved:\s*`),
	regexp.MustCompile(`^alert-critical:\s*`),
	regexp.MustCompile(`^alert-warning:\s*`),
	regexp.MustCompile(`^crit alert:\s*`),
}

// Normalize lower-cases a subject and strips the alert framing around it so
// that the firing and resolved notifications of one condition compare equal.
// Passes repeat until no prefix is left, which makes Normalize idempotent.
func Normalize(subject string) string {
	s := strings.TrimSpace(strings.ToLower(subject))
	for {
		before := s
		for _, re := range framingPrefixes {
			s = re.ReplaceAllString(s, "")
		}
		s = strings.TrimSpace(s)
		if s == before {
			return s
		}
	}
}

package match

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	overlapThreshold  = 0.7
	minIdentifierLen  = 4
	minWordLen        = 4
	minEntityLen      = 6
	statePlaceholder  = "STATUS"
	serviceWord       = "service"
	unavailablePhrase = "unavailable"
	backOnlinePhrase  = "back online"
)

var (
	severityRe   = regexp.MustCompile(`alert|warning|critical|error`)
	identifierRe = regexp.MustCompile(`\b([a-zA-Z0-9_-]+(?:[0-9._-]+[a-zA-Z0-9_-]*)?)\b`)
	idMarkerRe   = regexp.MustCompile(`[0-9_-]`)
	wordRe       = regexp.MustCompile(`\b\w+\b`)
	entityRe     = regexp.MustCompile(`\b([a-zA-Z0-9_\s-]+(?:\s+on\s+[a-zA-Z0-9_-]+)?)\b`)
)

// stateWords are the antonym pairs neutralized by the state rule. Pairs are
// applied in order; a word replaced by an earlier pair is gone for later ones.
var stateWords = [][2]string{
	{"offline", "online"},
	{"down", "up"},
	{"lost", "restored"},
	{"unavailable", "available"},
	{"unavailable", "back online"},
	{"failure", "recovered"},
	{"failed", "succeeded"},
	{"high", "normal"},
	{"critical", "normal"},
	{"warning", "normal"},
	{"problem", "resolved"},
}

var stateRes = compileStateWords(stateWords)

func compileStateWords(pairs [][2]string) [][2]*regexp.Regexp {
	out := make([][2]*regexp.Regexp, len(pairs))
	for i, p := range pairs {
		out[i] = [2]*regexp.Regexp{
			regexp.MustCompile(`\b` + regexp.QuoteMeta(p[0]) + `\b`),
			regexp.MustCompile(`\b` + regexp.QuoteMeta(p[1]) + `\b`),
		}
	}
	return out
}

// clean removes severity words anywhere in s, including inside longer words.
func clean(s string) string {
	return strings.TrimSpace(severityRe.ReplaceAllString(s, ""))
}

func exact(f, r string) bool {
	return f == r
}

func severityNeutral(f, r string) bool {
	return clean(f) == clean(r)
}

func neutralizeState(s string) string {
	for _, p := range stateRes {
		s = p[0].ReplaceAllString(s, statePlaceholder)
		s = p[1].ReplaceAllString(s, statePlaceholder)
	}
	return s
}

func oppositeState(f, r string) bool {
	return neutralizeState(clean(f)) == neutralizeState(clean(r))
}

// identifiers returns tokens that look like host or service names.
func identifiers(s string) []string {
	var out []string
	for _, tok := range identifierRe.FindAllString(s, -1) {
		if len(tok) >= minIdentifierLen && idMarkerRe.MatchString(tok) {
			out = append(out, tok)
		}
	}
	return out
}

func sharedIdentifier(f, r string) bool {
	ids := identifierRe.FindAllString(clean(r), -1)
	if len(ids) == 0 {
		return false
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	for _, id := range identifiers(clean(f)) {
		if _, ok := seen[id]; ok {
			return true
		}
	}
	return false
}

func servicePhrase(f, r string) bool {
	f, r = clean(f), clean(r)
	if !strings.Contains(f, serviceWord) || !strings.Contains(r, serviceWord) {
		return false
	}
	return (strings.Contains(f, unavailablePhrase) && strings.Contains(r, backOnlinePhrase)) ||
		(strings.Contains(f, backOnlinePhrase) && strings.Contains(r, unavailablePhrase))
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range wordRe.FindAllString(s, -1) {
		if utf8.RuneCountInString(w) >= minWordLen {
			set[w] = struct{}{}
		}
	}
	return set
}

func wordOverlap(f, r string) bool {
	fw, rw := wordSet(clean(f)), wordSet(clean(r))
	if len(fw) == 0 || len(rw) == 0 {
		return false
	}
	common := 0
	for w := range fw {
		if _, ok := rw[w]; ok {
			common++
		}
	}
	return float64(common)/float64(min(len(fw), len(rw))) >= overlapThreshold
}

func substring(f, r string) bool {
	f, r = clean(f), clean(r)
	longer, shorter := r, f
	if utf8.RuneCountInString(f) > utf8.RuneCountInString(r) {
		longer, shorter = f, r
	}
	n := utf8.RuneCountInString(longer)
	if n == 0 || !strings.Contains(longer, shorter) {
		return false
	}
	return float64(utf8.RuneCountInString(shorter))/float64(n) >= overlapThreshold
}

func entityOverlap(f, r string) bool {
	fe := entityRe.FindAllString(clean(f), -1)
	re := entityRe.FindAllString(clean(r), -1)
	for _, a := range fe {
		if utf8.RuneCountInString(a) < minEntityLen {
			continue
		}
		for _, b := range re {
			if a == b || strings.Contains(b, a) || strings.Contains(a, b) {
				return true
			}
		}
	}
	return false
}

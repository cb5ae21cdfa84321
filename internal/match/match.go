// Package match decides whether a normalized firing subject and a
// normalized resolved subject describe the same incident.
//
// The decision is an ordered cascade of small predicates. The first rule
// that fires wins, so the order of Rules is part of the contract: moving a
// rule changes outcomes on ambiguous subjects.
package match

// Rule is one named step of the cascade.
type Rule struct {
	Name string
	Func func(firing, resolved string) bool
}

// Rule names, in cascade order.
const (
	RuleExact         = "exact"
	RuleSeverity      = "severity"
	RuleState         = "state"
	RuleIdentifier    = "identifier"
	RuleServicePhrase = "service-phrase"
	RuleWordOverlap   = "word-overlap"
	RuleSubstring     = "substring"
	RuleEntity        = "entity"
)

var cascade = []Rule{
	{RuleExact, exact},
	{RuleSeverity, severityNeutral},
	{RuleState, oppositeState},
	{RuleIdentifier, sharedIdentifier},
	{RuleServicePhrase, servicePhrase},
	{RuleWordOverlap, wordOverlap},
	{RuleSubstring, substring},
	{RuleEntity, entityOverlap},
}

// Rules returns a copy of the cascade in evaluation order.
func Rules() []Rule {
	out := make([]Rule, len(cascade))
	copy(out, cascade)
	return out
}

// Match runs the cascade and reports the name of the first rule that
// matched. Empty subjects never match.
func Match(firing, resolved string) (string, bool) {
	if firing == "" || resolved == "" {
		return "", false
	}
	for _, r := range cascade {
		if r.Func(firing, resolved) {
			return r.Name, true
		}
	}
	return "", false
}

// Matches reports whether the two subjects describe the same incident.
func Matches(firing, resolved string) bool {
	_, ok := Match(firing, resolved)
	return ok
}

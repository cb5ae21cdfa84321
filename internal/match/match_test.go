package match

import "testing"

func TestMatch_RuleFixtures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		firing   string
		resolved string
		wantRule string
		wantOK   bool
	}{
		{"exact", "disk usage warning on server-01", "disk usage warning on server-01", RuleExact, true},
		{"severity words differ", "critical cpu load", "warning cpu load", RuleSeverity, true},
		{"lost restored", "db-07 connection lost", "db-07 connection restored", RuleState, true},
		{"offline online", "printer offline", "printer online", RuleState, true},
		{"shared host", "disk full on web-01", "web-01 disk cleaned up", RuleIdentifier, true},
		{"service back online", "service unavailable", "service back online", RuleServicePhrase, true},
		{"word overlap", "memory pressure detected kubernetes node", "kubernetes node memory pressure cleared", RuleWordOverlap, true},
		{"substring", "db io lag", "db io lag xy", RuleSubstring, true},
		{"entity phrase", "load avg: eu-west", "load avg: us-east", RuleEntity, true},
		{"unrelated", "cpu load high", "memory leak fixed", "", false},
		{"empty firing", "", "anything", "", false},
		{"empty resolved", "anything", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rule, ok := Match(tt.firing, tt.resolved)
			if ok != tt.wantOK {
				t.Fatalf("Match(%q, %q) ok = %v, want %v", tt.firing, tt.resolved, ok, tt.wantOK)
			}
			if rule != tt.wantRule {
				t.Errorf("Match(%q, %q) rule = %q, want %q", tt.firing, tt.resolved, rule, tt.wantRule)
			}
			if Matches(tt.firing, tt.resolved) != tt.wantOK {
				t.Errorf("Matches disagrees with Match for %q / %q", tt.firing, tt.resolved)
			}
		})
	}
}

func TestMatch_SymmetricRules(t *testing.T) {
	t.Parallel()

	// exact, severity, state, word-overlap and substring do not depend on
	// which side a subject is on.
	pairs := [][2]string{
		{"disk usage warning on server-01", "disk usage warning on server-01"},
		{"critical cpu load", "warning cpu load"},
		{"db-07 connection lost", "db-07 connection restored"},
		{"memory pressure detected kubernetes node", "kubernetes node memory pressure cleared"},
		{"db io lag", "db io lag xy"},
		{"cpu load high", "memory leak fixed"},
	}
	for _, p := range pairs {
		fwd, fok := Match(p[0], p[1])
		rev, rok := Match(p[1], p[0])
		if fok != rok || fwd != rev {
			t.Errorf("Match(%q, %q) = (%q, %v) but reversed = (%q, %v)", p[0], p[1], fwd, fok, rev, rok)
		}
	}
}

func TestMatch_EntityRuleDependsOnArgumentOrder(t *testing.T) {
	t.Parallel()

	// Only firing-side phrases are length filtered, so a short firing
	// phrase cannot anchor a match but a long one can.
	short, long := "abc: zz", "abcdefgh: yy"

	if Matches(short, long) {
		t.Errorf("Matches(%q, %q) = true, want false", short, long)
	}
	rule, ok := Match(long, short)
	if !ok || rule != RuleEntity {
		t.Errorf("Match(%q, %q) = (%q, %v), want (%q, true)", long, short, rule, ok, RuleEntity)
	}
}

func TestRules_Order(t *testing.T) {
	t.Parallel()

	want := []string{
		RuleExact, RuleSeverity, RuleState, RuleIdentifier,
		RuleServicePhrase, RuleWordOverlap, RuleSubstring, RuleEntity,
	}
	rules := Rules()
	if len(rules) != len(want) {
		t.Fatalf("rules = %d, want %d", len(rules), len(want))
	}
	for i, r := range rules {
		if r.Name != want[i] {
			t.Errorf("rule[%d] = %q, want %q", i, r.Name, want[i])
		}
	}

	// mutating the returned slice must not affect the cascade
	rules[0] = Rule{Name: "mutated", Func: func(string, string) bool { return true }}
	if Rules()[0].Name != RuleExact {
		t.Error("Rules() exposes the internal cascade")
	}
}

func TestWordSet_ASCIIWordCharacters(t *testing.T) {
	t.Parallel()

	got := wordSet("latency café backend")
	if len(got) != 2 {
		t.Fatalf("wordSet = %v, want latency and backend only", got)
	}
	for _, w := range []string{"latency", "backend"} {
		if _, ok := got[w]; !ok {
			t.Errorf("wordSet missing %q: %v", w, got)
		}
	}
}

func TestRule_Predicates(t *testing.T) {
	t.Parallel()

	byName := make(map[string]Rule)
	for _, r := range Rules() {
		byName[r.Name] = r
	}

	tests := []struct {
		rule     string
		firing   string
		resolved string
		want     bool
	}{
		{RuleExact, "a b", "a b", true},
		{RuleExact, "a b", "a  b", false},
		{RuleSeverity, "alert: disk", ": disk", true},
		{RuleSeverity, "erroring job", "ing job", true},
		{RuleSeverity, "disk", "disks", false},
		{RuleState, "link down", "link up", true},
		{RuleState, "backup job failed", "backup job succeeded", true},
		{RuleState, "setup slow", "setdown slow", false},
		{RuleState, "service unavailable", "service back online", false},
		{RuleIdentifier, "node r72_pen_4 offline", "r72_pen_4 ok", true},
		{RuleIdentifier, "node abc offline", "abc ok", false},
		{RuleIdentifier, "node a-1 down", "a-1 up", false},
		{RuleServicePhrase, "service back online", "service unavailable", true},
		{RuleServicePhrase, "api unavailable", "api back online", false},
		{RuleWordOverlap, "alpha beta gamma", "alpha beta delta", false},
		{RuleWordOverlap, "alpha beta gamma", "alpha beta gamma delta epsilon", true},
		{RuleWordOverlap, "a b c", "a b c", false},
		{RuleSubstring, "abcdefg", "abcdefghij", true},
		{RuleSubstring, "abc", "abcdefghij", false},
		{RuleEntity, "queue depth on mq-1", "queue depth", true},
		{RuleEntity, "abc", "abc", false},
		// word characters are ASCII only: accented letters split tokens
		{RuleIdentifier, "node cafe-01 down", "cafe-01 up", true},
		{RuleIdentifier, "node café-01 down", "café-01 up", false},
		{RuleWordOverlap, "latency cafe backend", "latency cafe backend", true},
		{RuleWordOverlap, "café résumé", "café résumé", false},
	}

	for _, tt := range tests {
		t.Run(tt.rule+"/"+tt.firing, func(t *testing.T) {
			t.Parallel()
			r, ok := byName[tt.rule]
			if !ok {
				t.Fatalf("unknown rule %q", tt.rule)
			}
			if got := r.Func(tt.firing, tt.resolved); got != tt.want {
				t.Errorf("%s(%q, %q) = %v, want %v", tt.rule, tt.firing, tt.resolved, got, tt.want)
			}
		})
	}
}

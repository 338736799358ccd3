package ratelimit

import (
	"fmt"
	"sort"
	"strings"
)

// Rule is one path-prefix admission policy: at most MaxRequests per
// WindowSeconds for each caller hitting paths under Prefix.
type Rule struct {
	Prefix        string
	MaxRequests   int
	WindowSeconds int
}

func (r Rule) validate() error {
	if r.MaxRequests < 1 {
		return fmt.Errorf("rule %q: max_requests must be >= 1, got %d", r.Prefix, r.MaxRequests)
	}
	if r.WindowSeconds < 1 {
		return fmt.Errorf("rule %q: window_seconds must be >= 1, got %d", r.Prefix, r.WindowSeconds)
	}
	return nil
}

// DefaultPattern is the pattern key used when no configured prefix
// matches and the default rule applies.
const DefaultPattern = "*"

// Table is the static policy table: ordered prefix rules, a mandatory
// default rule, exempt path prefixes and the anonymous-traffic
// multiplier. It is read-only after construction and safe for
// concurrent use.
type Table struct {
	rules    []Rule // sorted by descending prefix length
	def      Rule
	exempt   []string
	anonMult float64
}

// NewTable validates the configuration and builds a policy table.
// A missing or invalid default rule is a construction error, never a
// runtime one: request handling always has a rule to fall back to.
func NewTable(def Rule, rules []Rule, exempt []string, anonMultiplier float64) (*Table, error) {
	if err := def.validate(); err != nil {
		return nil, fmt.Errorf("default %w", err)
	}
	if anonMultiplier < 0 || anonMultiplier > 1 {
		return nil, fmt.Errorf("anonymous_multiplier must be in [0,1], got %v", anonMultiplier)
	}
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	for _, r := range sorted {
		if r.Prefix == "" {
			return nil, fmt.Errorf("rule with empty path prefix (use the default rule instead)")
		}
		if err := r.validate(); err != nil {
			return nil, err
		}
	}
	// Longest prefix first, so the most specific rule wins on lookup.
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &Table{
		rules:    sorted,
		def:      def,
		exempt:   append([]string(nil), exempt...),
		anonMult: anonMultiplier,
	}, nil
}

// Exempt reports whether the path is excluded from rate limiting
// entirely (health checks, metrics, static assets).
func (t *Table) Exempt(path string) bool {
	for _, p := range t.exempt {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Resolve returns the effective limit, window length and pattern key
// for a path. Unauthenticated callers get their limit scaled down by
// the anonymous multiplier; the window length is unaffected.
func (t *Table) Resolve(path string, authenticated bool) (limit, windowSeconds int, pattern string) {
	rule, pattern := t.match(path)
	return t.Scale(rule.MaxRequests, authenticated), rule.WindowSeconds, pattern
}

// PatternOf returns the pattern key a path resolves to, for metric
// labels and logging.
func (t *Table) PatternOf(path string) string {
	_, pattern := t.match(path)
	return pattern
}

// Scale applies the anonymous multiplier to a limit. Exported so that
// per-request rule overrides get the same anonymous scaling as table
// rules.
func (t *Table) Scale(limit int, authenticated bool) int {
	if authenticated {
		return limit
	}
	return int(float64(limit) * t.anonMult)
}

// MaxWindowSeconds is the largest window across all rules including
// the default, used to size the eviction retention margin.
func (t *Table) MaxWindowSeconds() int {
	max := t.def.WindowSeconds
	for _, r := range t.rules {
		if r.WindowSeconds > max {
			max = r.WindowSeconds
		}
	}
	return max
}

func (t *Table) match(path string) (Rule, string) {
	for _, r := range t.rules {
		if strings.HasPrefix(path, r.Prefix) {
			return r, r.Prefix
		}
	}
	return t.def, DefaultPattern
}

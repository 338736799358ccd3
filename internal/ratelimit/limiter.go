// Package ratelimit implements per-caller request admission control:
// a policy table of path-prefix rules, caller identification, and
// fixed-window counters with amortized eviction.
//
// The algorithm is a fixed-window counter, not a sliding log: it is
// O(1) per check but admits up to ~2x the nominal rate across a window
// boundary. See windowState for the full trade-off.
package ratelimit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Decision is the outcome of one admission check, consumed by the
// hosting pipeline. Denials are expected outcomes, never errors.
type Decision struct {
	Allowed      bool
	Limit        int
	Remaining    int
	ResetSeconds int
}

// Unlimited is the sentinel decision for exempt paths (and for
// fail-open): always allowed, and the pipeline must not attach
// rate-limit headers.
var Unlimited = Decision{Allowed: true, Limit: -1, Remaining: -1, ResetSeconds: -1}

// Options tunes a Decider. The zero value is usable.
type Options struct {
	// SweepEvery is how many admission checks run between eviction
	// sweeps. Default 4096.
	SweepEvery int
	// Now overrides the clock, for deterministic tests.
	Now func() time.Time
	// OnFailOpen is called whenever a bookkeeping panic is swallowed
	// and the request admitted anyway.
	OnFailOpen func()
	// OnSweep is called after a sweep that removed entries.
	OnSweep func(removed int)
}

// Decider owns the policy table and the window store and turns one
// request into one Decision. It is safe for concurrent use and must be
// constructed once and shared, never kept as hidden package state.
type Decider struct {
	table      *Table
	ids        *IdentifierResolver
	store      *windowStore
	logger     zerolog.Logger
	now        func() time.Time
	onFailOpen func()
}

// NewDecider wires a decider around a validated policy table. The
// eviction retention margin is twice the largest configured window.
func NewDecider(table *Table, ids *IdentifierResolver, logger zerolog.Logger, opts Options) *Decider {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	retention := 2 * time.Duration(table.MaxWindowSeconds()) * time.Second
	return &Decider{
		table:      table,
		ids:        ids,
		store:      newWindowStore(retention, opts.SweepEvery, opts.OnSweep),
		logger:     logger,
		now:        now,
		onFailOpen: opts.OnFailOpen,
	}
}

// Check decides whether to admit a request. It never fails the
// request: exempt paths return the Unlimited sentinel without touching
// the window store, unresolvable callers fall back to a shared
// identifier, and any panic during bookkeeping is logged and fails
// open. An admission component must not itself become a cause of
// outage.
func (d *Decider) Check(r *http.Request) (dec Decision) {
	defer func() {
		if v := recover(); v != nil {
			d.logger.Error().
				Interface("panic", v).
				Str("path", r.URL.Path).
				Msg("admission bookkeeping panic, failing open")
			if d.onFailOpen != nil {
				d.onFailOpen()
			}
			dec = Unlimited
		}
	}()

	path := r.URL.Path
	if d.table.Exempt(path) {
		return Unlimited
	}

	identifier, authenticated := d.ids.Resolve(r)
	limit, windowSeconds, pattern := d.table.Resolve(path, authenticated)

	// A request-scoped override substitutes the rule for its prefix
	// without mutating the shared table, so concurrent requests on the
	// same pattern are unaffected.
	if o, ok := ruleOverrideFrom(r.Context()); ok && strings.HasPrefix(path, o.Prefix) {
		limit = d.table.Scale(o.MaxRequests, authenticated)
		windowSeconds = o.WindowSeconds
		pattern = o.Prefix
	}

	return d.store.check(identifier, pattern, limit, windowSeconds, d.now())
}

// Sweep runs an eviction pass immediately. Normal operation does not
// need it; traffic amortizes sweeps through Check.
func (d *Decider) Sweep() {
	d.store.sweep(d.now())
}

// ActiveWindows reports the number of live window counters, for the
// active-windows gauge.
func (d *Decider) ActiveWindows() int {
	return d.store.len()
}

type ctxKey int

const keyRuleOverride ctxKey = 0

// WithRuleOverride scopes a one-off, typically tighter rule to a single
// request's context. It replaces the table's rule for paths under the
// override prefix for that request only; the shared table is never
// mutated, so there is no restore step and no race with concurrent
// requests.
func WithRuleOverride(ctx context.Context, rule Rule) context.Context {
	return context.WithValue(ctx, keyRuleOverride, rule)
}

func ruleOverrideFrom(ctx context.Context) (Rule, bool) {
	v := ctx.Value(keyRuleOverride)
	if v == nil {
		return Rule{}, false
	}
	rule, ok := v.(Rule)
	return rule, ok
}

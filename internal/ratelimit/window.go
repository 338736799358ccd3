package ratelimit

import (
	"sync"
	"time"
)

// windowKey identifies one counter: a composite of caller identifier
// and matched pattern, instead of nested per-identifier maps. One flat
// map keeps locking and eviction simple.
type windowKey struct {
	identifier string
	pattern    string
}

// windowState is a fixed-window counter. The window does not slide:
// the count resets to zero when the window expires. A caller can
// therefore burst up to ~2x the nominal rate across a window boundary
// (full window at the end of one window, full window at the start of
// the next). That trade-off buys O(1) memory and time per check.
type windowState struct {
	count       int
	windowStart time.Time
}

// windowStore holds all window counters behind a single mutex. The
// lock is held only for the get/reset/increment sequence of one check,
// which is pure in-memory bookkeeping.
type windowStore struct {
	mu      sync.Mutex
	entries map[windowKey]*windowState

	// retention is 2x the largest configured window: an entry is never
	// evicted while still relevant to its own window, and tolerates a
	// full extra window of staleness before its memory is reclaimed.
	retention time.Duration

	// Eviction is amortized over checks rather than run off a timer:
	// every sweepEvery-th check pays for a full scan.
	sweepEvery int
	checks     uint64
	onSweep    func(removed int)
}

func newWindowStore(retention time.Duration, sweepEvery int, onSweep func(removed int)) *windowStore {
	if sweepEvery < 1 {
		sweepEvery = 4096
	}
	return &windowStore{
		entries:    make(map[windowKey]*windowState),
		retention:  retention,
		sweepEvery: sweepEvery,
		onSweep:    onSweep,
	}
}

// check runs the admission algorithm for one (identifier, pattern)
// counter. Denied requests do not increment the count.
func (s *windowStore) check(identifier, pattern string, limit, windowSeconds int, now time.Time) Decision {
	window := time.Duration(windowSeconds) * time.Second
	key := windowKey{identifier: identifier, pattern: pattern}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.checks++
	if s.checks%uint64(s.sweepEvery) == 0 {
		s.sweepLocked(now)
	}

	st, ok := s.entries[key]
	if !ok {
		st = &windowState{count: 0, windowStart: now}
		s.entries[key] = st
	}
	if !now.Before(st.windowStart.Add(window)) {
		st.count = 0
		st.windowStart = now
	}

	resetSeconds := ceilSeconds(st.windowStart.Add(window).Sub(now))
	if st.count >= limit {
		return Decision{Allowed: false, Limit: limit, Remaining: 0, ResetSeconds: resetSeconds}
	}
	st.count++
	return Decision{
		Allowed:      true,
		Limit:        limit,
		Remaining:    limit - st.count,
		ResetSeconds: resetSeconds,
	}
}

// sweep removes every counter stale past the retention margin. Exposed
// for tests; production traffic triggers it through check.
func (s *windowStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
}

func (s *windowStore) sweepLocked(now time.Time) {
	cutoff := now.Add(-s.retention)
	removed := 0
	for key, st := range s.entries {
		if st.windowStart.Before(cutoff) {
			delete(s.entries, key)
			removed++
		}
	}
	if removed > 0 && s.onSweep != nil {
		s.onSweep(removed)
	}
}

func (s *windowStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

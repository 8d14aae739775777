// Package cooldown suppresses repeated announcements of the same person.
package cooldown

import (
	"sync"
	"time"
)

// Gate remembers when each person was last announced. State lives only for
// the lifetime of the process. A Gate is safe for concurrent use.
type Gate struct {
	interval time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewGate creates a gate with the given suppression interval.
func NewGate(interval time.Duration) *Gate {
	return &Gate{
		interval: interval,
		last:     make(map[string]time.Time),
	}
}

// Interval returns the suppression interval.
func (g *Gate) Interval() time.Duration {
	return g.interval
}

// Allow reports whether personID may be announced at now. When it returns
// true, now is recorded as the last announcement time. The check and the
// update happen under one lock, so concurrent callers for the same ID within
// one window see exactly one true.
func (g *Gate) Allow(personID string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.last[personID]; ok && now.Sub(last) <= g.interval {
		return false
	}
	g.last[personID] = now
	return true
}

// LastAnnounced returns when personID was last allowed through.
func (g *Gate) LastAnnounced(personID string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.last[personID]
	return t, ok
}

// Reset forgets personID, making it immediately eligible again.
func (g *Gate) Reset(personID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.last, personID)
}

// Clear forgets all persons.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	clear(g.last)
}

// Prune drops entries whose window has expired at now. Pruned IDs are
// eligible either way; this only bounds memory.
func (g *Gate) Prune(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for id, last := range g.last {
		if now.Sub(last) > g.interval {
			delete(g.last, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked persons.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.last)
}

// Package debounce rate-limits pipeline runs per conversation. Once a
// conversation passes the gate, further turns for the same conversation are
// suppressed until the window expires, so a chatty exchange produces one
// detection pass instead of one per turn.
package debounce

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/leadsense/internal/model"
)

// Gate is a concurrent-safe TTL gate keyed by conversation.
type Gate struct {
	mu      sync.Mutex
	entries map[string]time.Time
	window  time.Duration
	now     func() time.Time

	allowed    atomic.Int64
	suppressed atomic.Int64
}

// Stats reports gate activity counters.
type Stats struct {
	Entries    int   `json:"entries"`
	Allowed    int64 `json:"allowed"`
	Suppressed int64 `json:"suppressed"`
}

// New creates a Gate with the given suppression window.
func New(window time.Duration) *Gate {
	return &Gate{
		entries: make(map[string]time.Time),
		window:  window,
		now:     time.Now,
	}
}

// Allow reports whether a pipeline run may proceed for the conversation.
// The first call for a key within a window returns true and arms the gate;
// subsequent calls return false until the window expires. A zero or negative
// window disables suppression entirely.
func (g *Gate) Allow(key model.ConversationKey) bool {
	if g.window <= 0 {
		g.allowed.Add(1)
		return true
	}

	k := key.String()
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.entries[k]; ok && now.Sub(last) < g.window {
		g.suppressed.Add(1)
		return false
	}
	g.entries[k] = now
	g.allowed.Add(1)
	return true
}

// Reset clears the gate for a conversation, letting the next turn through
// immediately. Used after a qualification event so a followup turn is not
// silently dropped.
func (g *Gate) Reset(key model.ConversationKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, key.String())
}

// Sweep drops expired entries and returns how many were removed. Callers run
// it periodically to bound memory on long-lived processes.
func (g *Gate) Sweep() int {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for k, last := range g.entries {
		if now.Sub(last) >= g.window {
			delete(g.entries, k)
			removed++
		}
	}
	return removed
}

// Stats returns current counters.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	entries := len(g.entries)
	g.mu.Unlock()

	return Stats{
		Entries:    entries,
		Allowed:    g.allowed.Load(),
		Suppressed: g.suppressed.Load(),
	}
}

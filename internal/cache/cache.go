// Package cache stores prior routing decisions keyed by (session, normalized
// text) with a TTL. The cache is purely a latency and cost optimization:
// callers must treat every error as a miss.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/whisper/bridge/internal/route"
)

// Cache is a TTL-bounded decision store. Put overwrites any live entry for
// the same key; concurrent writers resolve last-write-wins.
type Cache interface {
	Get(ctx context.Context, sessionID, normalized string) (route.Decision, bool, error)
	Put(ctx context.Context, sessionID, normalized string, d route.Decision, ttl time.Duration) error
}

type entry struct {
	decision  route.Decision
	expiresAt time.Time
}

// Memory is an in-process Cache. Expired entries are evicted lazily on
// lookup. When a new key would exceed maxEntries, expired entries are swept
// and, if the map is still full, the entries closest to expiry are dropped
// until it is back under its low-water mark.
type Memory struct {
	mu         sync.RWMutex
	entries    map[string]entry
	maxEntries int
	now        func() time.Time
}

// NewMemory creates an empty in-memory cache. maxEntries <= 0 leaves it
// unbounded.
func NewMemory(maxEntries int) *Memory {
	return &Memory{
		entries:    make(map[string]entry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the live decision for the key, evicting it if expired.
func (m *Memory) Get(_ context.Context, sessionID, normalized string) (route.Decision, bool, error) {
	key := route.Key(sessionID, normalized)

	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return route.Decision{}, false, nil
	}

	if !m.now().Before(e.expiresAt) {
		m.mu.Lock()
		// Re-check: a concurrent Put may have refreshed the entry.
		if cur, ok := m.entries[key]; ok && !m.now().Before(cur.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return route.Decision{}, false, nil
	}
	return e.decision, true, nil
}

// Put stores d under the key for ttl. A non-positive ttl is a no-op.
func (m *Memory) Put(_ context.Context, sessionID, normalized string, d route.Decision, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	key := route.Key(sessionID, normalized)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && m.maxEntries > 0 && len(m.entries) >= m.maxEntries {
		m.shrinkLocked(now)
	}
	m.entries[key] = entry{decision: d, expiresAt: now.Add(ttl)}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet
// evicted.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// shrinkLocked drops expired entries, then the soonest-to-expire live
// entries until the map holds at most lowWater(maxEntries) keys. Shrinking
// below the cap keeps the full scan off most Puts.
func (m *Memory) shrinkLocked(now time.Time) {
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
		}
	}

	target := lowWater(m.maxEntries)
	excess := len(m.entries) - target
	if excess <= 0 {
		return
	}
	type aged struct {
		key       string
		expiresAt time.Time
	}
	all := make([]aged, 0, len(m.entries))
	for k, e := range m.entries {
		all = append(all, aged{k, e.expiresAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].expiresAt.Before(all[j].expiresAt) })
	for _, a := range all[:excess] {
		delete(m.entries, a.key)
	}
}

// lowWater is the size a full cache shrinks to: 90% of max, leaving room
// for at least one new key.
func lowWater(limit int) int {
	return min(limit*9/10, limit-1)
}

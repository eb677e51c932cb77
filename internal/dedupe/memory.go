package dedupe

import (
	"context"
	"sync"
	"time"
)

// Compile-time check that MemoryGuard implements Guard.
var _ Guard = (*MemoryGuard)(nil)

type memoryEntry struct {
	marker    string
	expiresAt time.Time
}

// MemoryGuard is an in-process Guard for tests and single-node development
// runs. Expiry is evaluated lazily on access.
type MemoryGuard struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryGuard creates an empty in-memory dedupe guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// live returns the entry for key if present and unexpired, pruning it
// otherwise. Caller must hold mu.
func (g *MemoryGuard) live(key string) (memoryEntry, bool) {
	entry, ok := g.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if g.now().After(entry.expiresAt) {
		delete(g.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

// IsDuplicate reports whether the key is locked or already processed.
func (g *MemoryGuard) IsDuplicate(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.live(key)
	return ok, nil
}

// MarkProcessing takes the lock if the key is absent.
func (g *MemoryGuard) MarkProcessing(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.live(key); ok {
		return false, nil
	}
	g.entries[key] = memoryEntry{marker: markerProcessing, expiresAt: g.now().Add(ttl)}
	return true, nil
}

// MarkProcessed replaces the lock with the processed marker.
func (g *MemoryGuard) MarkProcessed(ctx context.Context, key string, ttl time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[key] = memoryEntry{marker: markerProcessed, expiresAt: g.now().Add(ttl)}
	return nil
}

// UnmarkProcessing releases the lock without touching a processed marker.
func (g *MemoryGuard) UnmarkProcessing(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if entry, ok := g.live(key); ok && entry.marker == markerProcessing {
		delete(g.entries, key)
	}
	return nil
}

package models

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MergeChain is a persistent map secondary_id -> primary_id (spec §3.5). It
// is read-followed transitively at every Person lookup, and is the durable
// record of every merge ever performed: entries are never deleted, even
// when a later split reverses the effect for new observations.
type MergeChain struct {
	mu      sync.RWMutex
	forward map[uuid.UUID]uuid.UUID
	logger  *zap.Logger
}

// NewMergeChain returns an empty chain. logger may be nil.
func NewMergeChain(logger *zap.Logger) *MergeChain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MergeChain{forward: make(map[uuid.UUID]uuid.UUID), logger: logger}
}

// Record adds secondary -> primary to the chain.
func (c *MergeChain) Record(secondary, primary uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forward[secondary] = primary
}

// Resolve follows the chain transitively from id until it reaches an id
// with no further redirect. It is cycle-guarded: if following the chain
// revisits an id already seen in this call, a single log line is emitted
// and the first id visited (the original argument) is returned so the rest
// of the system keeps functioning (spec §9 design note).
func (c *MergeChain) Resolve(id uuid.UUID) uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	current := id
	seen := map[uuid.UUID]bool{current: true}
	for {
		next, ok := c.forward[current]
		if !ok {
			return current
		}
		if seen[next] {
			c.logger.Warn("merge chain cycle detected", zap.String("start", id.String()), zap.String("at", next.String()))
			return id
		}
		seen[next] = true
		current = next
	}
}

// IsRedirected reports whether id has any outgoing entry in the chain.
func (c *MergeChain) IsRedirected(id uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.forward[id]
	return ok
}

// Secondaries returns every id that currently (transitively) resolves to
// primary, used when rehydrating counts onto a merge target.
func (c *MergeChain) Secondaries(primary uuid.UUID) []uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []uuid.UUID
	for secondary := range c.forward {
		if c.resolveLocked(secondary) == primary {
			out = append(out, secondary)
		}
	}
	return out
}

func (c *MergeChain) resolveLocked(id uuid.UUID) uuid.UUID {
	current := id
	seen := map[uuid.UUID]bool{current: true}
	for {
		next, ok := c.forward[current]
		if !ok {
			return current
		}
		if seen[next] {
			return id
		}
		seen[next] = true
		current = next
	}
}

// Snapshot returns a copy of the forward map, for persistence.
func (c *MergeChain) Snapshot() map[uuid.UUID]uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[uuid.UUID]uuid.UUID, len(c.forward))
	for k, v := range c.forward {
		out[k] = v
	}
	return out
}

// LoadSnapshot replaces the chain's contents with snapshot.
func (c *MergeChain) LoadSnapshot(snapshot map[uuid.UUID]uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forward = make(map[uuid.UUID]uuid.UUID, len(snapshot))
	for k, v := range snapshot {
		c.forward[k] = v
	}
}

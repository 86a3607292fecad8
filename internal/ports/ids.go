package ports

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator mints identifiers for orders, trades, events, evaluation
// records, and trace ids. kind names the entity the id is for ("order",
// "trade", "event", "evaluation_record", "trace") so a deterministic
// generator can keep one counter per kind.
type IDGenerator interface {
	NewID(kind string) string
}

// UUIDGenerator is the production IDGenerator: every id is a fresh
// crypto/rand-backed UUID, via google/uuid. Fine for the live engine,
// wrong for simulation replay, which needs the same inputs to produce the
// same ids run after run.
type UUIDGenerator struct{}

// NewID returns a new random UUID regardless of kind.
func (UUIDGenerator) NewID(_ string) string { return uuid.NewString() }

// SequentialIDGenerator deterministically derives ids from a seed and a
// per-kind counter. Two SequentialIDGenerators constructed with the same
// seed and driven through the same sequence of NewID calls produce
// identical ids, which is what lets the simulation engine promise
// bit-identical output across repeated runs of the same config.
type SequentialIDGenerator struct {
	seed string

	mu     sync.Mutex
	counts map[string]int
}

// NewSequentialIDGenerator constructs a SequentialIDGenerator rooted at
// seed (typically the simulated position id).
func NewSequentialIDGenerator(seed string) *SequentialIDGenerator {
	return &SequentialIDGenerator{seed: seed, counts: make(map[string]int)}
}

// NewID returns "sim-<seed>-<kind>-<n>" where n is the number of prior
// calls for that kind, starting at 0.
func (g *SequentialIDGenerator) NewID(kind string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.counts[kind]
	g.counts[kind] = n + 1
	return fmt.Sprintf("sim-%s-%s-%d", g.seed, kind, n)
}

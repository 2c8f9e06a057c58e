package testutil

import (
	"fmt"
	"sync"
)

// FixedIDGenerator hands out predictable cluster IDs.
//
// The first ID is the configured prefix itself; later IDs append a counter so
// concurrent clusters in one test still own units under distinct IDs.
//
// Thread-safety: safe for concurrent use.
type FixedIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewFixedIDGenerator creates a generator. An empty prefix becomes "test-cluster".
func NewFixedIDGenerator(prefix string) *FixedIDGenerator {
	if prefix == "" {
		prefix = "test-cluster"
	}
	return &FixedIDGenerator{prefix: prefix}
}

// Generate returns the next ID.
func (g *FixedIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	if g.n == 1 {
		return g.prefix
	}
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

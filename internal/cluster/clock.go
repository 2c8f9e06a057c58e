package cluster

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Sequencer stamps vertices with a strictly increasing visit sequence.
// The topological sort breaks ties and cycles by this order, so a
// deterministic sequencer yields deterministic output.
type Sequencer interface {
	Next() int64
}

// Clock is the default Sequencer: a monotonic logical clock.
//
// Thread-safety: safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// IDGenerator produces cluster IDs. The ID is the ownership token units
// carry while a cluster decides their fate.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 cluster IDs.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

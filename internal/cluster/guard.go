package cluster

import "fmt"

// loopGuard caps the iterations of one exploration loop within a tick.
//
// The exploration loops terminate on any finite graph because every
// (vertex, slot) completes once. A guard trip therefore means a bug
// (work being re-enqueued forever), not a large graph, and is fatal.
type loopGuard struct {
	loop    string
	limit   func() int
	current int
}

func newLoopGuard(loop string, limit func() int) *loopGuard {
	return &loopGuard{loop: loop, limit: limit}
}

// Check increments the counter and validates against the current limit.
// The limit is re-read on every call since it grows with the vertex count.
func (g *loopGuard) Check() error {
	g.current++
	if limit := g.limit(); g.current > limit {
		return &LoopOverrunError{
			Loop:  g.loop,
			Count: g.current,
			Limit: limit,
		}
	}
	return nil
}

// Reset starts a new tick.
func (g *loopGuard) Reset() {
	g.current = 0
}

// Current returns the count for diagnostics.
func (g *loopGuard) Current() int {
	return g.current
}

// LoopOverrunError is returned when an exploration loop exceeds its cap.
type LoopOverrunError struct {
	Loop  string // Which loop tripped: "results", "visit" or "cycle"
	Count int    // Iterations taken
	Limit int    // Maximum allowed iterations
}

// Error implements the error interface.
func (e *LoopOverrunError) Error() string {
	return fmt.Sprintf("%s loop exceeded iteration cap: %d > %d", e.Loop, e.Count, e.Limit)
}

package cluster

import (
	"sync"
	"time"
)

// exchange is the only state shared between the scheduler goroutine and
// async fetch workers: the results queue, the fetch batch pool and the set
// of batches in flight. A single mutex guards all of it.
//
// The signal channel is buffered with size 1 so multiple completions
// coalesce into one wake-up of the scheduler.
type exchange struct {
	mu       sync.Mutex
	results  []*Vertex
	free     []*fetchBatch
	inflight map[*fetchBatch]struct{}
	nextID   uint64
	signal   chan struct{}
}

func newExchange() *exchange {
	return &exchange{
		results:  make([]*Vertex, 0, 64),
		inflight: make(map[*fetchBatch]struct{}),
		signal:   make(chan struct{}, 1),
	}
}

func (x *exchange) notify() {
	select {
	case x.signal <- struct{}{}:
	default:
	}
}

// push enqueues a vertex whose slot completed.
// Thread-safe: called from worker goroutines.
func (x *exchange) push(v *Vertex) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.results = append(x.results, v)
	x.notify()
}

// drain removes and returns every queued vertex in completion order.
// Duplicates are possible when several slots of a vertex completed.
func (x *exchange) drain() []*Vertex {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.results) == 0 {
		return nil
	}
	out := x.results
	x.results = make([]*Vertex, 0, cap(out))
	return out
}

// queued returns the number of vertices waiting to be drained.
func (x *exchange) queued() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.results)
}

// acquire takes a batch from the pool, allocating if the pool is empty.
func (x *exchange) acquire() *fetchBatch {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.nextID++
	if n := len(x.free); n > 0 {
		b := x.free[n-1]
		x.free[n-1] = nil
		x.free = x.free[:n-1]
		b.id = x.nextID
		return b
	}
	return &fetchBatch{id: x.nextID}
}

// dispatched records a batch as in flight.
func (x *exchange) dispatched(b *fetchBatch, now time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()
	b.dispatchedAt = now
	b.warnedAt = time.Time{}
	x.inflight[b] = struct{}{}
}

// release returns a finished batch to the pool and wakes the scheduler.
// Thread-safe: called from worker goroutines.
func (x *exchange) release(b *fetchBatch) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.inflight, b)
	b.reset()
	x.free = append(x.free, b)
	x.notify()
}

// inFlight returns the number of batches dispatched and not yet finished.
func (x *exchange) inFlight() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.inflight)
}

// pooled returns the number of idle batches in the pool.
func (x *exchange) pooled() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.free)
}

// stallReport describes a batch in flight longer than the stall timeout.
type stallReport struct {
	id      uint64
	size    int
	pending int32
	age     time.Duration
}

// stalled returns batches in flight longer than timeout that were not
// reported within the last timeout period, and marks them reported.
func (x *exchange) stalled(now time.Time, timeout time.Duration) []stallReport {
	x.mu.Lock()
	defer x.mu.Unlock()

	var out []stallReport
	for b := range x.inflight {
		if now.Sub(b.dispatchedAt) < timeout {
			continue
		}
		if !b.warnedAt.IsZero() && now.Sub(b.warnedAt) < timeout {
			continue
		}
		b.warnedAt = now
		out = append(out, stallReport{
			id:      b.id,
			size:    len(b.requests),
			pending: b.pending.Load(),
			age:     now.Sub(b.dispatchedAt),
		})
	}
	return out
}

// Wait returns a channel that signals when results or finished batches
// may be available.
func (x *exchange) Wait() <-chan struct{} {
	return x.signal
}

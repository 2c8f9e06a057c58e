package cluster

import (
	"fmt"
	"sync/atomic"

	"github.com/roach88/kiln/internal/unit"
)

// Fetch slots. Session platform i lives at slot platformSlotBase+i.
const (
	// SlotAgnostic carries platform-independent dependency metadata.
	SlotAgnostic = 0
	// SlotBuildTime tracks units loaded while building other units.
	SlotBuildTime = 1

	platformSlotBase = 2
)

// PlatformSlot returns the fetch slot of a session platform index.
func PlatformSlot(platform int) int {
	return platformSlotBase + platform
}

func slotKind(slot int) string {
	switch slot {
	case SlotAgnostic:
		return "agnostic"
	case SlotBuildTime:
		return "build-time"
	default:
		return "platform"
	}
}

// FetchStatus is the async-fetch state of one vertex slot.
type FetchStatus int32

const (
	NotRequested FetchStatus = iota
	// SchedulerRequested means the slot waits in the pre-batch queue.
	SchedulerRequested
	// AsyncRequested means the slot's batch was shipped to a worker.
	AsyncRequested
	// Complete means the slot's data is available to the scheduler.
	Complete
)

// String returns the status name.
func (s FetchStatus) String() string {
	switch s {
	case NotRequested:
		return "not-requested"
	case SchedulerRequested:
		return "scheduler-requested"
	case AsyncRequested:
		return "async-requested"
	case Complete:
		return "complete"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// QueryPlatformData is a vertex's working state for one fetch slot.
//
// The status is written from both the scheduler and async workers and only
// ever increases. The attachment is written by a worker before the status
// becomes Complete; every other field is scheduler-only.
type QueryPlatformData struct {
	status atomic.Int32

	attachment *unit.Attachment

	reachable       bool
	visited         bool
	explored        bool
	wantVerdict     bool
	verdictDone     bool
	resolvedByCycle bool
	listening       map[string]bool
}

// Status returns the fetch status.
func (q *QueryPlatformData) Status() FetchStatus {
	return FetchStatus(q.status.Load())
}

// advance moves the status forward. Returns false if the slot is already
// at or past the target.
func (q *QueryPlatformData) advance(to FetchStatus) bool {
	for {
		cur := q.status.Load()
		if int32(to) <= cur {
			return false
		}
		if q.status.CompareAndSwap(cur, int32(to)) {
			return true
		}
	}
}

// inFlight reports whether the slot was requested and has not completed.
func (q *QueryPlatformData) inFlight() bool {
	s := q.Status()
	return s == SchedulerRequested || s == AsyncRequested
}

// Attachment returns the fetched prior-build attachment, or nil.
func (q *QueryPlatformData) Attachment() *unit.Attachment {
	if q.Status() != Complete {
		return nil
	}
	return q.attachment
}

// Reachable reports whether this cluster must consider the slot.
func (q *QueryPlatformData) Reachable() bool {
	return q.reachable
}

// Explored reports whether the slot's edges were walked.
func (q *QueryPlatformData) Explored() bool {
	return q.explored
}

// ResolvedByCycle reports whether the verdict was forced by cycle resolution.
func (q *QueryPlatformData) ResolvedByCycle() bool {
	return q.resolvedByCycle
}

// Vertex is a cluster's working record for one unit.
//
// A vertex whose name did not resolve is kept so repeated references do
// not repeat the lookup.
type Vertex struct {
	unit  *unit.Unit
	seq   int64
	slots []QueryPlatformData

	owned          bool
	suppress       unit.SuppressReason
	suppressCached bool

	// Written by a worker before SlotAgnostic completes.
	deps map[unit.DependencyCategory][]string

	listeners         [][]*Vertex
	queued            bool
	awaitingGenerator bool
	expanded          bool
}

func newVertex(u *unit.Unit, seq int64, platforms int) *Vertex {
	return &Vertex{
		unit:      u,
		seq:       seq,
		slots:     make([]QueryPlatformData, platformSlotBase+platforms),
		listeners: make([][]*Vertex, platforms),
	}
}

// Name returns the unit name.
func (v *Vertex) Name() string {
	return v.unit.Name()
}

// Unit returns the underlying content unit.
func (v *Vertex) Unit() *unit.Unit {
	return v.unit
}

// Seq returns the visit order stamp.
func (v *Vertex) Seq() int64 {
	return v.seq
}

// Owned reports whether this cluster decides the unit's fate.
func (v *Vertex) Owned() bool {
	return v.owned
}

// SuppressReason returns the cached classification reason.
func (v *Vertex) SuppressReason() unit.SuppressReason {
	return v.suppress
}

// Slot returns the data for a fetch slot.
func (v *Vertex) Slot(slot int) *QueryPlatformData {
	return &v.slots[slot]
}

// Platform returns the data for a session platform index.
func (v *Vertex) Platform(platform int) *QueryPlatformData {
	return &v.slots[PlatformSlot(platform)]
}

// Dependencies returns the fetched dependencies of a category.
func (v *Vertex) Dependencies(category unit.DependencyCategory) []string {
	if v.slots[SlotAgnostic].Status() != Complete {
		return nil
	}
	return v.deps[category]
}

// numPlatforms returns the number of session platforms.
func (v *Vertex) numPlatforms() int {
	return len(v.slots) - platformSlotBase
}

// waiting reports whether any slot is still being fetched.
func (v *Vertex) waiting() bool {
	for i := range v.slots {
		if v.slots[i].inFlight() {
			return true
		}
	}
	return false
}

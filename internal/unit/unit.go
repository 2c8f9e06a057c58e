package unit

import "fmt"

// State is the scheduler stage a unit currently sits in.
type State int

const (
	StateIdle State = iota
	// StatePendingRequest means a request cluster owns the unit's fate.
	StatePendingRequest
	// StateQueued means a cluster handed the unit to the build stage.
	StateQueued
	// StateDone means the unit finished building this session.
	StateDone
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePendingRequest:
		return "pending-request"
	case StateQueued:
		return "queued"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Unit is a uniquely named buildable thing.
//
// Fields are mutated only from the scheduler goroutine; the Registry lock
// guards lookup and state transitions.
type Unit struct {
	name      string
	resolved  bool
	exists    bool
	desc      Descriptor
	generator string
	records   []PlatformRecord

	state  State
	owner  string
	urgent bool
}

// Name returns the unit's identity.
func (u *Unit) Name() string {
	return u.name
}

// Resolved reports whether Resolve has been called.
func (u *Unit) Resolved() bool {
	return u.resolved
}

// Exists reports whether the unit resolved to real content.
func (u *Unit) Exists() bool {
	return u.exists
}

// Descriptor returns the metadata captured at resolution.
func (u *Unit) Descriptor() Descriptor {
	return u.desc
}

// Type returns the declared type, empty if unknown.
func (u *Unit) Type() string {
	return u.desc.Type
}

// IsScript reports whether the unit is a script/virtual unit.
func (u *Unit) IsScript() bool {
	return u.desc.Script
}

// IsGenerated reports whether a generator owns this unit.
func (u *Unit) IsGenerated() bool {
	return u.generator != ""
}

// Generator returns the owning generator name for generated units.
func (u *Unit) Generator() string {
	return u.generator
}

// Record returns the record for a session platform index.
func (u *Unit) Record(platform int) *PlatformRecord {
	return &u.records[platform]
}

// NumPlatforms returns the number of session platforms.
func (u *Unit) NumPlatforms() int {
	return len(u.records)
}

// Urgent reports whether any request elevated this unit.
func (u *Unit) Urgent() bool {
	return u.urgent
}

// SetUrgent elevates the unit's scheduling priority.
func (u *Unit) SetUrgent() {
	u.urgent = true
}

// State returns the scheduler stage.
func (u *Unit) State() State {
	return u.state
}

// Owner returns the cluster that owns the unit, if any.
func (u *Unit) Owner() string {
	return u.owner
}

// Resolve records the metadata lookup result.
func (u *Unit) Resolve(desc Descriptor, exists bool) {
	u.resolved = true
	u.exists = exists
	u.desc = desc
}

// ResolveGenerated marks the unit as generated by the named generator.
func (u *Unit) ResolveGenerated(generator, contentHash string) {
	u.resolved = true
	u.exists = true
	u.generator = generator
	u.desc = Descriptor{Type: "generated", ContentHash: contentHash}
}

package unit

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry is the session arena of units, indexed by name.
//
// Units are never removed. The registry also serializes ownership changes so
// exactly one cluster is responsible for a unit's fate at a time.
type Registry struct {
	mu        sync.RWMutex
	platforms []string
	units     map[string]*Unit
}

// NewRegistry creates an empty registry for the given session platforms.
func NewRegistry(platforms []string) *Registry {
	p := make([]string, len(platforms))
	copy(p, platforms)
	return &Registry{
		platforms: p,
		units:     make(map[string]*Unit),
	}
}

// Platforms returns the session platform names in index order.
func (r *Registry) Platforms() []string {
	return r.platforms
}

// PlatformIndex returns the index of a platform name.
func (r *Registry) PlatformIndex(name string) (int, bool) {
	for i, p := range r.platforms {
		if p == name {
			return i, true
		}
	}
	return -1, false
}

// Find returns the unit with the given name, or nil.
func (r *Registry) Find(name string) *Unit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.units[name]
}

// FindOrCreate returns the named unit, creating an unresolved one if needed.
// The second result is true if the unit was created.
func (r *Registry) FindOrCreate(name string) (*Unit, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.units[name]; ok {
		return u, false
	}
	u := &Unit{
		name:    name,
		records: make([]PlatformRecord, len(r.platforms)),
	}
	r.units[name] = u
	return u, true
}

// Len returns the number of units.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.units)
}

// Names returns all unit names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.units))
	for name := range r.units {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Steal takes ownership of u for the cluster, wherever it currently is, and
// stages it in the pending-request state.
func (r *Registry) Steal(u *Unit, clusterID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u.owner != "" && u.owner != clusterID {
		slog.Debug("unit ownership stolen",
			"unit", u.name,
			"from", u.owner,
			"to", clusterID,
			"state", u.state.String())
	}
	u.owner = clusterID
	u.state = StatePendingRequest
}

// TryClaim takes ownership only if the unit is idle.
func (r *Registry) TryClaim(u *Unit, clusterID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u.owner == clusterID {
		return true
	}
	if u.state != StateIdle {
		return false
	}
	u.owner = clusterID
	u.state = StatePendingRequest
	return true
}

// Transition moves an owned unit to a new state.
// Returns false if the cluster does not own the unit.
func (r *Registry) Transition(u *Unit, clusterID string, to State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u.owner != clusterID {
		return false
	}
	u.state = to
	if to == StateIdle || to == StateDone {
		u.owner = ""
	}
	return true
}

// ReleaseAll returns every unit owned by the cluster and still pending to idle.
func (r *Registry) ReleaseAll(clusterID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	released := 0
	for _, u := range r.units {
		if u.owner == clusterID && u.state == StatePendingRequest {
			u.owner = ""
			u.state = StateIdle
			released++
		}
	}
	return released
}

package generation

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/kiln/internal/splitter"
)

// maxCollectPasses bounds retry passes within one CollectGarbage call.
const maxCollectPasses = 3

// Manager is the arena of generation helpers for a session, keyed by
// generator name. It also tracks residency: units pinned in memory by
// populate results or by external holders.
type Manager struct {
	splitters *splitter.Registry
	lookup    Lookup
	platforms []string

	mu       sync.Mutex
	helpers  map[string]*Helper
	resident map[string]int
}

// NewManager creates a manager for the session platforms.
func NewManager(splitters *splitter.Registry, lookup Lookup, platforms []string) *Manager {
	p := make([]string, len(platforms))
	copy(p, platforms)
	return &Manager{
		splitters: splitters,
		lookup:    lookup,
		platforms: p,
		helpers:   make(map[string]*Helper),
		resident:  make(map[string]int),
	}
}

// Platforms returns the session platforms.
func (m *Manager) Platforms() []string {
	return m.platforms
}

// IsGeneratorType reports whether a splitter is registered for the unit type.
func (m *Manager) IsGeneratorType(unitType string) bool {
	return m.splitters.Has(unitType)
}

// FindOrCreate returns the live helper for the generator, creating one if needed.
func (m *Manager) FindOrCreate(owner Owner) *Helper {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.helpers[owner.Name]; ok {
		return h
	}
	h := newHelper(owner, m)
	m.helpers[owner.Name] = h
	return h
}

// Find returns the live helper for the generator, or nil.
func (m *Manager) Find(name string) *Helper {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.helpers[name]
}

// Len returns the number of live helpers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.helpers)
}

func (m *Manager) remove(h *Helper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.helpers[h.owner.Name] == h {
		delete(m.helpers, h.owner.Name)
	}
}

// Helpers returns the live helpers sorted by generator name.
func (m *Manager) Helpers() []*Helper {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.helpers))
	for name := range m.helpers {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Helper, len(names))
	for i, name := range names {
		out[i] = m.helpers[name]
	}
	return out
}

// Pin marks a unit resident.
func (m *Manager) Pin(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resident[name]++
}

// Unpin releases one residency pin.
func (m *Manager) Unpin(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resident[name] <= 1 {
		delete(m.resident, name)
		return
	}
	m.resident[name]--
}

// IsResident reports whether anything still pins the unit.
func (m *Manager) IsResident(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resident[name] > 0
}

// GCReport summarizes one CollectGarbage call.
type GCReport struct {
	Passes    int
	Demoted   []string
	Destroyed []string
}

// CollectGarbage runs a collection cycle: every helper's pre-collection hook,
// destruction of collectable helpers, then the post-collection verification.
// A helper that asks for a retry triggers another pass, up to a fixed budget.
// A full collection also demotes units held by splitters that keep their own
// references; a helper asking for a full retry escalates the remaining passes.
func (m *Manager) CollectGarbage(full bool) GCReport {
	var report GCReport
	destroyed := make(map[string]bool)

	for pass := 0; pass < maxCollectPasses; pass++ {
		report.Passes++
		helpers := m.Helpers()

		for _, h := range helpers {
			report.Demoted = append(report.Demoted, h.PreGarbageCollect(full)...)
		}

		for _, h := range helpers {
			if h.Collectable() {
				h.destroy()
			}
		}

		retry := GCActionNone
		for _, h := range helpers {
			if action := h.PostGarbageCollect(m.IsResident); action > retry {
				retry = action
			}
		}

		for _, h := range helpers {
			if h.Destroyed() && !destroyed[h.owner.Name] {
				destroyed[h.owner.Name] = true
				report.Destroyed = append(report.Destroyed, h.owner.Name)
			}
		}
		if retry == GCActionNone {
			break
		}
		full = full || retry == GCActionRetryFull
		slog.Debug("retrying garbage collection",
			"pass", report.Passes,
			"full", full)
	}

	return report
}

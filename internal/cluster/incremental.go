package cluster

import (
	"log/slog"
	"sort"

	"github.com/roach88/kiln/internal/unit"
)

// computeIncremental decides whether the unit's prior build output for a
// platform can be reused. The verdict is unmodified when the prior content
// hash matches, the prior build committed, and every transitive build
// dependency is itself unmodified. Unknown dependencies suspend the decision
// until they resolve or a cycle resolution forces it.
func (s *GraphSearch) computeIncremental(v *Vertex, p int) {
	if !s.opts.incremental {
		return
	}
	qd := v.Platform(p)
	if qd.verdictDone {
		return
	}
	u := v.unit
	rec := u.Record(p)

	if known := rec.IncrementallyUnmodified(); known.Known() {
		s.finishVerdict(v, p, known == unit.True)
		return
	}
	if !u.Exists() {
		if qd.wantVerdict {
			slog.Warn("transitive build dependency on a missing unit",
				"cluster", s.clusterID,
				"unit", u.Name(),
				"platform", s.platforms[p])
		}
		s.setVerdict(v, p, false)
		return
	}
	if u.IsGenerated() && s.inheritsFromGenerator(v, p) {
		s.setVerdict(v, p, true)
		return
	}

	att := qd.Attachment()
	if !att.Succeeded() || att.ContentHash != u.Descriptor().ContentHash {
		s.setVerdict(v, p, false)
		return
	}
	s.evaluateDependencies(v, p)
}

// inheritsFromGenerator reports whether a generated unit takes its
// generator's unmodified verdict. A generator modified on any platform is
// treated as modified on all of them.
func (s *GraphSearch) inheritsFromGenerator(v *Vertex, p int) bool {
	g := s.vertices[v.unit.Generator()]
	if g == nil {
		return false
	}
	if g.unit.Record(p).IncrementallyUnmodified() != unit.True {
		return false
	}
	for q := range s.platforms {
		if g.unit.Record(q).IncrementallyUnmodified() == unit.False {
			return false
		}
	}
	return true
}

// evaluateDependencies checks the transitive build dependencies recorded by
// the prior build. It registers v as a listener on every dependency whose
// verdict is still unknown.
func (s *GraphSearch) evaluateDependencies(v *Vertex, p int) {
	qd := v.Platform(p)
	att := qd.Attachment()

	waiting := false
	for _, dep := range att.BuildDependencies {
		if dep == "" || dep == v.Name() {
			continue
		}
		dv := s.vertex(dep)
		switch dv.unit.Record(p).IncrementallyUnmodified() {
		case unit.False:
			s.setVerdict(v, p, false)
			return
		case unit.True:
			continue
		}
		if qd.resolvedByCycle {
			continue
		}
		waiting = true
		if qd.listening == nil {
			qd.listening = make(map[string]bool)
		}
		if !qd.listening[dep] {
			qd.listening[dep] = true
			dv.listeners[p] = append(dv.listeners[p], v)
			s.wantVerdict(dv, p)
		}
	}

	if waiting {
		s.pending[slotKey{v, p}] = struct{}{}
		return
	}
	s.setVerdict(v, p, true)
}

// setVerdict records a decided verdict on the session record and finishes it.
func (s *GraphSearch) setVerdict(v *Vertex, p int, unmodified bool) {
	rec := v.unit.Record(p)
	if !rec.SetIncrementallyUnmodified(unmodified) {
		unmodified = rec.IncrementallyUnmodified() == unit.True
	}
	s.finishVerdict(v, p, unmodified)

	if !unmodified && s.isGenerator(v) {
		for q := range s.platforms {
			if q == p || !v.unit.Record(q).SetIncrementallyUnmodified(false) {
				continue
			}
			if qd := v.Platform(q); qd.Status() == Complete && (qd.reachable || qd.wantVerdict) {
				s.finishVerdict(v, q, false)
			}
		}
	}
}

// finishVerdict closes the cluster-local decision and wakes listeners.
func (s *GraphSearch) finishVerdict(v *Vertex, p int, unmodified bool) {
	qd := v.Platform(p)
	if qd.verdictDone {
		return
	}
	qd.verdictDone = true
	delete(s.pending, slotKey{v, p})
	s.opts.metrics.verdict(unmodified)

	slog.Debug("incremental verdict",
		"cluster", s.clusterID,
		"unit", v.Name(),
		"platform", s.platforms[p],
		"unmodified", unmodified,
		"by_cycle", qd.resolvedByCycle)

	if unmodified && qd.explored {
		s.exploreRuntimeDependencies(v, p)
	}

	for _, l := range v.listeners[p] {
		s.reevaluate = append(s.reevaluate, slotKey{l, p})
	}
	v.listeners[p] = nil
}

// drainReevaluate re-checks listeners whose dependency just decided.
func (s *GraphSearch) drainReevaluate() {
	for len(s.reevaluate) > 0 {
		k := s.reevaluate[0]
		s.reevaluate = s.reevaluate[1:]
		if k.v.Platform(k.p).verdictDone {
			continue
		}
		s.evaluateDependencies(k.v, k.p)
	}
}

// resolveCycles breaks a stall of transitive build dependencies waiting on
// each other. With every queue empty and nothing in flight, no pending
// decision can be invalidated from outside the stuck set, so each one
// resolves with its unknown dependencies treated as unmodified.
func (s *GraphSearch) resolveCycles() {
	keys := make([]slotKey, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].v.seq != keys[j].v.seq {
			return keys[i].v.seq < keys[j].v.seq
		}
		return keys[i].p < keys[j].p
	})

	for _, k := range keys {
		k.v.Platform(k.p).resolvedByCycle = true
		slog.Debug("resolving transitive build dependency cycle",
			"cluster", s.clusterID,
			"unit", k.v.Name(),
			"platform", s.platforms[k.p])
	}
	for _, k := range keys {
		if !k.v.Platform(k.p).verdictDone {
			s.evaluateDependencies(k.v, k.p)
		}
	}
	s.drainReevaluate()
	s.opts.metrics.cycleResolved()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

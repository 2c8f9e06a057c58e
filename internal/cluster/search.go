package cluster

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/roach88/kiln/internal/generation"
	"github.com/roach88/kiln/internal/unit"
)

// edgeKind is a bitmask of the dependency kinds between two units.
type edgeKind uint8

const (
	hardEdge edgeKind = 1 << iota
	softEdge
)

// slotKey names one (vertex, session platform) incremental decision.
type slotKey struct {
	v *Vertex
	p int
}

// GraphSearch is the exploration engine of one cluster.
//
// Thread-safety: every method runs on the scheduler goroutine. Workers only
// touch the exchange and the slot data they were handed.
//
// INVARIANTS:
//   - a slot is requested at most once (status only increases)
//   - a vertex is explored only when none of its slots is in flight
//   - cookable/explorable are decided once per unit and platform
//   - every pending incremental decision is resolved before completion
type GraphSearch struct {
	clusterID string
	units     *unit.Registry
	source    MetadataSource
	policy    Policy
	opts      *options
	platforms []string

	vertices map[string]*Vertex
	order    []*Vertex
	graph    map[string]map[string]edgeKind

	urgent   []*Vertex
	toVisit  []*Vertex
	preBatch []*slotRequest

	pending    map[slotKey]struct{}
	reevaluate []slotKey
	awaiting   map[string]*Vertex
	dropped    []string
	helpers    map[string]*generation.Helper
	claimed    map[*Vertex]bool

	x        *exchange
	dispatch *dispatcher

	resultsGuard *loopGuard
	visitGuard   *loopGuard
	cycleGuard   *loopGuard
}

func newGraphSearch(clusterID string, cfg Config, opts *options) *GraphSearch {
	x := newExchange()
	s := &GraphSearch{
		clusterID: clusterID,
		units:     cfg.Units,
		source:    cfg.Source,
		policy:    cfg.Policy,
		opts:      opts,
		platforms: cfg.Units.Platforms(),
		vertices:  make(map[string]*Vertex),
		graph:     make(map[string]map[string]edgeKind),
		pending:   make(map[slotKey]struct{}),
		awaiting:  make(map[string]*Vertex),
		helpers:   make(map[string]*generation.Helper),
		claimed:   make(map[*Vertex]bool),
		x:         x,
	}
	s.dispatch = &dispatcher{
		clusterID: clusterID,
		source:    cfg.Source,
		fetcher:   cfg.Fetcher,
		platforms: s.platforms,
		x:         x,
		sem:       semaphore.NewWeighted(opts.maxBatches),
		metrics:   opts.metrics,
	}
	s.resultsGuard = newLoopGuard("results", s.loopLimit)
	s.visitGuard = newLoopGuard("visit", s.loopLimit)
	s.cycleGuard = newLoopGuard("cycle", s.cycleLimit)
	return s
}

// loopLimit is the per-tick cap of the results and visit loops.
func (s *GraphSearch) loopLimit() int {
	if s.opts.maxIterations > 0 {
		return s.opts.maxIterations
	}
	return 2*len(s.vertices)*(platformSlotBase+len(s.platforms)) + 2*s.opts.batchSize
}

// cycleLimit caps cycle-resolution rounds per tick.
func (s *GraphSearch) cycleLimit() int {
	if s.opts.maxIterations > 0 {
		return s.opts.maxIterations
	}
	return max(len(s.vertices), 1)
}

// Vertex returns the vertex for a unit name, or nil.
func (s *GraphSearch) Vertex(name string) *Vertex {
	return s.vertices[name]
}

// Len returns the number of vertices.
func (s *GraphSearch) Len() int {
	return len(s.vertices)
}

// Pending returns the number of incremental decisions waiting on others.
func (s *GraphSearch) Pending() int {
	return len(s.pending)
}

// vertex returns the vertex for name, creating it and its unit if needed.
func (s *GraphSearch) vertex(name string) *Vertex {
	if v, ok := s.vertices[name]; ok {
		return v
	}
	u, _ := s.units.FindOrCreate(name)
	v := newVertex(u, s.opts.sequencer.Next(), len(s.platforms))
	s.vertices[name] = v
	s.order = append(s.order, v)
	return v
}

// claim takes ownership of a discovered unit if no other cluster holds it.
func (s *GraphSearch) claim(v *Vertex) {
	if s.claimed[v] {
		return
	}
	s.claimed[v] = true
	v.owned = s.units.TryClaim(v.unit, s.clusterID)
	if !v.owned {
		slog.Debug("unit owned elsewhere, exploring without ownership",
			"cluster", s.clusterID,
			"unit", v.Name(),
			"owner", v.unit.Owner())
	}
}

// steal takes ownership of a requested unit unconditionally.
func (s *GraphSearch) steal(v *Vertex) {
	s.claimed[v] = true
	s.units.Steal(v.unit, s.clusterID)
	v.owned = true
}

func (s *GraphSearch) enqueueVisit(v *Vertex) {
	if v.queued {
		return
	}
	v.queued = true
	if v.unit.Urgent() {
		s.urgent = append(s.urgent, v)
		return
	}
	s.toVisit = append(s.toVisit, v)
}

func (s *GraphSearch) popVisit() *Vertex {
	if len(s.urgent) > 0 {
		v := s.urgent[0]
		s.urgent[0] = nil
		s.urgent = s.urgent[1:]
		return v
	}
	v := s.toVisit[0]
	s.toVisit[0] = nil
	s.toVisit = s.toVisit[1:]
	return v
}

// reach marks v reachable on a platform and schedules a visit.
func (s *GraphSearch) reach(v *Vertex, p int) {
	s.claim(v)
	qd := v.Platform(p)
	if qd.reachable {
		return
	}
	qd.reachable = true
	v.unit.Record(p).MarkReachable()
	s.enqueueVisit(v)
}

// reachBuildTime marks v as loaded while building another unit. Platforms
// where v was classified non-explorable are escalated to explorable.
func (s *GraphSearch) reachBuildTime(v *Vertex) {
	bt := v.Slot(SlotBuildTime)
	newly := !bt.reachable
	bt.reachable = true
	for p := range s.platforms {
		rec := v.unit.Record(p)
		if v.Platform(p).reachable && rec.Decided() && rec.OverrideExplorable() {
			slog.Debug("escalating unit to explorable through build-time load",
				"cluster", s.clusterID,
				"unit", v.Name(),
				"platform", s.platforms[p])
			newly = true
		}
	}
	if newly {
		s.enqueueVisit(v)
	}
}

// wantVerdict asks for v's incremental verdict on a platform without
// making v reachable.
func (s *GraphSearch) wantVerdict(v *Vertex, p int) {
	qd := v.Platform(p)
	if qd.wantVerdict {
		return
	}
	qd.wantVerdict = true
	s.enqueueVisit(v)
}

func (s *GraphSearch) addEdge(from *Vertex, to string, kind edgeKind) {
	if from.Name() == to {
		return
	}
	deps := s.graph[from.Name()]
	if deps == nil {
		deps = make(map[string]edgeKind)
		s.graph[from.Name()] = deps
	}
	deps[to] |= kind
}

// request moves a slot to SchedulerRequested and stages it for a batch.
func (s *GraphSearch) request(v *Vertex, slot int) {
	if v.slots[slot].advance(SchedulerRequested) {
		s.preBatch = append(s.preBatch, &slotRequest{vertex: v, slot: slot})
	}
}

// completeLocally finishes a slot that needs no fetch. A slot already
// requested is left to its batch.
func (s *GraphSearch) completeLocally(v *Vertex, slot int) {
	v.slots[slot].status.CompareAndSwap(int32(NotRequested), int32(Complete))
}

// resolve looks the unit up on first visit. Returns false while a generated
// unit waits for its generator to list it.
func (s *GraphSearch) resolve(v *Vertex) bool {
	u := v.unit
	if u.Resolved() {
		return true
	}
	if desc, ok := s.source.Describe(u.Name()); ok {
		u.Resolve(desc, true)
		return true
	}
	gen, ok := unit.GeneratorOf(u.Name())
	if !ok || s.opts.generators == nil {
		u.Resolve(unit.Descriptor{}, false)
		return true
	}

	gv := s.vertex(gen)
	if gv.expanded {
		u.Resolve(unit.Descriptor{}, false)
		return true
	}
	if !v.awaitingGenerator {
		v.awaitingGenerator = true
		s.awaiting[u.Name()] = v
		slog.Debug("generated unit waits for its generator",
			"cluster", s.clusterID,
			"unit", u.Name(),
			"generator", gen)
	}
	for p := range s.platforms {
		if v.Platform(p).reachable {
			s.reach(gv, p)
		}
	}
	return false
}

// resolveAwaiting gives up on generated units no generator listed.
func (s *GraphSearch) resolveAwaiting() {
	for _, name := range sortedKeys(s.awaiting) {
		v := s.awaiting[name]
		delete(s.awaiting, name)
		v.awaitingGenerator = false
		if !v.unit.Resolved() {
			v.unit.Resolve(unit.Descriptor{}, false)
		}
		s.enqueueVisit(v)
	}
}

func (s *GraphSearch) isGenerator(v *Vertex) bool {
	u := v.unit
	return s.opts.generators != nil && u.Exists() && !u.IsGenerated() &&
		s.opts.generators.IsGeneratorType(u.Type())
}

// visit classifies newly reachable platforms and requests the slots the
// vertex needs. If nothing is in flight it explores right away.
func (s *GraphSearch) visit(ctx context.Context, v *Vertex) {
	v.queued = false
	s.opts.metrics.visited()
	if !s.resolve(v) {
		return
	}
	u := v.unit

	if s.isGenerator(v) {
		for p := range s.platforms {
			if v.Platform(p).reachable {
				for q := range s.platforms {
					s.reach(v, q)
				}
				break
			}
		}
	}

	needAgnostic := false
	anyCookable := false
	for p := range s.platforms {
		qd := v.Platform(p)
		rec := u.Record(p)

		if qd.reachable {
			if !qd.visited {
				qd.visited = true
				rec.MarkVisited(s.clusterID)
				if !rec.Decided() {
					cls := s.policy.Classify(u)
					rec.Decide(cls.Cookable, cls.Explorable, cls.Reason)
				}
				if v.Slot(SlotBuildTime).reachable && u.Exists() {
					rec.OverrideExplorable()
				}
				if !v.suppressCached {
					v.suppress = rec.SuppressReason()
					v.suppressCached = true
				}
				slog.Debug("vertex visited",
					"cluster", s.clusterID,
					"unit", u.Name(),
					"platform", s.platforms[p],
					"cookable", rec.Cookable(),
					"explorable", rec.Explorable(),
					"reason", rec.SuppressReason().String())
			}
			anyCookable = anyCookable || rec.Cookable()
			if rec.Explorable() && u.Exists() {
				needAgnostic = true
			}
		}

		if !qd.reachable && !qd.wantVerdict {
			continue
		}
		needVerdict := s.opts.incremental && u.Exists() &&
			((qd.reachable && rec.Cookable()) || qd.wantVerdict) &&
			!rec.IncrementallyUnmodified().Known() &&
			!(u.IsGenerated() && s.inheritsFromGenerator(v, p))
		switch {
		case needVerdict:
			s.request(v, PlatformSlot(p))
		case (qd.reachable && rec.Cookable()) || qd.wantVerdict:
			s.completeLocally(v, PlatformSlot(p))
		}
	}

	bt := v.Slot(SlotBuildTime)
	if anyCookable {
		bt.reachable = true
	}
	if bt.reachable {
		s.completeLocally(v, SlotBuildTime)
		if u.Exists() {
			needAgnostic = true
		}
	}

	if needAgnostic {
		if u.IsGenerated() {
			s.completeLocally(v, SlotAgnostic)
		} else {
			s.request(v, SlotAgnostic)
		}
	}

	if !v.waiting() {
		s.explore(ctx, v)
	}
}

// explore decides incremental verdicts and walks edges for every slot whose
// data is complete. It is idempotent; repeated calls only do new work.
func (s *GraphSearch) explore(ctx context.Context, v *Vertex) {
	u := v.unit
	agnosticDone := v.slots[SlotAgnostic].Status() == Complete

	for p := range s.platforms {
		qd := v.Platform(p)
		rec := u.Record(p)
		if qd.Status() == Complete && !qd.verdictDone &&
			((qd.reachable && rec.Cookable()) || qd.wantVerdict) {
			s.computeIncremental(v, p)
		}
		if qd.reachable && !qd.explored && agnosticDone && u.Exists() && rec.Explorable() {
			qd.explored = true
			s.exploreEdges(v, p)
		}
	}

	bt := v.Slot(SlotBuildTime)
	if bt.reachable && !bt.explored && agnosticDone && u.Exists() {
		bt.explored = true
		for _, dep := range v.deps[unit.Build] {
			if dep != v.Name() {
				s.reachBuildTime(s.vertex(dep))
			}
		}
	}

	if !v.expanded && s.isGenerator(v) {
		for p := range v.numPlatforms() {
			if v.Platform(p).explored {
				s.expandGenerator(ctx, v)
				break
			}
		}
	}
}

// exploreEdges records hard and soft edges and reaches their targets.
func (s *GraphSearch) exploreEdges(v *Vertex, p int) {
	for _, dep := range v.deps[unit.Hard] {
		if dep == v.Name() {
			continue
		}
		s.addEdge(v, dep, hardEdge)
		s.reach(s.vertex(dep), p)
	}
	for _, dep := range v.deps[unit.Soft] {
		if dep == v.Name() {
			continue
		}
		s.addEdge(v, dep, softEdge)
		s.reach(s.vertex(dep), p)
	}
	if v.unit.Record(p).IncrementallyUnmodified() == unit.True {
		s.exploreRuntimeDependencies(v, p)
	}
}

// exploreRuntimeDependencies turns the prior build's runtime dependencies of
// an unmodified unit into soft edges, so content that loading the unit would
// have discovered is still explored.
func (s *GraphSearch) exploreRuntimeDependencies(v *Vertex, p int) {
	att := v.Platform(p).Attachment()
	if att == nil {
		return
	}
	for _, dep := range att.RuntimeDependencies {
		if dep == v.Name() {
			continue
		}
		s.addEdge(v, dep, softEdge)
		s.reach(s.vertex(dep), p)
	}
}

// shipBatches packs staged requests into batches of at most batchSize
// vertices and dispatches them while the concurrency bound allows.
func (s *GraphSearch) shipBatches(ctx context.Context) {
	batchCtx := context.WithoutCancel(ctx)
	for len(s.preBatch) > 0 {
		if !s.dispatch.sem.TryAcquire(1) {
			return
		}
		b := s.x.acquire()
		seen := make(map[*Vertex]bool)
		n := 0
		for n < len(s.preBatch) {
			r := s.preBatch[n]
			if !seen[r.vertex] {
				if len(seen) == s.opts.batchSize {
					break
				}
				seen[r.vertex] = true
			}
			b.requests = append(b.requests, r)
			s.opts.metrics.fetchRequested(slotKind(r.slot), 1)
			n++
		}
		b.vertices = len(seen)
		clear(s.preBatch[:n])
		s.preBatch = s.preBatch[n:]
		s.dispatch.ship(batchCtx, b)
	}
}

// TickExploration pumps the search until it completes, needs to wait for
// async fetches, or the deadline passes. Every call makes at least one pass
// over the queues. A zero deadline means no limit.
//
// Returns (true, nil) once every queue is empty, no batch is in flight and
// every incremental decision is resolved.
func (s *GraphSearch) TickExploration(ctx context.Context, deadline time.Time) (bool, error) {
	s.resultsGuard.Reset()
	s.visitGuard.Reset()
	s.cycleGuard.Reset()

	for {
		progressed := false

		for _, v := range s.x.drain() {
			if err := s.resultsGuard.Check(); err != nil {
				return false, err
			}
			progressed = true
			if !v.waiting() {
				s.explore(ctx, v)
			}
			s.drainReevaluate()
		}

		for len(s.urgent)+len(s.toVisit) > 0 {
			if err := s.visitGuard.Check(); err != nil {
				return false, err
			}
			progressed = true
			s.visit(ctx, s.popVisit())
			s.drainReevaluate()
		}

		s.shipBatches(ctx)
		if progressed {
			if !deadline.IsZero() && time.Now().After(deadline) {
				return false, nil
			}
			continue
		}
		if s.x.inFlight() > 0 || len(s.preBatch) > 0 {
			return false, nil
		}
		// Workers push before releasing their batch, so with nothing in
		// flight every result is already queued.
		if s.x.queued() > 0 {
			continue
		}
		if len(s.awaiting) > 0 {
			s.resolveAwaiting()
			continue
		}
		if len(s.pending) > 0 {
			if err := s.cycleGuard.Check(); err != nil {
				return false, err
			}
			s.resolveCycles()
			continue
		}
		return true, nil
	}
}

// drainInFlight blocks until every dispatched batch finished, so worker
// callbacks never outlive the cluster.
func (s *GraphSearch) drainInFlight(ctx context.Context, poll time.Duration) error {
	for s.x.inFlight() > 0 {
		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.x.Wait():
		case <-timer.C:
		}
		timer.Stop()
	}
	return nil
}

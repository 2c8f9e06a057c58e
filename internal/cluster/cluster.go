package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/kiln/internal/generation"
	"github.com/roach88/kiln/internal/unit"
)

// Config carries the collaborators a cluster works against.
type Config struct {
	// Units is the session registry. Its platforms are the session platforms.
	Units *unit.Registry

	// Source answers unit metadata and dependency lookups.
	Source MetadataSource

	// Fetcher loads prior-build attachments.
	Fetcher AttachmentFetcher

	// Policy decides which reachable units may be built.
	Policy Policy
}

func (c Config) validate() error {
	if c.Units == nil {
		return errors.New("cluster config: units registry is required")
	}
	if c.Source == nil {
		return errors.New("cluster config: metadata source is required")
	}
	if c.Fetcher == nil {
		return errors.New("cluster config: attachment fetcher is required")
	}
	return c.Policy.Validate()
}

// Request asks a cluster to build a unit.
type Request struct {
	// Name is the requested unit.
	Name string

	// Platforms limits the request to these session platforms.
	// Empty means every session platform.
	Platforms []string

	// Urgent moves the unit ahead of ordinary exploration.
	Urgent bool
}

// Phase is the lifecycle stage of a cluster.
type Phase int

const (
	PhaseConstructed Phase = iota
	PhaseExploring
	PhaseComplete
	PhaseExtracted
	PhaseClosed
	PhaseFailed
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseConstructed:
		return "constructed"
	case PhaseExploring:
		return "exploring"
	case PhaseComplete:
		return "complete"
	case PhaseExtracted:
		return "extracted"
	case PhaseClosed:
		return "closed"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Skip is a unit the cluster decided not to build.
type Skip struct {
	Name   string
	Reason unit.SuppressReason
}

// Results is the outcome of a completed cluster.
type Results struct {
	// ToBuild lists units to build, dependencies first.
	ToBuild []string

	// ToSkip lists owned reachable units that will not be built, in visit order.
	ToSkip []Skip

	// Graph maps every reachable unit to its sorted hard and soft dependencies.
	Graph map[string][]string
}

// Cluster gathers the units a set of requests needs, decides which of them
// to build and in what order.
//
// Lifecycle:
//
//	New -> Process (repeatedly, until it returns true) -> ExtractResults -> Close
//
// Thread-safety: a Cluster is driven from one goroutine. Async fetch workers
// communicate with it only through its results queue.
type Cluster struct {
	id       string
	cfg      Config
	opts     options
	requests []Request
	phase    Phase
	err      error
	search   *GraphSearch
	started  bool
}

// New constructs a cluster for the requests. Every requested unit is
// stolen into the cluster's ownership, whatever state it is in.
func New(cfg Config, requests []Request, opts ...Option) (*Cluster, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Cluster{
		id:       o.ids.Generate(),
		cfg:      cfg,
		opts:     o,
		requests: requests,
		phase:    PhaseConstructed,
	}
	c.search = newGraphSearch(c.id, cfg, &c.opts)

	for _, req := range requests {
		if req.Name == "" {
			return nil, errors.New("cluster request: unit name is required")
		}
		platforms, err := c.requestPlatforms(req)
		if err != nil {
			return nil, err
		}
		v := c.search.vertex(req.Name)
		c.search.steal(v)
		if req.Urgent {
			v.unit.SetUrgent()
		}
		for _, p := range platforms {
			qd := v.Platform(p)
			qd.reachable = true
			v.unit.Record(p).MarkReachable()
		}
	}

	slog.Info("cluster constructed",
		"cluster", c.id,
		"requests", len(requests),
		"platforms", len(cfg.Units.Platforms()),
		"incremental", o.incremental,
		"sort_mode", o.sortMode.String())
	return c, nil
}

func (c *Cluster) requestPlatforms(req Request) ([]int, error) {
	if len(req.Platforms) == 0 {
		all := make([]int, len(c.cfg.Units.Platforms()))
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	out := make([]int, 0, len(req.Platforms))
	for _, name := range req.Platforms {
		p, ok := c.cfg.Units.PlatformIndex(name)
		if !ok {
			return nil, fmt.Errorf("cluster request %s: unknown platform %q", req.Name, name)
		}
		out = append(out, p)
	}
	return out, nil
}

// ID returns the cluster's ownership token.
func (c *Cluster) ID() string {
	return c.id
}

// Phase returns the lifecycle stage.
func (c *Cluster) Phase() Phase {
	return c.phase
}

// Search exposes the exploration graph for inspection.
func (c *Cluster) Search() *GraphSearch {
	return c.search
}

// Process advances the cluster for at most budget. A budget of zero or less
// means no limit. Returns true once exploration is complete; calling it
// again afterwards is a no-op that returns true.
//
// A runaway loop is fatal: the error is returned from this and every later
// call. Context cancellation returns ctx.Err() and leaves the cluster
// resumable.
func (c *Cluster) Process(ctx context.Context, budget time.Duration) (bool, error) {
	switch c.phase {
	case PhaseFailed:
		return false, c.err
	case PhaseComplete, PhaseExtracted:
		return true, nil
	case PhaseClosed:
		return false, NewInvalidStateError(c.id, "process called on a closed cluster")
	}

	start := time.Now()
	defer func() {
		c.opts.metrics.processed(time.Since(start).Seconds())
	}()

	var deadline time.Time
	if budget > 0 {
		deadline = start.Add(budget)
	}

	if !c.started {
		c.started = true
		c.phase = PhaseExploring
		for _, req := range c.requests {
			c.search.enqueueVisit(c.search.vertex(req.Name))
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		done, err := c.search.TickExploration(ctx, deadline)
		if err != nil {
			return false, c.fail(err)
		}
		if done {
			c.complete()
			return true, nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return false, nil
		}

		for _, r := range c.search.x.stalled(time.Now(), c.opts.stallTimeout) {
			slog.Warn("fetch batch has been in flight a long time",
				"cluster", c.id,
				"batch", r.id,
				"requests", r.size,
				"pending", r.pending,
				"age", r.age,
				"in_flight", c.search.x.inFlight(),
				"pooled", c.search.x.pooled())
		}

		wait := c.opts.waitTimeout
		if !deadline.IsZero() {
			wait = min(wait, time.Until(deadline))
		}
		if err := c.wait(ctx, wait); err != nil {
			return false, err
		}
	}
}

func (c *Cluster) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.search.x.Wait():
	case <-timer.C:
	}
	return nil
}

func (c *Cluster) fail(err error) error {
	var overrun *LoopOverrunError
	if errors.As(err, &overrun) {
		err = NewRunawayError(c.id, overrun)
	}
	slog.Error("cluster failed",
		"cluster", c.id,
		"error", err)
	c.err = err
	c.phase = PhaseFailed
	return err
}

func (c *Cluster) complete() {
	c.search.startAsync()
	c.phase = PhaseComplete
	slog.Info("cluster exploration complete",
		"cluster", c.id,
		"vertices", c.search.Len(),
		"dropped", len(c.search.dropped))
}

// ExtractResults returns the units to build in dependency order and the
// units to skip. Owned units are moved to the queued state when they will
// be built and to done when skipped.
func (c *Cluster) ExtractResults() (*Results, error) {
	if c.phase != PhaseComplete {
		return nil, NewInvalidStateError(c.id,
			fmt.Sprintf("extract results requires a complete cluster, phase is %s", c.phase))
	}
	s := c.search

	var (
		reachable []*Vertex
		skips     []*Vertex
		build     = make(map[*Vertex]bool)
		reasons   = make(map[*Vertex]unit.SuppressReason)
	)
	for _, v := range s.order {
		if !c.platformReachable(v) {
			continue
		}
		reachable = append(reachable, v)
		if !v.owned {
			continue
		}
		if reason, skip := c.decide(v); skip {
			skips = append(skips, v)
			reasons[v] = reason
		} else {
			build[v] = true
		}
	}

	sorted := sortLeafFirst(c.id, reachable, s.graph)

	if c.opts.sortMode == SortModeStrict {
		for _, members := range findCycles(reachable, s.graph) {
			for _, name := range members {
				if v := s.vertices[name]; v != nil && build[v] {
					return nil, c.fail(NewLoadOrderCycleError(c.id, members))
				}
			}
		}
	}

	res := &Results{
		ToBuild: make([]string, 0, len(build)),
		ToSkip:  make([]Skip, 0, len(skips)),
		Graph:   make(map[string][]string, len(reachable)),
	}
	for _, v := range sorted {
		if build[v] {
			res.ToBuild = append(res.ToBuild, v.Name())
			s.units.Transition(v.unit, c.id, unit.StateQueued)
		}
	}

	sort.SliceStable(skips, func(i, j int) bool { return skips[i].seq < skips[j].seq })
	for _, v := range skips {
		res.ToSkip = append(res.ToSkip, Skip{Name: v.Name(), Reason: reasons[v]})
		s.units.Transition(v.unit, c.id, unit.StateDone)
	}
	for _, name := range s.dropped {
		if v := s.vertices[name]; v != nil && v.owned {
			continue
		}
		res.ToSkip = append(res.ToSkip, Skip{Name: name, Reason: unit.GeneratedDropped})
	}

	for _, v := range reachable {
		res.Graph[v.Name()] = sortedKeys(s.graph[v.Name()])
	}

	for _, name := range sortedKeys(s.helpers) {
		s.helpers[name].ClearKeep(generation.KeepForQueueResults)
	}

	c.phase = PhaseExtracted
	c.opts.metrics.extracted(len(res.ToBuild), len(res.ToSkip))
	slog.Info("cluster results extracted",
		"cluster", c.id,
		"to_build", len(res.ToBuild),
		"to_skip", len(res.ToSkip))
	return res, nil
}

func (c *Cluster) platformReachable(v *Vertex) bool {
	for p := range c.search.platforms {
		if v.Platform(p).reachable {
			return true
		}
	}
	return false
}

// decide returns whether an owned reachable vertex is skipped and why.
// A unit is built when some reachable platform is cookable and at least one
// of those platforms lacks an unmodified verdict.
func (c *Cluster) decide(v *Vertex) (unit.SuppressReason, bool) {
	anyCookable := false
	allUnmodified := true
	for p := range c.search.platforms {
		if !v.Platform(p).reachable {
			continue
		}
		rec := v.unit.Record(p)
		if !rec.Cookable() {
			continue
		}
		anyCookable = true
		if rec.IncrementallyUnmodified() != unit.True {
			allUnmodified = false
		}
	}
	switch {
	case !anyCookable:
		return v.suppress, true
	case c.opts.incremental && allUnmodified:
		return unit.IncrementallySkipped, true
	default:
		return unit.NotSuppressed, false
	}
}

// Close waits for fetches in flight and releases what the cluster holds.
// Units still pending in this cluster return to idle unless results were
// extracted.
func (c *Cluster) Close(ctx context.Context) error {
	if c.phase == PhaseClosed {
		return nil
	}
	if err := c.search.drainInFlight(ctx, c.opts.waitTimeout); err != nil {
		return err
	}
	c.search.releaseHelpers()
	if c.phase != PhaseExtracted {
		released := c.cfg.Units.ReleaseAll(c.id)
		slog.Debug("cluster released units",
			"cluster", c.id,
			"released", released)
	}
	c.phase = PhaseClosed
	return nil
}

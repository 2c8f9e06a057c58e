package cluster

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/kiln/internal/generation"
	"github.com/roach88/kiln/internal/unit"
)

// expandGenerator asks the generator's helper for its generated units and
// adds them to the graph. Each generated unit gets a hard edge to its
// generator and hard edges to its declared dependencies, and becomes
// reachable on every platform the generator is reachable on.
func (s *GraphSearch) expandGenerator(ctx context.Context, v *Vertex) {
	v.expanded = true
	u := v.unit

	h := s.opts.generators.FindOrCreate(generation.Owner{
		Name:        u.Name(),
		Type:        u.Type(),
		ContentHash: u.Descriptor().ContentHash,
	})
	if _, held := s.helpers[u.Name()]; !held {
		s.helpers[u.Name()] = h
		h.SetKeep(generation.KeepForIncremental)
	}

	infos, err := h.GenerateList(ctx)
	if err != nil {
		if errors.Is(err, generation.ErrNoSplitter) {
			slog.Debug("generator type has no applicable splitter",
				"cluster", s.clusterID,
				"generator", u.Name())
		} else {
			slog.Warn("generator expansion failed",
				"cluster", s.clusterID,
				"generator", u.Name(),
				"error", err)
		}
		s.releaseAwaiting(u.Name())
		return
	}

	listed := 0
	for _, info := range infos {
		if info.Dropped() {
			s.dropped = append(s.dropped, info.Name)
			continue
		}
		gv := s.vertex(info.Name)
		gu := gv.unit
		if !gu.Resolved() {
			gu.ResolveGenerated(u.Name(), info.PackageHash)
		} else if gu.Generator() != u.Name() {
			slog.Warn("generated unit name already resolved to other content",
				"cluster", s.clusterID,
				"generator", u.Name(),
				"unit", info.Name)
			continue
		}
		listed++

		gv.deps = map[unit.DependencyCategory][]string{unit.Hard: info.Dependencies}
		if gv.awaitingGenerator {
			gv.awaitingGenerator = false
			delete(s.awaiting, info.Name)
		}

		s.addEdge(gv, u.Name(), hardEdge)
		for p := range v.numPlatforms() {
			if v.Platform(p).reachable {
				s.reach(gv, p)
			}
		}
		s.enqueueVisit(gv)
	}

	slog.Debug("generator expanded",
		"cluster", s.clusterID,
		"generator", u.Name(),
		"generated", listed,
		"dropped", len(infos)-listed)
	s.releaseAwaiting(u.Name())
}

// releaseAwaiting resolves units that waited on a generator which did not
// list them.
func (s *GraphSearch) releaseAwaiting(generator string) {
	for _, name := range sortedKeys(s.awaiting) {
		if gen, _ := unit.GeneratorOf(name); gen != generator {
			continue
		}
		av := s.awaiting[name]
		delete(s.awaiting, name)
		av.awaitingGenerator = false
		if !av.unit.Resolved() {
			av.unit.Resolve(unit.Descriptor{}, false)
		}
		s.enqueueVisit(av)
	}
}

// startAsync hands generator helpers over from exploration to the queued
// results: queue results keep them alive until extraction.
func (s *GraphSearch) startAsync() {
	for _, name := range sortedKeys(s.helpers) {
		h := s.helpers[name]
		h.SetKeep(generation.KeepForQueueResults)
		h.ClearKeep(generation.KeepForIncremental)
	}
}

// releaseHelpers drops every keep flag this cluster holds.
func (s *GraphSearch) releaseHelpers() {
	for _, name := range sortedKeys(s.helpers) {
		s.helpers[name].ClearKeep(generation.KeepForIncremental | generation.KeepForQueueResults)
	}
	clear(s.helpers)
}

package cluster

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/roach88/kiln/internal/unit"
)

// MetadataSource answers what a unit is and what it depends on.
// GetDependencies is called concurrently from fetch workers.
type MetadataSource interface {
	Describe(name string) (unit.Descriptor, bool)
	GetDependencies(ctx context.Context, name string, category unit.DependencyCategory) ([]string, error)
}

// AttachmentFetcher is the storage fetch service for prior-build
// attachments. done must be called exactly once per requested name, from
// any goroutine, before or after FetchAttachments returns.
type AttachmentFetcher interface {
	FetchAttachments(ctx context.Context, names []string, platform string, done func(unit.AttachmentResult))
}

// slotRequest is one (vertex, slot) fetch inside a batch.
type slotRequest struct {
	vertex    *Vertex
	slot      int
	delivered atomic.Bool
}

// fetchBatch groups up to batchSize vertices fetched together. It returns
// itself to the pool when its last request completes.
type fetchBatch struct {
	id           uint64
	requests     []*slotRequest
	vertices     int
	pending      atomic.Int32
	dispatchedAt time.Time
	warnedAt     time.Time
}

func (b *fetchBatch) reset() {
	for i := range b.requests {
		b.requests[i] = nil
	}
	b.requests = b.requests[:0]
	b.vertices = 0
	b.pending.Store(0)
}

// dispatcher runs batches on worker goroutines.
type dispatcher struct {
	clusterID string
	source    MetadataSource
	fetcher   AttachmentFetcher
	platforms []string
	x         *exchange
	sem       *semaphore.Weighted
	metrics   *Metrics
}

// ship starts a batch on a worker. The caller holds a semaphore slot that
// the batch releases when its last request completes.
func (d *dispatcher) ship(ctx context.Context, b *fetchBatch) {
	b.pending.Store(int32(len(b.requests)))
	for _, r := range b.requests {
		r.vertex.slots[r.slot].advance(AsyncRequested)
	}
	d.x.dispatched(b, time.Now())
	d.metrics.batchDispatched(b.vertices)
	slog.Debug("fetch batch dispatched",
		"cluster", d.clusterID,
		"batch", b.id,
		"vertices", b.vertices,
		"requests", len(b.requests))

	go d.run(ctx, b)
}

func (d *dispatcher) run(ctx context.Context, b *fetchBatch) {
	byPlatform := make(map[int][]*slotRequest)
	for _, r := range b.requests {
		if r.slot == SlotAgnostic {
			d.fetchDependencies(ctx, r.vertex)
			d.complete(b, r)
			continue
		}
		p := r.slot - platformSlotBase
		byPlatform[p] = append(byPlatform[p], r)
	}

	platforms := make([]int, 0, len(byPlatform))
	for p := range byPlatform {
		platforms = append(platforms, p)
	}
	sort.Ints(platforms)

	for _, p := range platforms {
		reqs := byPlatform[p]
		names := make([]string, len(reqs))
		index := make(map[string]*slotRequest, len(reqs))
		for i, r := range reqs {
			names[i] = r.vertex.Name()
			index[names[i]] = r
		}
		platform := d.platforms[p]
		d.fetcher.FetchAttachments(ctx, names, platform, func(res unit.AttachmentResult) {
			d.deliver(b, index, platform, res)
		})
	}
}

// deliver handles one storage callback. Unknown and repeated names are ignored.
func (d *dispatcher) deliver(b *fetchBatch, index map[string]*slotRequest, platform string, res unit.AttachmentResult) {
	r, ok := index[res.Name]
	if !ok {
		slog.Warn("storage returned an attachment that was not requested",
			"cluster", d.clusterID,
			"unit", res.Name,
			"platform", platform)
		return
	}
	if !r.delivered.CompareAndSwap(false, true) {
		return
	}
	if res.Err != nil {
		d.metrics.fetchFailed(slotKind(r.slot))
		slog.Warn("attachment fetch failed, treating unit as never built",
			"error", NewFetchError(d.clusterID, res.Name, platform, res.Err))
	} else {
		r.vertex.slots[r.slot].attachment = res.Attachment
	}
	d.complete(b, r)
}

func (d *dispatcher) fetchDependencies(ctx context.Context, v *Vertex) {
	deps := make(map[unit.DependencyCategory][]string, len(unit.Categories))
	for _, category := range unit.Categories {
		names, err := d.source.GetDependencies(ctx, v.Name(), category)
		if err != nil {
			d.metrics.fetchFailed(slotKind(SlotAgnostic))
			slog.Warn("dependency lookup failed, treating as no dependencies",
				"cluster", d.clusterID,
				"unit", v.Name(),
				"category", category.String(),
				"error", err)
			continue
		}
		deps[category] = names
	}
	v.deps = deps
}

// complete publishes a finished slot to the scheduler.
func (d *dispatcher) complete(b *fetchBatch, r *slotRequest) {
	r.delivered.Store(true)
	r.vertex.slots[r.slot].advance(Complete)
	d.x.push(r.vertex)
	if b.pending.Add(-1) == 0 {
		d.sem.Release(1)
		d.metrics.batchFinished()
		d.x.release(b)
	}
}

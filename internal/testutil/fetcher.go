package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/kiln/internal/unit"
)

// MemoryFetcher is an in-memory storage fetch service that counts requests.
//
// With Async set, callbacks arrive on a separate goroutine after Delay,
// which exercises the cluster's results queue the way a remote store would.
//
// Thread-safety: safe for concurrent use.
type MemoryFetcher struct {
	Async bool
	Delay time.Duration

	mu          sync.Mutex
	attachments map[string]map[string]unit.Attachment
	fail        map[string]error
	calls       map[[2]string]int
	batches     int
	wg          sync.WaitGroup
}

// NewMemoryFetcher creates an empty fetcher.
func NewMemoryFetcher() *MemoryFetcher {
	return &MemoryFetcher{
		attachments: make(map[string]map[string]unit.Attachment),
		fail:        make(map[string]error),
		calls:       make(map[[2]string]int),
	}
}

// Put stores a prior-build attachment.
func (f *MemoryFetcher) Put(name, platform string, att unit.Attachment) *MemoryFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachments[platform] == nil {
		f.attachments[platform] = make(map[string]unit.Attachment)
	}
	f.attachments[platform][name] = att
	return f
}

// PutMatching stores a successful attachment whose hash equals the unit's
// current key, so the unit is unmodified unless a build dependency changed.
func (f *MemoryFetcher) PutMatching(src *MemorySource, name, platform string, buildDeps ...string) *MemoryFetcher {
	return f.Put(name, platform, unit.Attachment{
		ContentHash:       src.ContentHash(name),
		BuildDependencies: buildDeps,
		CommitStatus:      unit.CommitSuccess,
	})
}

// Fail makes every fetch of the unit report an error.
func (f *MemoryFetcher) Fail(name string, err error) *MemoryFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[name] = err
	return f
}

// FetchAttachments implements the storage fetch service.
func (f *MemoryFetcher) FetchAttachments(ctx context.Context, names []string, platform string, done func(unit.AttachmentResult)) {
	f.mu.Lock()
	f.batches++
	results := make([]unit.AttachmentResult, 0, len(names))
	for _, name := range names {
		f.calls[[2]string{name, platform}]++
		res := unit.AttachmentResult{Name: name}
		if err := f.fail[name]; err != nil {
			res.Err = err
		} else if att, ok := f.attachments[platform][name]; ok {
			cp := att
			res.Attachment = &cp
		}
		results = append(results, res)
	}
	async, delay := f.Async, f.Delay
	f.mu.Unlock()

	deliver := func() {
		if delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
		}
		for _, res := range results {
			done(res)
		}
	}

	if !async {
		deliver()
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		deliver()
	}()
}

// Calls returns how many times a unit was requested for a platform.
func (f *MemoryFetcher) Calls(name, platform string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[[2]string{name, platform}]
}

// MaxCalls returns the highest request count over all (unit, platform) pairs.
func (f *MemoryFetcher) MaxCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	highest := 0
	for _, n := range f.calls {
		highest = max(highest, n)
	}
	return highest
}

// Batches returns the number of FetchAttachments calls.
func (f *MemoryFetcher) Batches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches
}

// Wait blocks until every async delivery finished.
func (f *MemoryFetcher) Wait() {
	f.wg.Wait()
}

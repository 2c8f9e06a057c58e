package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kiln/internal/unit"
)

func TestDeterministicClock_NextAndReset(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, int64(0), clock.Current())
	assert.Equal(t, int64(1), clock.Next())
	assert.Equal(t, int64(2), clock.Next())

	clock.Reset()
	assert.Equal(t, int64(1), clock.Next())
}

// TestDeterministicClock_Concurrent checks no sequence number is issued twice.
func TestDeterministicClock_Concurrent(t *testing.T) {
	clock := NewDeterministicClock()
	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, dup := seen.LoadOrStore(clock.Next(), true)
			assert.False(t, dup)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), clock.Current())
}

func TestFixedIDGenerator_Sequence(t *testing.T) {
	gen := NewFixedIDGenerator("")
	assert.Equal(t, "test-cluster", gen.Generate())
	assert.Equal(t, "test-cluster-2", gen.Generate())
}

// TestMemorySource_Dependencies checks categories are kept apart and counted.
func TestMemorySource_Dependencies(t *testing.T) {
	src := NewMemorySource().
		AddUnit("A", "map", "v1").
		AddDeps("A", unit.Hard, "B").
		AddDeps("A", unit.Soft, "C")

	hard, err := src.GetDependencies(context.Background(), "A", unit.Hard)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, hard)

	build, err := src.GetDependencies(context.Background(), "A", unit.Build)
	require.NoError(t, err)
	assert.Empty(t, build)

	assert.Equal(t, 1, src.DependencyCalls("A", unit.Hard))
	assert.NotEmpty(t, src.ContentHash("A"))

	_, ok := src.Describe("missing")
	assert.False(t, ok)
}

// TestMemoryFetcher_AsyncDelivery checks callbacks arrive after return in async mode.
func TestMemoryFetcher_AsyncDelivery(t *testing.T) {
	src := NewMemorySource().AddUnit("A", "map", "v1")
	f := NewMemoryFetcher().PutMatching(src, "A", "win64")
	f.Async = true
	f.Delay = 5 * time.Millisecond

	var mu sync.Mutex
	var got []unit.AttachmentResult
	f.FetchAttachments(context.Background(), []string{"A", "B"}, "win64", func(r unit.AttachmentResult) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, r)
	})
	f.Wait()

	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Name)
	require.NotNil(t, got[0].Attachment)
	assert.True(t, got[0].Attachment.Succeeded())
	assert.Nil(t, got[1].Attachment)
	assert.Equal(t, 1, f.Calls("A", "win64"))
	assert.Equal(t, 1, f.Batches())
}

package cluster

import (
	"time"

	"github.com/roach88/kiln/internal/generation"
)

const (
	// DefaultBatchSize is the maximum number of vertices per fetch batch.
	DefaultBatchSize = 1000

	// DefaultWaitTimeout bounds each wait on the completion signal.
	DefaultWaitTimeout = 500 * time.Millisecond

	// DefaultStallTimeout is how long a batch may stay in flight before
	// the cluster warns about it.
	DefaultStallTimeout = 60 * time.Second

	// DefaultMaxConcurrentBatches bounds batches in flight at once.
	DefaultMaxConcurrentBatches = 4
)

// SortMode selects how ExtractResults treats hard/soft dependency cycles.
type SortMode int

const (
	// SortModeAllowCycles breaks cycles by visit order.
	SortModeAllowCycles SortMode = iota
	// SortModeStrict reports a cycle among units to build as a fatal error.
	SortModeStrict
)

// String returns the mode name.
func (m SortMode) String() string {
	if m == SortModeStrict {
		return "strict"
	}
	return "allow-cycles"
}

type options struct {
	batchSize     int
	waitTimeout   time.Duration
	stallTimeout  time.Duration
	maxBatches    int64
	incremental   bool
	sortMode      SortMode
	maxIterations int
	metrics       *Metrics
	sequencer     Sequencer
	ids           IDGenerator
	generators    *generation.Manager
}

func defaultOptions() options {
	return options{
		batchSize:    DefaultBatchSize,
		waitTimeout:  DefaultWaitTimeout,
		stallTimeout: DefaultStallTimeout,
		maxBatches:   DefaultMaxConcurrentBatches,
		incremental:  true,
		sortMode:     SortModeAllowCycles,
		sequencer:    NewClock(),
		ids:          UUIDv7Generator{},
	}
}

// Option configures a Cluster.
type Option func(*options)

// WithBatchSize sets the maximum vertices per fetch batch.
//
// Default: 1000 (DefaultBatchSize). Values below 1 are ignored.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithWaitTimeout sets the longest single wait on the completion signal.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.waitTimeout = d
		}
	}
}

// WithStallTimeout sets how long a batch may be in flight before a warning.
func WithStallTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.stallTimeout = d
		}
	}
}

// WithMaxConcurrentBatches bounds the number of batches in flight.
func WithMaxConcurrentBatches(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBatches = int64(n)
		}
	}
}

// WithIncremental enables or disables incremental verdicts.
// When disabled no prior-build attachments are fetched and every cookable
// unit is rebuilt.
func WithIncremental(enabled bool) Option {
	return func(o *options) {
		o.incremental = enabled
	}
}

// WithSortMode selects cycle handling in ExtractResults.
func WithSortMode(mode SortMode) Option {
	return func(o *options) {
		o.sortMode = mode
	}
}

// WithMaxIterations replaces the computed per-loop iteration cap.
// Use WithMaxIterations(1) in tests to exercise the runaway guard.
func WithMaxIterations(n int) Option {
	return func(o *options) {
		o.maxIterations = n
	}
}

// WithMetrics reports exploration metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithSequencer sets the visit-order sequencer.
func WithSequencer(s Sequencer) Option {
	return func(o *options) {
		o.sequencer = s
	}
}

// WithIDGenerator sets the cluster ID generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) {
		o.ids = g
	}
}

// WithGenerationManager enables generator expansion through the manager's
// splitter registry.
func WithGenerationManager(m *generation.Manager) Option {
	return func(o *options) {
		o.generators = m
	}
}

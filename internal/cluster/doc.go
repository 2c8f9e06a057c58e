// Package cluster implements the request cluster: the incremental
// dependency-graph scheduler that turns build requests into an ordered list
// of units to build and a list of units to skip.
//
// ARCHITECTURE:
//
// Single Scheduler Goroutine:
// A Cluster and its GraphSearch are mutated only by the goroutine calling
// Process. Metadata and attachment fetches run on worker goroutines and hand
// their results back through one mutex-guarded exchange (results queue,
// batch pool, batches in flight) with a coalescing wake-up signal.
//
// Exploration Flow:
//  1. New steals the requested units into the cluster's ownership
//  2. Process visits vertices, classifies each reachable platform and stages
//     slot fetches in the pre-batch queue
//  3. Staged requests ship in batches of at most 1000 vertices, bounded by a
//     weighted semaphore
//  4. Completed slots come back through the results queue and the vertex is
//     explored: hard, soft and build-time edges are walked and incremental
//     verdicts are decided
//  5. When the graph is quiet, transitive build dependency waits that form
//     cycles are resolved, and Process reports completion
//  6. ExtractResults sorts the build list leaf-first by visit sequence
//
// FETCH SLOTS:
//
// Every vertex has one slot for platform-agnostic metadata, one for
// build-time loads and one per session platform. A slot's status only moves
// forward: NotRequested, SchedulerRequested, AsyncRequested, Complete. A slot
// is therefore fetched at most once per cluster.
//
// ITERATION CAPS:
//
// Each exploration loop is capped per Process call. The caps grow with the
// graph, so tripping one means work is being re-enqueued forever. The
// cluster fails with a RUNAWAY_LOOP RuntimeError.
package cluster

// Package store provides SQLite-backed storage for prior-build attachments.
//
// An attachment records, per unit and platform, what the last build saw:
// the unit's content hash, the transitive build dependencies, the runtime
// dependencies, the build definitions and whether the build committed.
// The request cluster fetches attachments in batches to decide which units
// are incrementally unmodified.
//
// # Critical Patterns
//
// Deterministic Listing:
//   - Every listing orders by name COLLATE BINARY, then platform
//   - Identical stores produce identical output
//
// Logical Time:
//   - seq is a logical clock value supplied by the writer, never wall time
//
// Canonical Encoding:
//   - Dependency lists are stored as RFC 8785 canonical JSON arrays
//   - Build definitions are zstd-compressed canonical JSON
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store

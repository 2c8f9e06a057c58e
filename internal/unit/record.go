package unit

// Tristate is an optional boolean: Unknown until decided.
type Tristate int8

const (
	Unknown Tristate = iota
	True
	False
)

// TristateOf converts a decided boolean.
func TristateOf(b bool) Tristate {
	if b {
		return True
	}
	return False
}

// String returns a lowercase label.
func (t Tristate) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// Known reports whether the value has been decided.
func (t Tristate) Known() bool {
	return t != Unknown
}

// PlatformRecord is the session-wide state of one unit for one platform.
//
// INVARIANTS:
//   - reachable never reverts to false
//   - cookable/explorable are decided at most once; only the explorable
//     override can widen exploration afterwards
//   - the incremental verdict is set at most once
type PlatformRecord struct {
	reachable          bool
	visitedBy          string
	decided            bool
	cookable           bool
	explorable         bool
	explorableOverride bool
	suppress           SuppressReason
	unmodified         Tristate
}

// Reachable reports whether the unit must be considered for this platform.
func (r *PlatformRecord) Reachable() bool {
	return r.reachable
}

// MarkReachable sets the reachable flag. Returns true if it was newly set.
func (r *PlatformRecord) MarkReachable() bool {
	if r.reachable {
		return false
	}
	r.reachable = true
	return true
}

// MarkVisited records that a cluster visited this platform.
// Returns false if the same cluster already visited it.
func (r *PlatformRecord) MarkVisited(clusterID string) bool {
	if r.visitedBy == clusterID {
		return false
	}
	r.visitedBy = clusterID
	return true
}

// VisitedBy returns the ID of the last cluster that visited this platform.
func (r *PlatformRecord) VisitedBy() string {
	return r.visitedBy
}

// Decided reports whether cookable/explorable have been decided.
func (r *PlatformRecord) Decided() bool {
	return r.decided
}

// Decide records the cookable/explorable classification.
// Returns false and leaves the record untouched if already decided.
func (r *PlatformRecord) Decide(cookable, explorable bool, reason SuppressReason) bool {
	if r.decided {
		return false
	}
	r.decided = true
	r.cookable = cookable
	r.explorable = explorable
	r.suppress = reason
	return true
}

// Cookable reports whether the unit should be built for this platform.
func (r *PlatformRecord) Cookable() bool {
	return r.cookable
}

// Explorable reports whether dependency edges should be walked.
func (r *PlatformRecord) Explorable() bool {
	return r.explorable || r.explorableOverride
}

// OverrideExplorable escalates a non-explorable unit to explorable.
// Returns true if exploration was newly enabled.
func (r *PlatformRecord) OverrideExplorable() bool {
	if r.explorable || r.explorableOverride {
		return false
	}
	r.explorableOverride = true
	return true
}

// SuppressReason returns why the unit is not cookable, if decided.
func (r *PlatformRecord) SuppressReason() SuppressReason {
	return r.suppress
}

// IncrementallyUnmodified returns the incremental verdict.
func (r *PlatformRecord) IncrementallyUnmodified() Tristate {
	return r.unmodified
}

// SetIncrementallyUnmodified records the incremental verdict once.
// Returns false if a verdict was already recorded.
func (r *PlatformRecord) SetIncrementallyUnmodified(unmodified bool) bool {
	if r.unmodified.Known() {
		return false
	}
	r.unmodified = TristateOf(unmodified)
	return true
}

package unit

// SuppressReason explains why a unit is excluded from the build list.
type SuppressReason int

const (
	NotSuppressed SuppressReason = iota
	DoesNotExist
	ScriptUnit
	NeverBuild
	OutsideScope
	TypeFiltered
	GeneratedDropped
	IncrementallySkipped
)

var suppressNames = map[SuppressReason]string{
	NotSuppressed:        "NotSuppressed",
	DoesNotExist:         "DoesNotExist",
	ScriptUnit:           "ScriptUnit",
	NeverBuild:           "NeverBuild",
	OutsideScope:         "OutsideScope",
	TypeFiltered:         "TypeFiltered",
	GeneratedDropped:     "GeneratedDropped",
	IncrementallySkipped: "IncrementallySkipped",
}

// String returns the reason name.
func (r SuppressReason) String() string {
	if s, ok := suppressNames[r]; ok {
		return s
	}
	return "Unknown"
}

// ParseSuppressReason maps a name back to its reason.
func ParseSuppressReason(s string) (SuppressReason, bool) {
	for r, name := range suppressNames {
		if name == s {
			return r, true
		}
	}
	return NotSuppressed, false
}

package cluster

import (
	"fmt"
	"slices"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/roach88/kiln/internal/unit"
)

// Policy is the session's build policy: which units may be built at all.
// Patterns use doublestar syntax and match unit names.
type Policy struct {
	// NeverBuild lists units that must never be built.
	NeverBuild []string
	// Scope, when non-empty, limits building to matching units.
	Scope []string
	// AllowTypes, when non-empty, limits building to these unit types.
	AllowTypes []string
	// DenyTypes excludes these unit types from building.
	DenyTypes []string
}

// Validate checks every pattern.
func (p Policy) Validate() error {
	for _, set := range [][]string{p.NeverBuild, p.Scope} {
		for _, pattern := range set {
			if !doublestar.ValidatePattern(pattern) {
				return fmt.Errorf("invalid unit pattern %q", pattern)
			}
		}
	}
	return nil
}

func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Classification is the outcome of classifying a unit for a platform.
type Classification struct {
	Cookable   bool
	Explorable bool
	Reason     unit.SuppressReason
}

// Classify decides whether a resolved unit is cookable and explorable.
//
// Generated units on the never-build list are explored but not built, so
// their dependencies are still discovered. Type-filtered units are explored.
func (p Policy) Classify(u *unit.Unit) Classification {
	name := u.Name()
	switch {
	case !u.Exists():
		return Classification{Reason: unit.DoesNotExist}
	case u.IsScript():
		return Classification{Reason: unit.ScriptUnit}
	case matchAny(p.NeverBuild, name):
		return Classification{Explorable: unit.IsGeneratedName(name), Reason: unit.NeverBuild}
	case len(p.Scope) > 0 && !matchAny(p.Scope, name):
		return Classification{Reason: unit.OutsideScope}
	case !u.IsGenerated() && p.typeFiltered(u.Type()):
		return Classification{Explorable: true, Reason: unit.TypeFiltered}
	}
	return Classification{Cookable: true, Explorable: true, Reason: unit.NotSuppressed}
}

func (p Policy) typeFiltered(unitType string) bool {
	if len(p.AllowTypes) > 0 && !slices.Contains(p.AllowTypes, unitType) {
		return true
	}
	return slices.Contains(p.DenyTypes, unitType)
}

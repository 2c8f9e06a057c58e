package generation

import "strings"

// KeepFlag is a named reason to keep a Helper alive.
type KeepFlag uint8

const (
	// KeepForIncremental is held while a cluster consults the helper for
	// incremental verdicts of generated units.
	KeepForIncremental KeepFlag = 1 << iota
	// KeepForGeneratorSave is held while the generator itself is saving.
	KeepForGeneratorSave
	// KeepForQueueResults is held while a cluster's results reference the helper.
	KeepForQueueResults
	// KeepForAllSavedOrGC is held from populate until every unit saved or the
	// next collection cycle after uninitialization.
	KeepForAllSavedOrGC
	// KeepForCompletedMessage is held until the all-saved notification is sent.
	KeepForCompletedMessage

	KeepNone KeepFlag = 0
)

var keepFlagNames = []struct {
	flag KeepFlag
	name string
}{
	{KeepForIncremental, "KeepForIncremental"},
	{KeepForGeneratorSave, "KeepForGeneratorSave"},
	{KeepForQueueResults, "KeepForQueueResults"},
	{KeepForAllSavedOrGC, "KeepForAllSavedOrGC"},
	{KeepForCompletedMessage, "KeepForCompletedMessage"},
}

// Has reports whether every bit of other is set.
func (f KeepFlag) Has(other KeepFlag) bool {
	return f&other == other
}

// String lists the set flags joined by "|".
func (f KeepFlag) String() string {
	if f == KeepNone {
		return "none"
	}
	var parts []string
	for _, n := range keepFlagNames {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

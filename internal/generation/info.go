package generation

// Info is the per-unit record for a generator or one of its generated units.
type Info struct {
	Name         string
	RelativeID   string
	IsGenerator  bool
	IsMapLike    bool
	Dependencies []string
	HashSeed     string
	PackageHash  string

	saved             map[string]bool
	skipped           map[string]bool
	hasCalledPopulate bool
	dropped           bool
	pinned            bool
	keepReferenced    []string
	objectsMoved      []string
}

func newInfo(name string) *Info {
	return &Info{
		Name:    name,
		saved:   make(map[string]bool),
		skipped: make(map[string]bool),
	}
}

// Saved reports whether the unit finished for the platform.
func (i *Info) Saved(platform string) bool {
	return i.saved[platform]
}

// Skipped reports whether the unit finished for the platform without building.
func (i *Info) Skipped(platform string) bool {
	return i.skipped[platform]
}

// HasCalledPopulate reports whether populate ran this session.
func (i *Info) HasCalledPopulate() bool {
	return i.hasCalledPopulate
}

// Dropped reports whether the unit was dropped for this session.
func (i *Info) Dropped() bool {
	return i.dropped
}

// ObjectsMoved returns what the splitter moved into this unit on populate.
func (i *Info) ObjectsMoved() []string {
	return i.objectsMoved
}

// KeepReferenced returns what the splitter asked to keep referenced on populate.
func (i *Info) KeepReferenced() []string {
	return i.keepReferenced
}

func (i *Info) savedOnAll(platforms []string) bool {
	for _, p := range platforms {
		if !i.saved[p] {
			return false
		}
	}
	return true
}

func (i *Info) resetSaved() {
	i.saved = make(map[string]bool)
	i.skipped = make(map[string]bool)
}

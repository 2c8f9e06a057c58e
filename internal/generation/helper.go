package generation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/kiln/internal/digest"
	"github.com/roach88/kiln/internal/splitter"
	"github.com/roach88/kiln/internal/unit"
)

// State is the helper lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateValid
	// StateInvalid is terminal: no splitter applies to this generator.
	StateInvalid
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateValid:
		return "valid"
	case StateInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Lookup answers metadata questions about ordinary units.
type Lookup interface {
	Describe(name string) (unit.Descriptor, bool)
}

// Owner identifies the generator unit a helper manages.
type Owner struct {
	Name        string
	Type        string
	ContentHash string
}

// Helper manages one generator unit and its generated units.
//
// Thread-safety: not safe for concurrent use. All calls happen on the
// scheduler goroutine, like every other graph mutation.
//
// INVARIANTS:
//   - Initialize is idempotent; StateInvalid is terminal
//   - Uninitialize is refused while the generator is saving
//   - populate runs at most once per unit per session
//   - the helper is destroyed only when refs == 0 and no keep flag is set
type Helper struct {
	owner   Owner
	manager *Manager

	state  State
	split  splitter.Splitter
	traits splitter.Traits

	ownerInfo *Info
	generated []*Info
	byName    map[string]*Info
	listed    bool

	keep      KeepFlag
	refs      int
	destroyed bool
	saving    bool

	numSaved map[string]int
	allSaved map[string]bool

	expectCollected bool
	gcRetries       int
}

func newHelper(owner Owner, m *Manager) *Helper {
	info := newInfo(owner.Name)
	info.IsGenerator = true
	info.PackageHash = owner.ContentHash
	return &Helper{
		owner:     owner,
		manager:   m,
		ownerInfo: info,
		byName:    make(map[string]*Info),
		numSaved:  make(map[string]int),
		allSaved:  make(map[string]bool),
	}
}

// Owner returns the generator identity.
func (h *Helper) Owner() Owner {
	return h.owner
}

// State returns the lifecycle state.
func (h *Helper) State() State {
	return h.state
}

// Traits returns what the splitter declared at instantiation.
func (h *Helper) Traits() splitter.Traits {
	return h.traits
}

// Keep returns the currently set keep flags.
func (h *Helper) Keep() KeepFlag {
	return h.keep
}

// Refs returns the external strong reference count.
func (h *Helper) Refs() int {
	return h.refs
}

// Destroyed reports whether the helper was torn down.
func (h *Helper) Destroyed() bool {
	return h.destroyed
}

// Saving reports whether the generator is mid-save.
func (h *Helper) Saving() bool {
	return h.saving
}

// OwnerInfo returns the generator's own record.
func (h *Helper) OwnerInfo() *Info {
	return h.ownerInfo
}

// Generated returns the generated units in generate-list order, dropped ones included.
func (h *Helper) Generated() []*Info {
	out := make([]*Info, len(h.generated))
	copy(out, h.generated)
	return out
}

// Info returns the record for the generator or a generated unit.
func (h *Helper) Info(name string) (*Info, bool) {
	if name == h.owner.Name {
		return h.ownerInfo, true
	}
	info, ok := h.byName[name]
	return info, ok
}

// Initialize locates and instantiates the splitter. It is idempotent and
// reports whether the helper is Valid.
func (h *Helper) Initialize() bool {
	switch h.state {
	case StateValid:
		return true
	case StateInvalid:
		return false
	}
	if h.destroyed {
		return false
	}

	split, ok := h.manager.splitters.New(h.owner.Type)
	if !ok || !split.ShouldSplit(h.owner.Name) {
		h.state = StateInvalid
		slog.Debug("no splitter applies to generator",
			"generator", h.owner.Name,
			"type", h.owner.Type)
		return false
	}

	h.split = split
	h.traits = split.Traits()
	h.state = StateValid
	slog.Debug("generation helper initialized",
		"generator", h.owner.Name,
		"keep_internal_references", h.traits.KeepInternalReferences,
		"generated_requires_generator", h.traits.GeneratedRequiresGenerator)
	return true
}

// Uninitialize tears down the splitter. Units populated but not saved on every
// platform are demoted so they are populated again when the helper reinitializes.
func (h *Helper) Uninitialize() error {
	if h.state != StateValid {
		return ErrNotInitialized
	}
	if h.saving {
		return ErrSaving
	}

	platforms := h.manager.platforms
	for _, info := range h.allInfos() {
		if info.hasCalledPopulate && !info.savedOnAll(platforms) {
			slog.Debug("demoting stalled unit on uninitialize",
				"generator", h.owner.Name,
				"unit", info.Name)
			info.hasCalledPopulate = false
		}
		h.unpinInfo(info)
	}

	h.split.Teardown(h.owner.Name)
	h.split = nil
	h.state = StateUninitialized
	return nil
}

// GenerateList asks the splitter for its generated units and merges the answer
// with any previously recorded list. Existing records are reused by name;
// records missing from the new answer are discarded with a warning.
func (h *Helper) GenerateList(ctx context.Context) ([]*Info, error) {
	if h.destroyed {
		return nil, ErrDestroyed
	}
	if !h.Initialize() {
		return nil, ErrNoSplitter
	}

	specs, err := h.split.GetGenerateList(ctx, h.owner.Name)
	if err != nil {
		slog.Error("splitter failed to produce generate list",
			"generator", h.owner.Name,
			"error", err)
		return nil, fmt.Errorf("generate list for %s: %w", h.owner.Name, err)
	}

	next := make([]*Info, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.RelativeID == "" {
			slog.Error("splitter returned generated unit with empty relative id",
				"generator", h.owner.Name)
			continue
		}
		name := unit.GeneratedName(h.owner.Name, spec.RelativeID)
		if seen[name] {
			slog.Warn("splitter returned duplicate generated unit",
				"generator", h.owner.Name,
				"unit", name)
			continue
		}
		seen[name] = true

		info, existed := h.byName[name]
		if !existed {
			info = newInfo(name)
		}

		if _, exists := h.manager.lookup.Describe(name); exists {
			slog.Warn("generated unit already exists as ordinary content, dropping it",
				"generator", h.owner.Name,
				"unit", name)
			info.dropped = true
		}

		info.RelativeID = spec.RelativeID
		info.IsMapLike = spec.IsMapLike
		info.HashSeed = spec.HashSeed
		info.Dependencies = h.cleanDependencies(name, spec.Dependencies)
		info.PackageHash = h.packageHash(info)
		next = append(next, info)
	}

	for name := range h.byName {
		if !seen[name] {
			slog.Warn("discarding stale generated unit",
				"generator", h.owner.Name,
				"unit", name)
			delete(h.byName, name)
		}
	}
	for _, info := range next {
		h.byName[info.Name] = info
	}
	h.generated = next

	if !h.listed {
		h.listed = true
		h.SetKeep(KeepForCompletedMessage)
	}
	h.resetNumSaved()

	return h.Generated(), nil
}

// cleanDependencies sorts and deduplicates declared dependencies, dropping
// self references and references to generated units.
func (h *Helper) cleanDependencies(name string, deps []string) []string {
	set := make(map[string]bool, len(deps))
	for _, dep := range deps {
		switch {
		case dep == "" || dep == name:
			continue
		case unit.IsGeneratedName(dep):
			slog.Error("generated unit declares a dependency on another generated unit, dropping it",
				"generator", h.owner.Name,
				"unit", name,
				"dependency", dep)
			continue
		}
		set[dep] = true
	}
	out := make([]string, 0, len(set))
	for dep := range set {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}

// packageHash combines the seed with the current hash of every dependency.
func (h *Helper) packageHash(info *Info) string {
	hashes := make([]string, len(info.Dependencies))
	for i, dep := range info.Dependencies {
		if desc, ok := h.manager.lookup.Describe(dep); ok {
			hashes[i] = desc.ContentHash
		}
	}
	return digest.GenerationHash(info.HashSeed, hashes)
}

// PopulateGenerator runs the splitter's generator populate once per session.
// On success the generator is kept alive until all units saved or the next
// collection cycle.
func (h *Helper) PopulateGenerator(ctx context.Context) (splitter.PopulateResult, error) {
	if h.state != StateValid {
		return splitter.PopulateResult{}, ErrNotInitialized
	}
	if h.ownerInfo.hasCalledPopulate {
		return splitter.PopulateResult{}, ErrAlreadyPopulated
	}
	h.ownerInfo.hasCalledPopulate = true

	specs := make([]splitter.GeneratedSpec, 0, len(h.generated))
	for _, info := range h.generated {
		if info.dropped {
			continue
		}
		specs = append(specs, splitter.GeneratedSpec{
			RelativeID:   info.RelativeID,
			IsMapLike:    info.IsMapLike,
			Dependencies: info.Dependencies,
			HashSeed:     info.HashSeed,
		})
	}

	res, err := h.split.PopulateGenerator(ctx, h.owner.Name, specs)
	if err == nil && !res.Success {
		err = ErrPopulateFailed
	}
	if err != nil {
		slog.Error("splitter failed to populate generator",
			"generator", h.owner.Name,
			"error", err)
		return res, fmt.Errorf("populate generator %s: %w", h.owner.Name, err)
	}

	h.recordPopulate(h.ownerInfo, res)
	return res, nil
}

// PopulateGenerated runs the splitter's populate for one generated unit.
// A failure drops only that unit for the session.
func (h *Helper) PopulateGenerated(ctx context.Context, name string) (splitter.PopulateResult, error) {
	if h.state != StateValid {
		return splitter.PopulateResult{}, ErrNotInitialized
	}
	info, ok := h.byName[name]
	if !ok || info.dropped {
		return splitter.PopulateResult{}, fmt.Errorf("%w: %s", ErrUnknownGenerated, name)
	}
	if h.traits.GeneratedRequiresGenerator && !h.ownerInfo.hasCalledPopulate {
		return splitter.PopulateResult{}, fmt.Errorf("%w: %s", ErrGeneratorNotPopulated, name)
	}
	if info.hasCalledPopulate {
		return splitter.PopulateResult{}, ErrAlreadyPopulated
	}
	info.hasCalledPopulate = true

	res, err := h.split.PopulateGenerated(ctx, h.owner.Name, splitter.GeneratedSpec{
		RelativeID:   info.RelativeID,
		IsMapLike:    info.IsMapLike,
		Dependencies: info.Dependencies,
		HashSeed:     info.HashSeed,
	})
	if err == nil && !res.Success {
		err = ErrPopulateFailed
	}
	if err != nil {
		info.dropped = true
		slog.Error("splitter failed to populate generated unit, dropping it",
			"generator", h.owner.Name,
			"unit", name,
			"error", err)
		h.checkAllSaved()
		return res, fmt.Errorf("populate generated %s: %w", name, err)
	}

	h.recordPopulate(info, res)
	return res, nil
}

func (h *Helper) recordPopulate(info *Info, res splitter.PopulateResult) {
	info.objectsMoved = append([]string(nil), res.ObjectsToMove...)
	info.keepReferenced = append([]string(nil), res.KeepReferenced...)
	h.manager.Pin(info.Name)
	for _, name := range info.keepReferenced {
		h.manager.Pin(name)
	}
	info.pinned = true
	h.SetKeep(KeepForAllSavedOrGC)
}

func (h *Helper) unpinInfo(info *Info) {
	if !info.pinned {
		return
	}
	h.manager.Unpin(info.Name)
	for _, name := range info.keepReferenced {
		h.manager.Unpin(name)
	}
	info.pinned = false
}

// BeginGeneratorSave marks the generator as saving.
func (h *Helper) BeginGeneratorSave() {
	h.saving = true
	h.SetKeep(KeepForGeneratorSave)
}

// FinishSave records terminal completion of a unit for a platform and calls
// the splitter's PostSave.
func (h *Helper) FinishSave(ctx context.Context, name, platform string) error {
	info, ok := h.Info(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGenerated, name)
	}
	if info.saved[platform] {
		return nil
	}
	if h.split != nil {
		h.split.PostSave(ctx, name)
	}
	return h.finish(name, platform, false)
}

// FinishSkip records that a unit completed for a platform without building,
// typically because it was incrementally unmodified.
func (h *Helper) FinishSkip(name, platform string) error {
	return h.finish(name, platform, true)
}

func (h *Helper) finish(name, platform string, skipped bool) error {
	info, ok := h.Info(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGenerated, name)
	}
	if info.saved[platform] {
		return nil
	}
	info.saved[platform] = true
	if skipped {
		info.skipped[platform] = true
	}
	h.numSaved[platform]++

	if info == h.ownerInfo && info.savedOnAll(h.manager.platforms) && h.saving {
		h.saving = false
		h.ClearKeep(KeepForGeneratorSave)
	}
	h.checkAllSaved()
	return nil
}

// expectedSaves is the number of live generated units plus the generator.
func (h *Helper) expectedSaves() int {
	n := 1
	for _, info := range h.generated {
		if !info.dropped {
			n++
		}
	}
	return n
}

// checkAllSaved recomputes per-platform completion against the saved count.
func (h *Helper) checkAllSaved() {
	if h.destroyed {
		return
	}
	expected := h.expectedSaves()
	for _, p := range h.manager.platforms {
		if h.allSaved[p] {
			continue
		}
		count := 0
		for _, info := range h.allInfos() {
			if !info.dropped && info.saved[p] {
				count++
			}
		}
		if count != h.numSaved[p] {
			slog.Warn("saved count desync, correcting",
				"generator", h.owner.Name,
				"platform", p,
				"recorded", h.numSaved[p],
				"actual", count)
			h.numSaved[p] = count
		}
		if count >= expected {
			h.allSaved[p] = true
			slog.Debug("all units saved for platform",
				"generator", h.owner.Name,
				"platform", p)
		}
	}
	for _, p := range h.manager.platforms {
		if !h.allSaved[p] {
			return
		}
	}
	h.onAllSavesCompleted()
}

func (h *Helper) onAllSavesCompleted() {
	slog.Info("generator and all generated units saved",
		"generator", h.owner.Name,
		"generated", h.expectedSaves()-1)
	h.ClearKeep(KeepForCompletedMessage | KeepForAllSavedOrGC)
}

// AllSaved reports whether every live unit finished on the platform.
func (h *Helper) AllSaved(platform string) bool {
	return h.allSaved[platform]
}

func (h *Helper) resetNumSaved() {
	for _, p := range h.manager.platforms {
		h.allSaved[p] = false
		count := 0
		for _, info := range h.allInfos() {
			if !info.dropped && info.saved[p] {
				count++
			}
		}
		h.numSaved[p] = count
	}
}

func (h *Helper) allInfos() []*Info {
	out := make([]*Info, 0, len(h.generated)+1)
	out = append(out, h.ownerInfo)
	return append(out, h.generated...)
}

// AddRef takes an external strong reference.
func (h *Helper) AddRef() {
	h.refs++
}

// Release drops an external strong reference and destroys the helper if
// nothing else keeps it alive.
func (h *Helper) Release() {
	h.refs--
	if h.refs < 0 {
		slog.Warn("generation helper reference count desync, correcting",
			"generator", h.owner.Name,
			"refs", h.refs)
		h.refs = 0
	}
	h.tryDestroy()
}

// SetKeep sets keep flags.
func (h *Helper) SetKeep(flags KeepFlag) {
	h.keep |= flags
}

// ClearKeep clears keep flags and destroys the helper if nothing else keeps it alive.
func (h *Helper) ClearKeep(flags KeepFlag) {
	h.keep &^= flags
	h.tryDestroy()
}

// Collectable reports whether the helper may be destroyed now.
func (h *Helper) Collectable() bool {
	return !h.destroyed && h.refs == 0 && h.keep == KeepNone
}

func (h *Helper) tryDestroy() {
	if !h.Collectable() {
		return
	}
	h.destroy()
}

func (h *Helper) destroy() {
	if h.state == StateValid {
		if err := h.Uninitialize(); err != nil {
			slog.Warn("uninitialize during destroy failed",
				"generator", h.owner.Name,
				"error", err)
		}
	}
	h.destroyed = true
	h.manager.remove(h)
	slog.Debug("generation helper destroyed", "generator", h.owner.Name)
}

// pastPopulate reports whether any unit has been populated.
func (h *Helper) pastPopulate() bool {
	for _, info := range h.allInfos() {
		if info.hasCalledPopulate {
			return true
		}
	}
	return false
}

// PreGarbageCollect demotes populated-but-unsaved units when the splitter does
// not keep its own references, so their memory can be reclaimed safely. A full
// collection demotes them even when the splitter does keep references.
// It then uninitializes the helper if only collection-lifetime data keeps it.
// Returns the demoted unit names.
func (h *Helper) PreGarbageCollect(full bool) []string {
	if h.destroyed || h.state != StateValid {
		return nil
	}

	var demoted []string
	if (full || !h.traits.KeepInternalReferences) && h.pastPopulate() {
		for _, info := range h.allInfos() {
			if info.hasCalledPopulate && !info.savedOnAll(h.manager.platforms) {
				h.unpinInfo(info)
				info.hasCalledPopulate = false
				demoted = append(demoted, info.Name)
			}
		}
		if len(demoted) > 0 {
			slog.Info("demoting populated units before garbage collection",
				"generator", h.owner.Name,
				"units", demoted)
		}
	}

	h.preGarbageCollectLifetimeData()
	return demoted
}

// lifetimeFlags only track save completion; they do not need the splitter.
const lifetimeFlags = KeepForAllSavedOrGC | KeepForCompletedMessage

// preGarbageCollectLifetimeData uninitializes when no reference or active
// keep flag needs the splitter's in-memory state any more.
func (h *Helper) preGarbageCollectLifetimeData() {
	if h.refs > 0 || h.saving || h.keep&^lifetimeFlags != KeepNone {
		return
	}
	if err := h.Uninitialize(); err != nil {
		return
	}
	if h.traits.KeepInternalReferences {
		h.expectCollected = true
	}
}

// GCAction is what PostGarbageCollect asks of the collector.
type GCAction int

const (
	GCActionNone GCAction = iota
	GCActionRetryWithHistory
	GCActionRetryFull
)

// PostGarbageCollect verifies the generator was reclaimed when the splitter
// contract requires it, and releases the collection-lifetime keep flag once
// the helper is uninitialized.
func (h *Helper) PostGarbageCollect(resident func(name string) bool) GCAction {
	if h.destroyed {
		return GCActionNone
	}

	if h.expectCollected {
		if resident(h.owner.Name) {
			h.gcRetries++
			switch h.gcRetries {
			case 1:
				return GCActionRetryWithHistory
			case 2:
				return GCActionRetryFull
			default:
				slog.Error("generator was not reclaimed by garbage collection",
					"generator", h.owner.Name,
					"retries", h.gcRetries-1)
			}
		}
		h.expectCollected = false
		h.gcRetries = 0
	}

	if h.state == StateUninitialized && h.keep.Has(KeepForAllSavedOrGC) {
		h.ClearKeep(KeepForAllSavedOrGC)
	}
	return GCActionNone
}

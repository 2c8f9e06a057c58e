package planner

import (
	"context"
	"log/slog"

	"github.com/roach88/kiln/internal/generation"
)

// platformSet maps a unit name to the platforms it was recorded on.
type platformSet map[string]map[string]bool

func (s platformSet) add(name, platform string) {
	if s[name] == nil {
		s[name] = make(map[string]bool)
	}
	s[name][platform] = true
}

// populateGenerators runs the splitter populate for every generator with
// built units. It returns the units that must not be recorded, along with the
// generated units the splitter dropped.
func populateGenerators(ctx context.Context, helpers []*generation.Helper, built map[string]bool) (map[string]bool, []string) {
	excluded := make(map[string]bool)
	var dropped []string

	for _, h := range helpers {
		if h.State() != generation.StateValid {
			continue
		}
		owner := h.Owner().Name

		var generated []*generation.Info
		for _, info := range h.Generated() {
			if !info.Dropped() && built[info.Name] {
				generated = append(generated, info)
			}
		}

		if built[owner] || (len(generated) > 0 && h.Traits().GeneratedRequiresGenerator) {
			if _, err := h.PopulateGenerator(ctx); err != nil {
				excluded[owner] = true
				for _, info := range generated {
					excluded[info.Name] = true
				}
				continue
			}
		}

		for _, info := range generated {
			_, err := h.PopulateGenerated(ctx, info.Name)
			if err == nil {
				continue
			}
			excluded[info.Name] = true
			if info.Dropped() {
				dropped = append(dropped, info.Name)
			} else {
				slog.Warn("generated unit not populated",
					"generator", owner,
					"unit", info.Name,
					"error", err)
			}
		}
	}
	return excluded, dropped
}

// finishGenerators reports save completion to every helper. A unit recorded
// on a platform is saved there; everything else the helper tracks is skipped.
func finishGenerators(ctx context.Context, helpers []*generation.Helper, platforms []string, saved platformSet) {
	for _, h := range helpers {
		if h.Destroyed() {
			continue
		}
		owner := h.OwnerInfo()
		if len(saved[owner.Name]) > 0 {
			h.BeginGeneratorSave()
		}

		infos := append([]*generation.Info{owner}, h.Generated()...)
		for _, info := range infos {
			if info.Dropped() {
				continue
			}
			for _, p := range platforms {
				var err error
				if saved[info.Name][p] {
					err = h.FinishSave(ctx, info.Name, p)
				} else {
					err = h.FinishSkip(info.Name, p)
				}
				if err != nil {
					slog.Warn("failed to finish generated unit",
						"generator", owner.Name,
						"unit", info.Name,
						"platform", p,
						"error", err)
				}
			}
		}
	}
}

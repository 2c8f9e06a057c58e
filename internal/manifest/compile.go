package manifest

import (
	"fmt"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/kiln/internal/unit"
)

// CompileError reports an invalid manifest field with its CUE position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileSession parses the session struct.
//
// platforms is required and must hold distinct non-empty names. incremental
// defaults to true.
func CompileSession(v cue.Value) (Session, error) {
	if err := v.Err(); err != nil {
		return Session{}, formatCUEError(err)
	}

	s := Session{Incremental: true}

	platforms, err := stringList(v, "platforms")
	if err != nil {
		return Session{}, err
	}
	if len(platforms) == 0 {
		return Session{}, &CompileError{
			Field:   "platforms",
			Message: "at least one platform is required",
			Pos:     v.Pos(),
		}
	}
	seen := make(map[string]bool, len(platforms))
	for _, p := range platforms {
		if p == "" || seen[p] {
			return Session{}, &CompileError{
				Field:   "platforms",
				Message: fmt.Sprintf("platform names must be distinct and non-empty, got %q", p),
				Pos:     v.Pos(),
			}
		}
		seen[p] = true
	}
	s.Platforms = platforms

	if s.Incremental, err = boolField(v, "incremental", true); err != nil {
		return Session{}, err
	}
	if s.StrictOrder, err = boolField(v, "strict_order", false); err != nil {
		return Session{}, err
	}
	if s.NeverBuild, err = stringList(v, "never_build"); err != nil {
		return Session{}, err
	}
	if s.Scope, err = stringList(v, "scope"); err != nil {
		return Session{}, err
	}
	if s.AllowTypes, err = stringList(v, "allow_types"); err != nil {
		return Session{}, err
	}
	if s.DenyTypes, err = stringList(v, "deny_types"); err != nil {
		return Session{}, err
	}

	if err := s.Policy().Validate(); err != nil {
		return Session{}, &CompileError{
			Field:   "pattern",
			Message: err.Error(),
			Pos:     v.Pos(),
		}
	}
	return s, nil
}

// CompileUnit parses one unit declaration.
//
// Every unit needs a type unless it is a script unit. Names may not use the
// generated-unit form; generated units are declared under their generator.
func CompileUnit(name string, v cue.Value) (*UnitDecl, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if name == "" || unit.IsGeneratedName(name) {
		return nil, &CompileError{
			Field:   "name",
			Message: fmt.Sprintf("invalid unit name %q", name),
			Pos:     v.Pos(),
		}
	}

	d := &UnitDecl{Name: name, Pos: v.Pos()}

	var err error
	if d.Script, err = boolField(v, "script", false); err != nil {
		return nil, err
	}
	if d.Type, err = stringField(v, "type"); err != nil {
		return nil, err
	}
	if d.Type == "" && !d.Script {
		return nil, &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unit %s: type is required", name),
			Pos:     v.Pos(),
		}
	}
	if d.Source, err = stringField(v, "source"); err != nil {
		return nil, err
	}

	if d.Hard, err = dependencyList(v, name, "hard"); err != nil {
		return nil, err
	}
	if d.Soft, err = dependencyList(v, name, "soft"); err != nil {
		return nil, err
	}
	if d.Build, err = dependencyList(v, name, "build"); err != nil {
		return nil, err
	}
	if d.Defines, err = definitionList(v, name); err != nil {
		return nil, err
	}
	if d.Script && len(d.Defines) > 0 {
		return nil, &CompileError{
			Field:   "defines",
			Message: fmt.Sprintf("script unit %s cannot declare build definitions", name),
			Pos:     v.Pos(),
		}
	}

	if d.Generates, err = parseGenerates(v, name); err != nil {
		return nil, err
	}
	if d.Script && d.IsGenerator() {
		return nil, &CompileError{
			Field:   "generates",
			Message: fmt.Sprintf("script unit %s cannot generate units", name),
			Pos:     v.Pos(),
		}
	}

	return d, nil
}

// parseGenerates extracts the generated units of a generator in
// declaration order.
func parseGenerates(v cue.Value, owner string) ([]GeneratedDecl, error) {
	gv := v.LookupPath(cue.ParsePath("generates"))
	if !gv.Exists() {
		return nil, nil
	}

	iter, err := gv.Fields()
	if err != nil {
		return nil, &CompileError{
			Field:   "generates",
			Message: fmt.Sprintf("unit %s: generates must be a struct", owner),
			Pos:     gv.Pos(),
		}
	}

	var out []GeneratedDecl
	for iter.Next() {
		id := iter.Label()
		val := iter.Value()
		if id == "" || unit.IsGeneratedName(id) {
			return nil, &CompileError{
				Field:   "generates",
				Message: fmt.Sprintf("unit %s: invalid generated id %q", owner, id),
				Pos:     val.Pos(),
			}
		}

		g := GeneratedDecl{ID: id}
		if g.Dependencies, err = dependencyList(val, unit.GeneratedName(owner, id), "deps"); err != nil {
			return nil, err
		}
		if g.MapLike, err = boolField(val, "map_like", false); err != nil {
			return nil, err
		}
		if g.Seed, err = stringField(val, "seed"); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// dependencyList reads a list of unit names, rejecting empty names and self
// references. Order is preserved.
func dependencyList(v cue.Value, owner, field string) ([]string, error) {
	deps, err := stringList(v, field)
	if err != nil {
		return nil, err
	}
	for _, dep := range deps {
		if dep == "" || dep == owner {
			return nil, &CompileError{
				Field:   "dependency",
				Message: fmt.Sprintf("unit %s: %s lists invalid dependency %q", owner, field, dep),
				Pos:     v.LookupPath(cue.ParsePath(field)).Pos(),
			}
		}
	}
	return deps, nil
}

// definitionList reads build definitions as a sorted set of non-empty strings.
func definitionList(v cue.Value, owner string) ([]string, error) {
	defines, err := stringList(v, "defines")
	if err != nil {
		return nil, err
	}
	for _, def := range defines {
		if strings.TrimSpace(def) == "" {
			return nil, &CompileError{
				Field:   "defines",
				Message: fmt.Sprintf("unit %s: empty build definition", owner),
				Pos:     v.LookupPath(cue.ParsePath("defines")).Pos(),
			}
		}
	}
	slices.Sort(defines)
	return slices.Compact(defines), nil
}

// stringList reads an optional list of strings.
func stringList(v cue.Value, field string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}
	iter, err := fv.List()
	if err != nil {
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("%s must be a list of strings", field),
			Pos:     fv.Pos(),
		}
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{
				Field:   field,
				Message: fmt.Sprintf("%s must be a list of strings", field),
				Pos:     iter.Value().Pos(),
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// stringField reads an optional string.
func stringField(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", &CompileError{
			Field:   field,
			Message: fmt.Sprintf("%s must be a string", field),
			Pos:     fv.Pos(),
		}
	}
	return s, nil
}

// boolField reads an optional bool.
func boolField(v cue.Value, field string, def bool) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return def, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("%s must be a bool", field),
			Pos:     fv.Pos(),
		}
	}
	return b, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}

package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// LoadMode controls how errors are handled during manifest loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Error code constants shared with the CLI.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed

	// Session errors
	ErrCodeSessionMissing   = "E101" // No session struct
	ErrCodeSessionPlatforms = "E102" // Missing or duplicate platforms
	ErrCodeSessionPattern   = "E103" // Invalid glob pattern

	// Unit errors
	ErrCodeUnitName       = "E111" // Invalid unit name
	ErrCodeUnitType       = "E112" // Missing type
	ErrCodeUnitDependency = "E113" // Invalid dependency list
	ErrCodeUnitGenerates  = "E114" // Invalid generated unit declaration
	ErrCodeInvalidField   = "E115" // Field has the wrong CUE type
)

// LoadError represents an error that occurred during manifest loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Load reads every CUE file in dir as one package and compiles it.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, skips bad units and collects all errors.
func Load(dir string, mode LoadMode) (*Manifest, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("manifest directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing manifest directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	return Compile(value, mode)
}

// LoadString compiles a manifest from CUE source text.
func LoadString(src string, mode LoadMode) (*Manifest, []error) {
	value := cuecontext.New().CompileString(src)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}
	return Compile(value, mode)
}

// Compile extracts the session and unit declarations from a built CUE value.
// The manifest is nil when the session is invalid or any error occurred in
// fail-fast mode.
func Compile(value cue.Value, mode LoadMode) (*Manifest, []error) {
	var errs []error

	sessionVal := value.LookupPath(cue.ParsePath("session"))
	if !sessionVal.Exists() {
		return nil, []error{&LoadError{Code: ErrCodeSessionMissing, Message: "manifest has no session"}}
	}
	session, err := CompileSession(sessionVal)
	if err != nil {
		return nil, []error{convertCompileError(err, "session")}
	}

	var units []*UnitDecl
	unitsVal := value.LookupPath(cue.ParsePath("unit"))
	if unitsVal.Exists() {
		iter, iterErr := unitsVal.Fields()
		if iterErr != nil {
			return nil, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating units: %v", iterErr)}}
		}
		for iter.Next() {
			d, compileErr := CompileUnit(iter.Label(), iter.Value())
			if compileErr != nil {
				errs = append(errs, convertCompileError(compileErr, "unit."+iter.Label()))
				if mode == LoadModeFailFast {
					return nil, errs
				}
				continue
			}
			units = append(units, d)
		}
	}

	return newManifest(session, units), errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compile error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// MapFieldToErrorCode maps a compile error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "platforms":
		return ErrCodeSessionPlatforms
	case "pattern":
		return ErrCodeSessionPattern
	case "name":
		return ErrCodeUnitName
	case "type":
		return ErrCodeUnitType
	case "dependency":
		return ErrCodeUnitDependency
	case "generates":
		return ErrCodeUnitGenerates
	case "incremental", "strict_order", "script", "source", "seed", "map_like",
		"hard", "soft", "build", "deps", "defines", "never_build", "scope", "allow_types", "deny_types":
		return ErrCodeInvalidField
	case "cue":
		return ErrCodeBuildFailed
	default:
		return ErrCodeGeneric
	}
}

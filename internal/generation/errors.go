package generation

import "errors"

var (
	// ErrNoSplitter means no splitter applies to the generator; the helper is Invalid.
	ErrNoSplitter = errors.New("no splitter applies to generator")
	// ErrNotInitialized means the helper is not in the Valid state.
	ErrNotInitialized = errors.New("generation helper not initialized")
	// ErrSaving means the generator is mid-save and cannot be uninitialized.
	ErrSaving = errors.New("generator is saving")
	// ErrAlreadyPopulated means populate was already invoked for the unit this session.
	ErrAlreadyPopulated = errors.New("populate already called")
	// ErrUnknownGenerated means the name is not in the current generate list.
	ErrUnknownGenerated = errors.New("unknown generated unit")
	// ErrGeneratorNotPopulated means a generated unit needs the generator populated first.
	ErrGeneratorNotPopulated = errors.New("generator not populated")
	// ErrPopulateFailed means the splitter reported failure.
	ErrPopulateFailed = errors.New("splitter populate failed")
	// ErrDestroyed means the helper was already torn down.
	ErrDestroyed = errors.New("generation helper destroyed")
)

package cli

import (
	"errors"

	"github.com/roach88/kiln/internal/cluster"
	"github.com/roach88/kiln/internal/manifest"
)

// CLI error codes. E001-E006 and E1xx come from manifest loading.
const (
	ErrCodeStore         = "E007" // Attachment database could not be opened or read
	ErrCodePlanFailed    = "E008" // Plan aborted
	ErrCodeLoadOrder     = "E009" // Load-order cycle under strict ordering
	ErrCodeRunaway       = "E010" // Exploration exceeded its iteration cap
	ErrCodeTestFailed    = "E011" // One or more scenarios failed
	ErrCodeInvalidOption = "E012" // Flag value rejected
)

// errorCode returns the manifest code of a load error, or E001.
func errorCode(err error) string {
	var loadErr *manifest.LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code
	}
	return manifest.ErrCodeGeneric
}

// errorMessage returns the message of a load error without its code prefix.
func errorMessage(err error) string {
	var loadErr *manifest.LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Message
	}
	return err.Error()
}

// isCommandLoadError reports whether a load error concerns the directory
// itself rather than its content.
func isCommandLoadError(err error) bool {
	switch errorCode(err) {
	case manifest.ErrCodeNotFound, manifest.ErrCodeScanError, manifest.ErrCodeNoFiles:
		return true
	}
	return false
}

// planErrorCode maps a plan error to its CLI code.
func planErrorCode(err error) string {
	switch cluster.CodeOf(err) {
	case cluster.ErrCodeLoadOrderCycle:
		return ErrCodeLoadOrder
	case cluster.ErrCodeRunawayLoop:
		return ErrCodeRunaway
	default:
		return ErrCodePlanFailed
	}
}

package cluster

import (
	"errors"
	"fmt"
	"strings"
)

// RuntimeError represents an error detected while a cluster explores or
// extracts results.
//
// Runtime errors include:
//   - Runaway loop: an exploration loop exceeded its iteration cap
//   - Load-order cycle: strict ordering found a hard/soft cycle among units to build
//   - Invalid state: an operation was called out of order
//   - Fetch failed: the storage service reported an error for a unit (logged, not fatal)
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// ClusterID identifies the affected cluster.
	ClusterID string

	// Unit identifies the affected unit, if any.
	Unit string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeRunawayLoop indicates an exploration loop exceeded its iteration cap.
	ErrCodeRunawayLoop RuntimeErrorCode = "RUNAWAY_LOOP"

	// ErrCodeLoadOrderCycle indicates a hard/soft dependency cycle under strict ordering.
	ErrCodeLoadOrderCycle RuntimeErrorCode = "LOAD_ORDER_CYCLE"

	// ErrCodeInvalidState indicates an operation was called out of order.
	ErrCodeInvalidState RuntimeErrorCode = "INVALID_STATE"

	// ErrCodeFetchFailed indicates the storage service failed for a unit.
	ErrCodeFetchFailed RuntimeErrorCode = "FETCH_FAILED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.ClusterID != "" && e.Unit != "" {
		return fmt.Sprintf("%s: %s (cluster=%s, unit=%s)", e.Code, e.Message, e.ClusterID, e.Unit)
	}
	if e.ClusterID != "" {
		return fmt.Sprintf("%s: %s (cluster=%s)", e.Code, e.Message, e.ClusterID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsRunawayError returns true if the error reports an exceeded iteration cap.
// Matches both RuntimeError with ErrCodeRunawayLoop and LoopOverrunError.
func IsRunawayError(err error) bool {
	if hasCode(err, ErrCodeRunawayLoop) {
		return true
	}
	var le *LoopOverrunError
	return errors.As(err, &le)
}

// IsLoadOrderCycleError returns true if strict ordering found a cycle.
func IsLoadOrderCycleError(err error) bool {
	return hasCode(err, ErrCodeLoadOrderCycle)
}

// IsInvalidStateError returns true if an operation was called out of order.
func IsInvalidStateError(err error) bool {
	return hasCode(err, ErrCodeInvalidState)
}

// CodeOf returns the runtime error code carried by err, or "" when err is
// not a runtime error. Loop overruns report ErrCodeRunawayLoop.
func CodeOf(err error) RuntimeErrorCode {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code
	}
	var le *LoopOverrunError
	if errors.As(err, &le) {
		return ErrCodeRunawayLoop
	}
	return ""
}

// NewRunawayError wraps a loop overrun into a fatal RuntimeError.
func NewRunawayError(clusterID string, overrun *LoopOverrunError) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeRunawayLoop,
		Message:   overrun.Error(),
		ClusterID: clusterID,
		Details: map[string]string{
			"loop":  overrun.Loop,
			"count": fmt.Sprintf("%d", overrun.Count),
			"limit": fmt.Sprintf("%d", overrun.Limit),
		},
	}
}

// NewLoadOrderCycleError reports the members of a cycle among units to build.
func NewLoadOrderCycleError(clusterID string, members []string) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeLoadOrderCycle,
		Message:   fmt.Sprintf("dependency cycle among %d units to build", len(members)),
		ClusterID: clusterID,
		Unit:      members[0],
		Details: map[string]string{
			"members": strings.Join(members, ","),
		},
	}
}

// NewInvalidStateError reports an out-of-order call.
func NewInvalidStateError(clusterID, message string) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeInvalidState,
		Message:   message,
		ClusterID: clusterID,
	}
}

// NewFetchError records a per-unit storage failure.
func NewFetchError(clusterID, unitName, platform string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeFetchFailed,
		Message:   cause.Error(),
		ClusterID: clusterID,
		Unit:      unitName,
		Details: map[string]string{
			"platform": platform,
		},
	}
}

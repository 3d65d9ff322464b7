package plug

import (
	"errors"
	"fmt"
)

// Plug system errors.
var (
	// ErrNilManifest is returned when a nil manifest is provided.
	ErrNilManifest = errors.New("manifest is nil")

	// ErrNotLoaded is returned when invoking a plug that is not loaded.
	ErrNotLoaded = errors.New("plug is not loaded")

	// ErrPlugNotFound is returned when a plug cannot be located.
	ErrPlugNotFound = errors.New("plug not found")

	// ErrStaleGeneration is returned when a subscription references a
	// generation that has since been reloaded.
	ErrStaleGeneration = errors.New("stale plug generation")

	// ErrFunctionNotFound is returned when a manifest-declared function
	// does not exist in the sandbox after loading.
	ErrFunctionNotFound = errors.New("function not found")

	// ErrWrongEnvironment is returned when invoking a function whose
	// environment tag excludes this host.
	ErrWrongEnvironment = errors.New("function not available in this environment")
)

// Manifest validation errors.
var (
	ErrMissingName      = errors.New("manifest: name is required")
	ErrInvalidName      = errors.New("manifest: name must be alphanumeric with hyphens")
	ErrNoFunctions      = errors.New("manifest: at least one function is required")
	ErrMissingCode      = errors.New("manifest: function needs a path or inline code")
	ErrInvalidEnv       = errors.New("manifest: invalid environment tag")
	ErrInvalidKey       = errors.New("manifest: invalid keybinding")
	ErrInvalidPattern   = errors.New("manifest: invalid namespace pattern")
	ErrInvalidOperation = errors.New("manifest: invalid namespace operation")
	ErrMissingCommand   = errors.New("manifest: command declaration needs a name")
	ErrMissingSlash     = errors.New("manifest: slash command declaration needs a name")
	ErrInvalidCap       = errors.New("manifest: invalid capability")
)

// FailureKind classifies a failed sandbox invocation.
type FailureKind int

const (
	// FailureTimedOut - the invocation exceeded its timeout.
	FailureTimedOut FailureKind = iota + 1

	// FailureTrapped - the sandbox faulted, panicked, or was terminated
	// while the call was in flight.
	FailureTrapped

	// FailureThrown - the plug function raised an error.
	FailureThrown
)

// String returns the failure kind name.
func (k FailureKind) String() string {
	switch k {
	case FailureTimedOut:
		return "timed out"
	case FailureTrapped:
		return "trapped"
	case FailureThrown:
		return "thrown"
	default:
		return "unknown"
	}
}

// InvokeError reports a failed invocation of a plug function. The
// failure is contained at the plug boundary: callers receive it as a
// result, never as a host fault.
type InvokeError struct {
	Plug     string
	Function string
	Kind     FailureKind
	Err      error
}

// Error implements error.
func (e *InvokeError) Error() string {
	return fmt.Sprintf("plug %s.%s %s: %v", e.Plug, e.Function, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *InvokeError) Unwrap() error {
	return e.Err
}

// IsTimedOut reports whether err is an invocation timeout.
func IsTimedOut(err error) bool {
	var ie *InvokeError
	return errors.As(err, &ie) && ie.Kind == FailureTimedOut
}

// IsTrapped reports whether err is a sandbox trap or termination.
func IsTrapped(err error) bool {
	var ie *InvokeError
	return errors.As(err, &ie) && ie.Kind == FailureTrapped
}

// IsThrown reports whether err is an error raised by plug code.
func IsThrown(err error) bool {
	var ie *InvokeError
	return errors.As(err, &ie) && ie.Kind == FailureThrown
}

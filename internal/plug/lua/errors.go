package lua

import "errors"

// Runtime errors.
var (
	// ErrStateClosed is returned when using a closed State.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrExecutorClosed is returned when a call is resolved by executor
	// shutdown instead of running to completion.
	ErrExecutorClosed = errors.New("lua executor is closed")

	// ErrPanic wraps a recovered panic from inside the VM.
	ErrPanic = errors.New("lua panic")

	// ErrQueueFull is returned when the executor queue is saturated.
	ErrQueueFull = errors.New("lua executor queue full")
)

package lua

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Executor serializes all operations on a State through one goroutine.
//
// gopher-lua's LState must only be touched from a single goroutine.
// The Executor owns that goroutine; callers submit closures and wait
// for the result. Closing the executor drains every queued call with
// ErrExecutorClosed, so a pending call that races with teardown always
// resolves instead of hanging.
type Executor struct {
	state     *State
	queue     chan *call
	done      chan struct{} // closed by Close
	stopped   chan struct{} // closed when the run loop exits
	closed    atomic.Bool
	closeOnce sync.Once
}

type call struct {
	fn     func(*State) error
	result chan error
}

// DefaultQueueSize is the executor queue depth when none is given.
const DefaultQueueSize = 64

// NewExecutor creates an executor for the state and starts its run
// loop. The caller must Close it to release the goroutine.
func NewExecutor(state *State, queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	e := &Executor{
		state:   state,
		queue:   make(chan *call, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go e.run()
	return e
}

// run is the single goroutine that owns the Lua state.
func (e *Executor) run() {
	defer close(e.stopped)
	for {
		select {
		case <-e.done:
			e.drain()
			return
		case c := <-e.queue:
			// Close may have raced with the dequeue; never start new
			// work on a closed executor.
			select {
			case <-e.done:
				c.result <- ErrExecutorClosed
				close(c.result)
				e.drain()
				return
			default:
			}
			err := runGuarded(c.fn, e.state)
			c.result <- err
			close(c.result)
		}
	}
}

// runGuarded executes one call with panic recovery.
func runGuarded(fn func(*State) error, s *State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn(s)
}

// drain resolves all queued calls with ErrExecutorClosed.
func (e *Executor) drain() {
	for {
		select {
		case c := <-e.queue:
			c.result <- ErrExecutorClosed
			close(c.result)
		default:
			return
		}
	}
}

// Execute submits fn and waits for it to complete, the context to be
// done, or the executor to close.
func (e *Executor) Execute(ctx context.Context, fn func(*State) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	c := &call{fn: fn, result: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- c:
	}

	select {
	case <-ctx.Done():
		// The call stays queued and will run or drain; the VM aborts
		// it through the context the State attaches in Load and Call.
		return ctx.Err()
	case err, ok := <-c.result:
		if !ok {
			return ErrExecutorClosed
		}
		return err
	}
}

// TryExecute submits fn without waiting for completion. It fails fast
// with ErrQueueFull when the queue is saturated.
func (e *Executor) TryExecute(fn func(*State) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	c := &call{fn: fn, result: make(chan error, 1)}
	select {
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- c:
		go func() { <-c.result }()
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the executor. Queued calls resolve with
// ErrExecutorClosed. Close does not wait for the run loop; use Done.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
}

// Done returns a channel closed once the run loop has exited and no
// further call will touch the Lua state.
func (e *Executor) Done() <-chan struct{} {
	return e.stopped
}

// IsClosed reports whether Close has been called.
func (e *Executor) IsClosed() bool {
	return e.closed.Load()
}

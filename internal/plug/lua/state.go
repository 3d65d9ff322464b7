package lua

import (
	"context"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// State wraps a sandboxed gopher-lua LState.
//
// LState is not goroutine-safe; callers must route all access through
// a single goroutine (see Executor). State itself performs no locking.
type State struct {
	L      *lua.LState
	closed bool
}

// NewState creates a Lua state with only the safe standard libraries
// opened and the sandbox restrictions installed.
func NewState() *State {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	// Safe subset of the standard libraries. io, os, debug and the
	// package loader stay closed: host access goes through syscalls.
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	s := &State{L: L}
	s.installSandbox()
	return s
}

// installSandbox removes the escape hatches the base library leaves
// open after a selective OpenLibs.
func (s *State) installSandbox() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		s.L.SetGlobal(name, lua.LNil)
	}
	// print goes nowhere by default; the host replaces it with a
	// logger-backed implementation when it loads the plug.
	s.L.SetGlobal("print", s.L.NewFunction(func(L *lua.LState) int { return 0 }))
}

// SetGlobalFunc installs a Go function as a Lua global.
func (s *State) SetGlobalFunc(name string, fn lua.LGFunction) {
	s.L.SetGlobal(name, s.L.NewFunction(fn))
}

// Load compiles and runs a chunk of plug source. The chunk name
// appears in Lua stack traces. The context is attached to the VM for
// the duration of the run, so a top-level loop in plug code is aborted
// by cancellation or deadline just like a Call.
func (s *State) Load(ctx context.Context, code, name string) (err error) {
	if s.closed {
		return ErrStateClosed
	}

	fn, err := s.L.Load(strings.NewReader(code), name)
	if err != nil {
		return err
	}

	s.L.SetContext(ctx)
	defer func() {
		s.L.RemoveContext()
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	s.L.Push(fn)
	return s.L.PCall(0, 0, nil)
}

// HasFunction reports whether a global Lua function with the given
// name exists.
func (s *State) HasFunction(name string) bool {
	if s.closed {
		return false
	}
	return s.L.GetGlobal(name).Type() == lua.LTFunction
}

// Call invokes a global Lua function. The context is attached to the
// VM for the duration of the call, so cancellation and deadlines abort
// long-running Lua code.
func (s *State) Call(ctx context.Context, fn string, args ...lua.LValue) (results []lua.LValue, err error) {
	if s.closed {
		return nil, ErrStateClosed
	}

	fnVal := s.L.GetGlobal(fn)
	if fnVal.Type() != lua.LTFunction {
		return nil, fmt.Errorf("function %q not found", fn)
	}

	s.L.SetContext(ctx)
	defer func() {
		s.L.RemoveContext()
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	top := s.L.GetTop()
	s.L.Push(fnVal)
	for _, arg := range args {
		s.L.Push(arg)
	}
	if err := s.L.PCall(len(args), lua.MultRet, nil); err != nil {
		return nil, err
	}

	nRet := s.L.GetTop() - top
	results = make([]lua.LValue, nRet)
	for i := 0; i < nRet; i++ {
		results[i] = s.L.Get(top + i + 1)
	}
	s.L.Pop(nRet)
	return results, nil
}

// Close releases the underlying LState. Safe to call twice.
func (s *State) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.L.Close()
}

// Package lua provides the sandboxed Lua runtime for plugs.
//
// Each plug owns one State. A State never grants access to host
// resources: the io, os, debug and package loading facilities are
// stripped, and the only way out of the sandbox is the syscall
// function the host injects. All operations on a State are serialized
// through its Executor because gopher-lua's LState is not
// goroutine-safe.
package lua

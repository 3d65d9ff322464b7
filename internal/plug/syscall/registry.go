// Package syscall implements the host-side syscall surface exposed to
// sandboxed plugs.
//
// Every host capability a plug can reach goes through a named syscall
// binding registered here. Dispatch enforces the two gates that make
// this the runtime's privilege boundary: the execution-environment tag
// (a syscall declared for "server" is rejected when invoked from a
// client host, and vice versa) and an optional capability tag the
// calling plug must have declared in its manifest.
package syscall

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Dispatch errors.
var (
	// ErrNotFound is returned for unknown syscall names.
	ErrNotFound = errors.New("syscall not found")

	// ErrEnvMismatch is returned when the caller's environment does not
	// satisfy the binding's required environment.
	ErrEnvMismatch = errors.New("syscall not available in this environment")

	// ErrCapabilityDenied is returned when the calling plug has not been
	// granted the binding's required capability.
	ErrCapabilityDenied = errors.New("syscall capability denied")
)

// Env tags an execution environment.
type Env string

// Recognized environments. EnvAny means the syscall or function runs
// anywhere.
const (
	EnvAny    Env = ""
	EnvClient Env = "client"
	EnvServer Env = "server"
)

// ParseEnv validates an environment tag from a manifest.
func ParseEnv(s string) (Env, error) {
	switch Env(s) {
	case EnvAny, EnvClient, EnvServer:
		return Env(s), nil
	default:
		return EnvAny, fmt.Errorf("unknown environment %q", s)
	}
}

// Allows reports whether a caller running in env may use a binding
// declared with e.
func (e Env) Allows(caller Env) bool {
	return e == EnvAny || e == caller
}

// Capability restricts which plugs may invoke a binding.
type Capability string

// Built-in syscall capabilities.
const (
	CapIndex      Capability = "index"
	CapSpaceRead  Capability = "space.read"
	CapSpaceWrite Capability = "space.write"
	CapEvent      Capability = "event"
	CapSystem     Capability = "system"
)

// validCapabilities are the capability tags a manifest may declare.
var validCapabilities = map[Capability]bool{
	CapIndex:      true,
	CapSpaceRead:  true,
	CapSpaceWrite: true,
	CapEvent:      true,
	CapSystem:     true,
}

// ValidCapability reports whether cap is a recognized capability tag.
func ValidCapability(cap Capability) bool {
	return validCapabilities[cap]
}

// Caller identifies the sandbox invoking a syscall.
type Caller struct {
	// Plug is the calling plug's name. Empty for host-internal callers.
	Plug string

	// Env is the environment the caller's sandbox runs in.
	Env Env

	// Caps are the capabilities granted to the caller.
	Caps map[Capability]bool
}

// Has reports whether the caller holds the capability.
func (c Caller) Has(cap Capability) bool {
	return c.Caps[cap]
}

// Func is a syscall implementation. Args arrive as plain Go values
// converted from the sandbox (bool, float64, string, []any,
// map[string]any); the return value crosses back the same way.
type Func func(ctx context.Context, caller Caller, args []any) (any, error)

// Binding maps a syscall name to its implementation and gates.
type Binding struct {
	// Name is the namespaced syscall name, e.g. "index.get".
	Name string

	// Env restricts which host environment may serve the call.
	Env Env

	// Capability, when non-empty, must be held by the calling plug.
	Capability Capability

	// Owner names the plug that registered the binding. Empty for
	// built-in bindings.
	Owner string

	// Func is the host implementation.
	Func Func
}

// Registry is the syscall table. Mutated only during load/unload;
// dispatch lookups take the read lock.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		bindings: make(map[string]Binding),
		logger:   logger,
	}
}

// Register adds a binding. Re-registration under an active name
// overwrites the prior binding; the collision is logged because it is
// only expected during reloads.
func (r *Registry) Register(b Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, exists := r.bindings[b.Name]; exists {
		r.logger.Warn("syscall re-registered",
			zap.String("syscall", b.Name),
			zap.String("previous_owner", prev.Owner),
			zap.String("owner", b.Owner))
	}
	r.bindings[b.Name] = b
}

// RegisterAll adds every binding in bs.
func (r *Registry) RegisterAll(bs []Binding) {
	for _, b := range bs {
		r.Register(b)
	}
}

// Dispatch invokes the named syscall on behalf of caller.
func (r *Registry) Dispatch(ctx context.Context, caller Caller, name string, args []any) (any, error) {
	r.mu.RLock()
	b, ok := r.bindings[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if !b.Env.Allows(caller.Env) {
		return nil, fmt.Errorf("%w: %s requires %q, caller is %q",
			ErrEnvMismatch, name, b.Env, caller.Env)
	}
	if b.Capability != "" && !caller.Has(b.Capability) {
		return nil, fmt.Errorf("%w: %s requires capability %q",
			ErrCapabilityDenied, name, b.Capability)
	}
	return b.Func(ctx, caller, args)
}

// UnregisterOwner removes every binding registered by the named plug.
// Returns the number of bindings removed.
func (r *Registry) UnregisterOwner(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for name, b := range r.bindings {
		if b.Owner == owner && b.Owner != "" {
			delete(r.bindings, name)
			count++
		}
	}
	return count
}

// Names returns all registered syscall names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.bindings))
	for name := range r.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a binding exists for name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bindings[name]
	return ok
}

// Clear removes all bindings.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = make(map[string]Binding)
}

// Count returns the number of registered bindings.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

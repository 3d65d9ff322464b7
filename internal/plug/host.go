package plug

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	glua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	plua "github.com/markhost/markhost/internal/plug/lua"
	"github.com/markhost/markhost/internal/plug/syscall"
)

// Default limits for sandbox invocations.
const (
	DefaultInvokeTimeout    = 5 * time.Second
	DefaultLoadTimeout      = 10 * time.Second
	DefaultTerminateTimeout = 2 * time.Second
)

// Host binds a manifest to a live sandbox and a generation counter.
// One Host exists per loaded plug; it owns the plug's Lua state and
// the executor goroutine that serializes access to it.
//
// Calls cross the sandbox boundary as plain Go values converted by the
// bridge; no Lua value escapes a Host.
type Host struct {
	manifest   *Manifest
	generation uint64
	env        syscall.Env
	caller     syscall.Caller

	state *plua.State
	exec  *plua.Executor

	registry *syscall.Registry
	logger   *zap.Logger

	invokeTimeout    time.Duration
	loadTimeout      time.Duration
	terminateTimeout time.Duration

	// baseCtx is canceled on Terminate, aborting in-flight Lua code.
	baseCtx context.Context
	cancel  context.CancelFunc

	loaded        atomic.Bool
	terminated    atomic.Bool
	terminateOnce sync.Once
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithInvokeTimeout sets the default per-invocation timeout.
func WithInvokeTimeout(d time.Duration) HostOption {
	return func(h *Host) { h.invokeTimeout = d }
}

// WithHostLoadTimeout bounds how long Load may spend running the
// plug's top-level chunks.
func WithHostLoadTimeout(d time.Duration) HostOption {
	return func(h *Host) { h.loadTimeout = d }
}

// WithHostLogger sets the host logger.
func WithHostLogger(logger *zap.Logger) HostOption {
	return func(h *Host) { h.logger = logger }
}

// NewHost creates a host for the manifest. The sandbox is not
// allocated until Load.
func NewHost(manifest *Manifest, generation uint64, env syscall.Env, registry *syscall.Registry, opts ...HostOption) (*Host, error) {
	if manifest == nil {
		return nil, ErrNilManifest
	}

	caps := make(map[syscall.Capability]bool, len(manifest.Capabilities))
	for _, c := range manifest.Capabilities {
		caps[c] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		manifest:         manifest,
		generation:       generation,
		env:              env,
		caller:           syscall.Caller{Plug: manifest.Name, Env: env, Caps: caps},
		registry:         registry,
		logger:           zap.NewNop(),
		invokeTimeout:    DefaultInvokeTimeout,
		loadTimeout:      DefaultLoadTimeout,
		terminateTimeout: DefaultTerminateTimeout,
		baseCtx:          ctx,
		cancel:           cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(
		zap.String("plug", manifest.Name),
		zap.Uint64("generation", generation),
	)
	return h, nil
}

// Name returns the plug name.
func (h *Host) Name() string { return h.manifest.Name }

// Manifest returns the plug manifest.
func (h *Host) Manifest() *Manifest { return h.manifest }

// Generation returns the load generation of this host.
func (h *Host) Generation() uint64 { return h.generation }

// Env returns the environment the host's sandbox runs in.
func (h *Host) Env() syscall.Env { return h.env }

// Load allocates the sandbox, injects the syscall channel, and runs
// every function definition's source. The whole run is bounded by the
// load timeout: a top-level loop in plug code is aborted and reported
// as a load failure. A failure here excludes the plug without
// affecting others.
func (h *Host) Load(ctx context.Context) error {
	if h.loaded.Load() || h.terminated.Load() {
		return fmt.Errorf("plug %s: already loaded", h.manifest.Name)
	}

	state := plua.NewState()
	state.SetGlobalFunc("syscall", h.syscallFunc)
	state.SetGlobalFunc("print", h.printFunc)

	h.state = state
	h.exec = plua.NewExecutor(state, 0)

	lctx, cancel := context.WithTimeout(ctx, h.loadTimeout)
	defer cancel()

	loadedChunks := make(map[string]bool)
	err := h.exec.Execute(lctx, func(s *plua.State) error {
		for _, name := range h.manifest.FunctionNames() {
			def := h.manifest.Functions[name]
			if !h.runsHere(def) {
				continue
			}

			code, chunk, err := h.resolveSource(name, def)
			if err != nil {
				return err
			}
			// Several functions may share one source file; run it once.
			if !loadedChunks[chunk] {
				if err := s.Load(lctx, code, chunk); err != nil {
					return fmt.Errorf("plug %s: %s: %w", h.manifest.Name, chunk, err)
				}
				loadedChunks[chunk] = true
			}
			if !s.HasFunction(name) {
				return fmt.Errorf("plug %s: %w: %s (not defined by %s)",
					h.manifest.Name, ErrFunctionNotFound, name, chunk)
			}
		}
		return nil
	})
	if err != nil {
		h.teardown()
		if errors.Is(lctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("plug %s: load timed out after %s: %w",
				h.manifest.Name, h.loadTimeout, context.DeadlineExceeded)
		}
		return err
	}

	h.loaded.Store(true)
	return nil
}

// resolveSource returns the Lua source and chunk name for a function.
func (h *Host) resolveSource(name string, def FunctionDef) (code, chunk string, err error) {
	if def.Code != "" {
		return def.Code, h.manifest.Name + "." + name, nil
	}
	path := def.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(h.manifest.Dir(), path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("plug %s: read %s: %w", h.manifest.Name, def.Path, err)
	}
	return string(data), def.Path, nil
}

// runsHere reports whether the function's environment tag allows it to
// run in this host's environment.
func (h *Host) runsHere(def FunctionDef) bool {
	env, err := syscall.ParseEnv(def.Env)
	if err != nil {
		return false
	}
	return env.Allows(h.env)
}

// HasFunction reports whether the named function is declared and
// runnable in this host's environment.
func (h *Host) HasFunction(name string) bool {
	def, ok := h.manifest.Functions[name]
	return ok && h.runsHere(def)
}

// Invoke calls a plug function inside the sandbox with the default
// timeout. See InvokeTimeout.
func (h *Host) Invoke(ctx context.Context, fn string, args ...any) (any, error) {
	return h.InvokeTimeout(ctx, fn, h.invokeTimeout, args...)
}

// InvokeTimeout calls a plug function inside the sandbox. The timeout
// is enforced on the VM itself: long-running Lua code is aborted. A
// failed invocation is returned as an *InvokeError classified as
// FailureTimedOut, FailureTrapped, or FailureThrown; a sandbox fault
// never crashes the host.
func (h *Host) InvokeTimeout(ctx context.Context, fn string, timeout time.Duration, args ...any) (any, error) {
	if !h.loaded.Load() || h.terminated.Load() {
		return nil, &InvokeError{Plug: h.manifest.Name, Function: fn, Kind: FailureTrapped, Err: ErrNotLoaded}
	}

	def, ok := h.manifest.Functions[fn]
	if !ok {
		return nil, fmt.Errorf("plug %s: %w: %s", h.manifest.Name, ErrFunctionNotFound, fn)
	}
	if !h.runsHere(def) {
		return nil, fmt.Errorf("plug %s: %w: %s", h.manifest.Name, ErrWrongEnvironment, fn)
	}

	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(h.baseCtx, cancel)
	defer stop()

	var result any
	err := h.exec.Execute(ictx, func(s *plua.State) error {
		luaArgs := make([]glua.LValue, len(args))
		for i, a := range args {
			luaArgs[i] = plua.ToLua(s.L, a)
		}
		results, err := s.Call(ictx, fn, luaArgs...)
		if err != nil {
			return err
		}
		if len(results) > 0 {
			result = plua.ToGo(results[0])
		}
		return nil
	})
	if err != nil {
		return nil, h.classify(fn, ictx, err)
	}
	return result, nil
}

// classify maps a raw invocation error onto the failure taxonomy.
func (h *Host) classify(fn string, ictx context.Context, err error) *InvokeError {
	kind := FailureThrown
	switch {
	case errors.Is(ictx.Err(), context.DeadlineExceeded):
		kind = FailureTimedOut
	case errors.Is(ictx.Err(), context.Canceled),
		errors.Is(err, plua.ErrExecutorClosed),
		errors.Is(err, plua.ErrStateClosed),
		errors.Is(err, plua.ErrPanic):
		kind = FailureTrapped
	}
	return &InvokeError{Plug: h.manifest.Name, Function: fn, Kind: kind, Err: err}
}

// Terminate tears down the sandbox. It is safe to call on a crashed or
// hung sandbox and safe to call twice. Pending calls resolve as
// FailureTrapped; they never hang.
func (h *Host) Terminate() {
	h.terminateOnce.Do(func() {
		h.terminated.Store(true)
		h.loaded.Store(false)
		h.teardown()
	})
}

// teardown forces the sandbox down: abort running Lua, drain the
// queue, then close the state once the executor goroutine has exited.
func (h *Host) teardown() {
	h.cancel()
	if h.exec == nil {
		return
	}
	h.exec.Close()
	select {
	case <-h.exec.Done():
		h.state.Close()
	case <-time.After(h.terminateTimeout):
		// The VM is stuck in a call that ignores its context. Leak the
		// state rather than close it under a running goroutine.
		h.logger.Warn("sandbox did not stop in time, leaking lua state")
	}
}

// syscallFunc is the single channel out of the sandbox. Lua signature:
// syscall(name, args...) -> result. Unknown names, environment
// mismatches, and capability denials raise Lua errors the plug can
// pcall.
func (h *Host) syscallFunc(L *glua.LState) int {
	name := L.CheckString(1)

	args := make([]any, 0, L.GetTop()-1)
	for i := 2; i <= L.GetTop(); i++ {
		args = append(args, plua.ToGo(L.Get(i)))
	}

	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := h.registry.Dispatch(ctx, h.caller, name, args)
	if err != nil {
		L.RaiseError("syscall %s: %v", name, err)
		return 0
	}
	L.Push(plua.ToLua(L, result))
	return 1
}

// printFunc routes plug print output to the host logger.
func (h *Host) printFunc(L *glua.LState) int {
	parts := make([]string, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts[i-1] = L.Get(i).String()
	}
	h.logger.Info("plug print", zap.Strings("args", parts))
	return 0
}

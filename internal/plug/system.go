package plug

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/markhost/markhost/internal/plug/hook"
	"github.com/markhost/markhost/internal/plug/syscall"
	"github.com/markhost/markhost/internal/space"
)

// loadConcurrency bounds how many sandboxes are built in parallel
// during LoadAll.
const loadConcurrency = 4

// System is the plug orchestrator. It owns the syscall registry, the
// space store and index, the hook tables, and one sandboxed Host per
// loaded plug, and it is the only component that crosses between them:
// hooks call back into sandboxes through it, and sandboxes reach the
// hooks and the space through the syscalls it registers.
type System struct {
	env         syscall.Env
	macKeys     bool
	logger      *zap.Logger
	timeout     time.Duration
	loadTimeout time.Duration

	registry *syscall.Registry
	store    space.Store
	index    *space.Index

	events     *hook.EventHook
	commands   *hook.CommandHook
	slashes    *hook.SlashHook
	namespaces *hook.NamespaceHook

	mu      sync.RWMutex
	hosts   map[string]*Host
	order   []string
	lastGen uint64

	reloadPending atomic.Bool
}

// SystemOption configures a System.
type SystemOption func(*System)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) SystemOption {
	return func(s *System) { s.logger = logger }
}

// WithEnv sets the environment this runtime identifies as. Functions
// and syscalls pinned to the other environment are unavailable here.
func WithEnv(env syscall.Env) SystemOption {
	return func(s *System) { s.env = env }
}

// WithStore sets the page store backing the space.* syscalls.
// Defaults to an in-memory store.
func WithStore(store space.Store) SystemOption {
	return func(s *System) { s.store = store }
}

// WithMacKeys makes command keybindings prefer a definition's Mac
// spec over its default Key spec.
func WithMacKeys(on bool) SystemOption {
	return func(s *System) { s.macKeys = on }
}

// WithTimeout sets the per-invocation timeout applied to every
// sandbox call made through this system.
func WithTimeout(d time.Duration) SystemOption {
	return func(s *System) { s.timeout = d }
}

// WithLoadTimeout bounds how long one plug's top-level code may run
// during load. A plug that exceeds it fails to load; the others are
// unaffected.
func WithLoadTimeout(d time.Duration) SystemOption {
	return func(s *System) { s.loadTimeout = d }
}

// NewSystem creates an orchestrator with the builtin syscall surface
// registered and empty hook tables.
func NewSystem(opts ...SystemOption) *System {
	s := &System{
		env:         syscall.EnvServer,
		timeout:     DefaultInvokeTimeout,
		loadTimeout: DefaultLoadTimeout,
		hosts:       make(map[string]*Host),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.store == nil {
		s.store = space.NewMemoryStore()
	}
	s.index = space.NewIndex()
	s.registry = syscall.NewRegistry(s.logger)

	s.events = hook.NewEventHook(s, s.logger)
	s.commands = hook.NewCommandHook(s, s.macKeys, s.logger)
	s.slashes = hook.NewSlashHook(s, s.logger)
	s.namespaces = hook.NewNamespaceHook(s, s.logger)

	s.registry.RegisterAll(syscall.IndexBindings(s.index))
	s.registry.RegisterAll(syscall.SpaceBindings(s.store, s))
	s.registry.RegisterAll(syscall.EventBindings(s))
	s.registry.RegisterAll(syscall.SystemBindings(s))
	return s
}

// LoadReport summarizes one LoadAll run.
type LoadReport struct {
	Loaded []string
	Failed map[string]error
}

// LoadAll loads the bundles into sandboxes. Sandbox construction runs
// in parallel, but registration happens strictly in bundle order, so
// two runs over the same bundle list produce identical hook tables. A
// bundle that fails to load is reported and skipped; it never aborts
// the others. After loading, subscribers to the plug lifecycle event
// are notified.
func (s *System) LoadAll(ctx context.Context, bundles []Bundle) *LoadReport {
	report := &LoadReport{Failed: make(map[string]error)}

	s.mu.Lock()
	baseGen := s.lastGen
	s.lastGen += uint64(len(bundles))
	s.mu.Unlock()

	hosts := make([]*Host, len(bundles))
	errs := make([]error, len(bundles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, b := range bundles {
		i, b := i, b
		g.Go(func() error {
			if b.Err != nil {
				errs[i] = b.Err
				return nil
			}
			h, err := NewHost(b.Manifest, baseGen+uint64(i)+1, s.env, s.registry,
				WithHostLogger(s.logger), WithInvokeTimeout(s.timeout),
				WithHostLoadTimeout(s.loadTimeout))
			if err != nil {
				errs[i] = err
				return nil
			}
			if err := h.Load(gctx); err != nil {
				h.Terminate()
				errs[i] = err
				return nil
			}
			hosts[i] = h
			return nil
		})
	}
	_ = g.Wait()

	var replaced []*Host
	s.mu.Lock()
	for i, b := range bundles {
		if errs[i] != nil {
			s.logger.Error("plug failed to load",
				zap.String("plug", b.Name), zap.Error(errs[i]))
			report.Failed[b.Name] = errs[i]
			continue
		}
		h := hosts[i]
		if prev, ok := s.hosts[h.Name()]; ok {
			s.logger.Warn("plug name already loaded, replacing",
				zap.String("plug", h.Name()))
			s.detachLocked(prev)
			s.order = removeName(s.order, h.Name())
			replaced = append(replaced, prev)
		}
		s.hosts[h.Name()] = h
		s.order = append(s.order, h.Name())
		s.attachLocked(h)
		report.Loaded = append(report.Loaded, h.Name())
	}
	s.rebuildTablesLocked()
	s.mu.Unlock()

	for _, prev := range replaced {
		prev.Terminate()
	}

	if len(report.Loaded) > 0 {
		s.events.Dispatch(ctx, hook.EventPlugsLoaded, namesPayload(report.Loaded))
	}
	return report
}

// Unload terminates one plug and removes every trigger and syscall it
// contributed.
func (s *System) Unload(name string) error {
	s.mu.Lock()
	h, ok := s.hosts[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrPlugNotFound, name)
	}
	s.detachLocked(h)
	delete(s.hosts, name)
	s.order = removeName(s.order, name)
	s.rebuildTablesLocked()
	s.mu.Unlock()

	h.Terminate()
	s.logger.Info("plug unloaded", zap.String("plug", name))
	return nil
}

// UnloadAll terminates every plug in reverse load order and leaves
// the hook tables and plug-owned syscalls empty.
func (s *System) UnloadAll() {
	s.mu.Lock()
	order := s.order
	hosts := s.hosts
	s.order = nil
	s.hosts = make(map[string]*Host)
	s.events.Reset()
	s.rebuildTablesLocked()
	s.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		h := hosts[order[i]]
		s.registry.UnregisterOwner(h.Name())
		h.Terminate()
	}
	s.logger.Info("all plugs unloaded", zap.Int("count", len(order)))
}

// Reload tears everything down and loads the bundles fresh. Loaded
// plugs get new generations, so invocations held over from before the
// reload are rejected as stale rather than reaching the wrong sandbox.
func (s *System) Reload(ctx context.Context, bundles []Bundle) *LoadReport {
	s.UnloadAll()
	s.reloadPending.Store(false)
	return s.LoadAll(ctx, bundles)
}

// ReloadPending reports whether a plug has asked for a reload since
// the last Reload.
func (s *System) ReloadPending() bool { return s.reloadPending.Load() }

// attachLocked registers the host's event subscriptions and exposes
// its functions as plug syscalls. Caller holds s.mu.
func (s *System) attachLocked(h *Host) {
	m := h.Manifest()
	for _, fn := range m.FunctionNames() {
		def := m.Functions[fn]
		env, err := syscall.ParseEnv(def.Env)
		if err != nil || !env.Allows(s.env) {
			continue
		}
		for _, event := range def.Events {
			s.events.Subscribe(event, hook.Subscriber{
				Plug:       h.Name(),
				Generation: h.Generation(),
				Function:   fn,
			})
		}
		plugName, gen, fnName := h.Name(), h.Generation(), fn
		s.registry.Register(syscall.Binding{
			Name:  plugName + "." + fnName,
			Env:   env,
			Owner: plugName,
			Func: func(ctx context.Context, _ syscall.Caller, args []any) (any, error) {
				return s.InvokePlug(ctx, plugName, gen, fnName, args...)
			},
		})
	}
}

// detachLocked removes everything the host contributed outside its
// own sandbox. Caller holds s.mu.
func (s *System) detachLocked(h *Host) {
	s.events.UnsubscribePlug(h.Name())
	s.registry.UnregisterOwner(h.Name())
}

// rebuildTablesLocked recomputes the command, slash, and namespace
// tables from the current hosts in load order. Caller holds s.mu.
func (s *System) rebuildTablesLocked() {
	var cmds []hook.CommandDef
	var slashes []hook.SlashDef
	var claims []hook.NamespaceDef

	for _, name := range s.order {
		h := s.hosts[name]
		m := h.Manifest()
		for _, fn := range m.FunctionNames() {
			def := m.Functions[fn]
			env, err := syscall.ParseEnv(def.Env)
			if err != nil || !env.Allows(s.env) {
				continue
			}
			if def.Command != nil {
				cmds = append(cmds, hook.CommandDef{
					Name:       def.Command.Name,
					Key:        def.Command.Key,
					Mac:        def.Command.Mac,
					Priority:   def.Command.Priority,
					Contexts:   def.Command.Contexts,
					Plug:       h.Name(),
					Generation: h.Generation(),
					Function:   fn,
				})
			}
			if def.SlashCommand != nil {
				slashes = append(slashes, hook.SlashDef{
					Name:        def.SlashCommand.Name,
					Description: def.SlashCommand.Description,
					Value:       def.SlashCommand.Value,
					Priority:    def.SlashCommand.Priority,
					Plug:        h.Name(),
					Generation:  h.Generation(),
					Function:    fn,
				})
			}
			if def.PageNamespace != nil {
				claims = append(claims, hook.NamespaceDef{
					Pattern:    def.PageNamespace.Pattern,
					Operation:  def.PageNamespace.Operation,
					Plug:       h.Name(),
					Generation: h.Generation(),
					Function:   fn,
				})
			}
		}
	}

	s.commands.Rebuild(cmds)
	s.slashes.Rebuild(slashes)
	s.namespaces.Rebuild(claims)
}

// InvokePlug routes a hook trigger into the named sandbox, refusing
// the call when the plug is gone or has been reloaded since the
// trigger was registered.
func (s *System) InvokePlug(ctx context.Context, plug string, generation uint64, fn string, args ...any) (any, error) {
	s.mu.RLock()
	h, ok := s.hosts[plug]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPlugNotFound, plug)
	}
	if h.Generation() != generation {
		return nil, fmt.Errorf("%w: %s at generation %d, current %d",
			ErrStaleGeneration, plug, generation, h.Generation())
	}
	return h.Invoke(ctx, fn, args...)
}

// InvokeFunction calls a plug function by its "plug.function"
// reference.
func (s *System) InvokeFunction(ctx context.Context, ref string, args []any) (any, error) {
	plugName, fn, ok := strings.Cut(ref, ".")
	if !ok {
		return nil, fmt.Errorf("invalid function reference %q, want plug.function", ref)
	}
	s.mu.RLock()
	h, found := s.hosts[plugName]
	s.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrPlugNotFound, plugName)
	}
	return h.Invoke(ctx, fn, args...)
}

// DispatchEvent fans the event out to every subscriber and returns
// the successful non-nil results in registration order.
func (s *System) DispatchEvent(ctx context.Context, name string, payload any) []any {
	return s.events.Dispatch(ctx, name, payload)
}

// DispatchSingle dispatches an event expected to have at most one
// answer.
func (s *System) DispatchSingle(ctx context.Context, name string, payload any) (any, bool) {
	return s.events.DispatchSingle(ctx, name, payload)
}

// SubscribedEvents returns the event names with at least one
// subscriber, sorted.
func (s *System) SubscribedEvents() []string { return s.events.Events() }

// RunCommand executes a named command.
func (s *System) RunCommand(ctx context.Context, name string, args ...any) (any, error) {
	return s.commands.Run(ctx, name, args...)
}

// RunKey executes the command bound to a key spec.
func (s *System) RunKey(ctx context.Context, spec string, args ...any) (any, error) {
	return s.commands.RunKey(ctx, spec, args...)
}

// LookupKey resolves a key spec to its winning command.
func (s *System) LookupKey(spec string) (hook.CommandDef, bool) {
	return s.commands.Lookup(spec)
}

// Commands returns every registered command, sorted by name.
func (s *System) Commands() []hook.CommandDef { return s.commands.Commands() }

// ListCommands returns all command names, sorted.
func (s *System) ListCommands() []string { return s.commands.Names() }

// CompleteSlash returns the slash commands matching a prefix, ranked.
func (s *System) CompleteSlash(prefix string) []hook.SlashDef {
	return s.slashes.Complete(prefix)
}

// RunSlash expands the slash command with the given trigger.
func (s *System) RunSlash(ctx context.Context, trigger string, args ...any) (any, error) {
	return s.slashes.Run(ctx, trigger, args...)
}

// RouteNamespace routes a page operation through the namespace claims.
func (s *System) RouteNamespace(ctx context.Context, operation, name string) (any, bool, error) {
	return s.namespaces.Route(ctx, operation, name)
}

// ListPlugs returns the loaded plug names in load order.
func (s *System) ListPlugs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// RequestReload records that a plug asked for a reload. The embedder
// decides when to act on it; see ReloadPending.
func (s *System) RequestReload() {
	s.reloadPending.Store(true)
	s.logger.Info("plug reload requested")
}

// Store returns the page store backing the space syscalls.
func (s *System) Store() space.Store { return s.store }

// Index returns the shared object index.
func (s *System) Index() *space.Index { return s.index }

// Registry returns the syscall registry.
func (s *System) Registry() *syscall.Registry { return s.registry }

func removeName(order []string, name string) []string {
	out := order[:0]
	for _, n := range order {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

func namesPayload(names []string) []any {
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

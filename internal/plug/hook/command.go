package hook

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/markhost/markhost/internal/plug/key"
)

// ErrCommandNotFound is returned by Run for an unknown command name.
var ErrCommandNotFound = fmt.Errorf("command not found")

// CommandDef describes a named command contributed by a plug.
type CommandDef struct {
	Name       string
	Key        string
	Mac        string
	Priority   int
	Contexts   []string
	Plug       string
	Generation uint64
	Function   string

	loadIndex int
}

// commandTable is an immutable snapshot of the command registry.
// Rebuild produces a fresh table from scratch; lookups read one
// snapshot without locking.
type commandTable struct {
	byName map[string]CommandDef
	byKey  map[string][]CommandDef
}

// CommandHook maps command names and key specs to plug functions. The
// full table is recomputed on every plug load or unload rather than
// patched incrementally, so a rebuild after any change always yields
// the same table regardless of history.
type CommandHook struct {
	invoker Invoker
	logger  *zap.Logger
	macKeys bool

	mu    sync.Mutex
	table atomic.Pointer[commandTable]
}

// NewCommandHook creates a command hook. When macKeys is set, a
// definition's Mac spec takes precedence over Key for keybinding
// lookup.
func NewCommandHook(invoker Invoker, macKeys bool, logger *zap.Logger) *CommandHook {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &CommandHook{invoker: invoker, logger: logger, macKeys: macKeys}
	h.table.Store(&commandTable{byName: map[string]CommandDef{}, byKey: map[string][]CommandDef{}})
	return h
}

// Rebuild replaces the whole command table with one computed from
// defs, which must be in plug load order. A name claimed by more than
// one definition goes to the later one; the collision is logged.
// Keybinding buckets are ordered by priority descending, then load
// order ascending, so Lookup's first entry is the winner.
func (h *CommandHook) Rebuild(defs []CommandDef) {
	byName := make(map[string]CommandDef, len(defs))
	byKey := make(map[string][]CommandDef)

	for i, def := range defs {
		def.loadIndex = i
		if prev, ok := byName[def.Name]; ok {
			h.logger.Warn("command name collision",
				zap.String("command", def.Name),
				zap.String("kept", def.Plug),
				zap.String("shadowed", prev.Plug))
		}
		byName[def.Name] = def

		spec := def.Key
		if h.macKeys && def.Mac != "" {
			spec = def.Mac
		}
		if spec == "" {
			continue
		}
		canon, err := key.Normalize(spec)
		if err != nil {
			h.logger.Warn("command has invalid keybinding",
				zap.String("command", def.Name),
				zap.String("plug", def.Plug),
				zap.String("key", spec),
				zap.Error(err))
			continue
		}
		byKey[canon] = append(byKey[canon], def)
	}

	for spec := range byKey {
		bucket := byKey[spec]
		sort.SliceStable(bucket, func(a, b int) bool {
			if bucket[a].Priority != bucket[b].Priority {
				return bucket[a].Priority > bucket[b].Priority
			}
			return bucket[a].loadIndex < bucket[b].loadIndex
		})
	}

	h.mu.Lock()
	h.table.Store(&commandTable{byName: byName, byKey: byKey})
	h.mu.Unlock()
}

// Run executes the named command, passing args through to the plug
// function.
func (h *CommandHook) Run(ctx context.Context, name string, args ...any) (any, error) {
	def, ok := h.table.Load().byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCommandNotFound, name)
	}
	return h.invoker.InvokePlug(ctx, def.Plug, def.Generation, def.Function, args...)
}

// Lookup resolves a key spec to the winning command binding. The spec
// is normalized before lookup, so "Ctrl-Shift-p" and "shift+ctrl+P"
// hit the same bucket.
func (h *CommandHook) Lookup(spec string) (CommandDef, bool) {
	canon, err := key.Normalize(spec)
	if err != nil {
		return CommandDef{}, false
	}
	bucket := h.table.Load().byKey[canon]
	if len(bucket) == 0 {
		return CommandDef{}, false
	}
	return bucket[0], true
}

// RunKey resolves a key spec and runs the bound command.
func (h *CommandHook) RunKey(ctx context.Context, spec string, args ...any) (any, error) {
	def, ok := h.Lookup(spec)
	if !ok {
		return nil, fmt.Errorf("%w: no command bound to %q", ErrCommandNotFound, spec)
	}
	return h.invoker.InvokePlug(ctx, def.Plug, def.Generation, def.Function, args...)
}

// Names returns all registered command names, sorted.
func (h *CommandHook) Names() []string {
	table := h.table.Load()
	names := make([]string, 0, len(table.byName))
	for name := range table.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Commands returns every registered command definition, sorted by
// name.
func (h *CommandHook) Commands() []CommandDef {
	table := h.table.Load()
	defs := make([]CommandDef, 0, len(table.byName))
	for _, def := range table.byName {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(a, b int) bool { return defs[a].Name < defs[b].Name })
	return defs
}

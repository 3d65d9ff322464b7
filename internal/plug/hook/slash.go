package hook

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrSlashNotFound is returned by Run for an unknown trigger.
var ErrSlashNotFound = fmt.Errorf("slash command not found")

// SlashDef describes a slash command contributed by a plug. A
// definition either carries a literal replacement Value or names a
// Function to invoke for its expansion.
type SlashDef struct {
	Name        string
	Description string
	Value       string
	Priority    int
	Plug        string
	Generation  uint64
	Function    string

	loadIndex int
}

type slashTable struct {
	byName map[string]SlashDef
	sorted []SlashDef // priority desc, then name asc
}

// SlashHook maps slash-command triggers to expansions. Like the
// command table, it is fully rebuilt on every load or unload.
type SlashHook struct {
	invoker Invoker
	logger  *zap.Logger

	mu    sync.Mutex
	table atomic.Pointer[slashTable]
}

// NewSlashHook creates a slash-command hook.
func NewSlashHook(invoker Invoker, logger *zap.Logger) *SlashHook {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &SlashHook{invoker: invoker, logger: logger}
	h.table.Store(&slashTable{byName: map[string]SlashDef{}})
	return h
}

// Rebuild replaces the slash table from defs in plug load order. A
// trigger claimed twice goes to the later definition.
func (h *SlashHook) Rebuild(defs []SlashDef) {
	byName := make(map[string]SlashDef, len(defs))
	for i, def := range defs {
		def.loadIndex = i
		if prev, ok := byName[def.Name]; ok {
			h.logger.Warn("slash command collision",
				zap.String("trigger", def.Name),
				zap.String("kept", def.Plug),
				zap.String("shadowed", prev.Plug))
		}
		byName[def.Name] = def
	}

	sorted := make([]SlashDef, 0, len(byName))
	for _, def := range byName {
		sorted = append(sorted, def)
	}
	sort.Slice(sorted, func(a, b int) bool {
		if sorted[a].Priority != sorted[b].Priority {
			return sorted[a].Priority > sorted[b].Priority
		}
		return sorted[a].Name < sorted[b].Name
	})

	h.mu.Lock()
	h.table.Store(&slashTable{byName: byName, sorted: sorted})
	h.mu.Unlock()
}

// Complete returns the slash commands whose trigger starts with
// prefix, ranked by priority descending then name ascending. An empty
// prefix matches everything.
func (h *SlashHook) Complete(prefix string) []SlashDef {
	table := h.table.Load()
	out := make([]SlashDef, 0, len(table.sorted))
	for _, def := range table.sorted {
		if strings.HasPrefix(def.Name, prefix) {
			out = append(out, def)
		}
	}
	return out
}

// Run expands the slash command with the given trigger. A definition
// with a literal Value returns it directly; otherwise the plug
// function is invoked with args and its result returned.
func (h *SlashHook) Run(ctx context.Context, trigger string, args ...any) (any, error) {
	def, ok := h.table.Load().byName[trigger]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSlashNotFound, trigger)
	}
	if def.Value != "" {
		return def.Value, nil
	}
	return h.invoker.InvokePlug(ctx, def.Plug, def.Generation, def.Function, args...)
}

// Triggers returns all registered triggers, sorted.
func (h *SlashHook) Triggers() []string {
	table := h.table.Load()
	names := make([]string, 0, len(table.byName))
	for name := range table.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

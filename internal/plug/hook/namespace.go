package hook

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// NamespaceDef claims a region of the page namespace for one plug
// function. Pattern is anchored at both ends when compiled, so
// "ghost/.*" matches "ghost/readme" but not "my/ghost/readme".
type NamespaceDef struct {
	Pattern    string
	Operation  string
	Plug       string
	Generation uint64
	Function   string
}

type nsEntry struct {
	NamespaceDef
	re *regexp.Regexp
}

type nsTable struct {
	entries []nsEntry // plug load order
}

// NamespaceHook routes page operations whose page name matches a
// claimed pattern to the owning plug instead of the space store. The
// first matching claim in load order wins.
type NamespaceHook struct {
	invoker Invoker
	logger  *zap.Logger

	mu    sync.Mutex
	table atomic.Pointer[nsTable]
}

// NewNamespaceHook creates a namespace hook.
func NewNamespaceHook(invoker Invoker, logger *zap.Logger) *NamespaceHook {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &NamespaceHook{invoker: invoker, logger: logger}
	h.table.Store(&nsTable{})
	return h
}

// Rebuild replaces the routing table from defs in plug load order.
// Definitions with patterns that fail to compile are dropped with a
// warning; manifest validation normally catches these earlier.
func (h *NamespaceHook) Rebuild(defs []NamespaceDef) {
	entries := make([]nsEntry, 0, len(defs))
	for _, def := range defs {
		re, err := regexp.Compile("^(?:" + def.Pattern + ")$")
		if err != nil {
			h.logger.Warn("namespace pattern failed to compile",
				zap.String("plug", def.Plug),
				zap.String("pattern", def.Pattern),
				zap.Error(err))
			continue
		}
		entries = append(entries, nsEntry{NamespaceDef: def, re: re})
	}

	h.mu.Lock()
	h.table.Store(&nsTable{entries: entries})
	h.mu.Unlock()
}

// Route finds the first claim matching (operation, page) and invokes
// its function with the page name. The bool reports whether any claim
// matched; when false the caller should fall through to the space
// store.
func (h *NamespaceHook) Route(ctx context.Context, operation, page string) (any, bool, error) {
	for _, e := range h.table.Load().entries {
		if e.Operation != operation || !e.re.MatchString(page) {
			continue
		}
		res, err := h.invoker.InvokePlug(ctx, e.Plug, e.Generation, e.Function, page)
		return res, true, err
	}
	return nil, false, nil
}

// Claims returns the current routing table in load order.
func (h *NamespaceHook) Claims() []NamespaceDef {
	entries := h.table.Load().entries
	out := make([]NamespaceDef, len(entries))
	for i, e := range entries {
		out[i] = e.NamespaceDef
	}
	return out
}

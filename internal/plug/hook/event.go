package hook

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Invoker forwards a hook-initiated call into the owning sandbox. The
// orchestrator implements it; the generation lets it reject calls to a
// plug that has been reloaded or unloaded since the subscription was
// registered.
type Invoker interface {
	InvokePlug(ctx context.Context, plug string, generation uint64, fn string, args ...any) (any, error)
}

// Subscriber identifies one (plug, function) endpoint at a specific
// load generation.
type Subscriber struct {
	Plug       string
	Generation uint64
	Function   string
}

// subEntry is a Subscriber plus its correlation id for dispatch logs.
type subEntry struct {
	Subscriber
	id string
}

// subTable is an immutable snapshot of all subscriptions. Mutations
// build a new table and swap the pointer; dispatch reads one snapshot
// for its whole run.
type subTable struct {
	byEvent map[string][]subEntry
}

// EventHook is the pub/sub broker mapping event names to ordered
// subscriber lists. Subscribers are invoked in registration order.
type EventHook struct {
	invoker Invoker
	logger  *zap.Logger

	mu    sync.Mutex // serializes mutation; reads go through subs
	subs  atomic.Pointer[subTable]
	count atomic.Uint64 // dispatches served, for stats
}

// NewEventHook creates an event hook routing through the invoker.
func NewEventHook(invoker Invoker, logger *zap.Logger) *EventHook {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &EventHook{invoker: invoker, logger: logger}
	h.subs.Store(&subTable{byEvent: make(map[string][]subEntry)})
	return h
}

// Subscribe registers a subscriber for the event. Re-subscribing the
// same (event, plug, function) triple is a no-op except that the
// generation is refreshed, so a reloaded plug's subscriptions stay
// invocable without changing their position in the order.
func (h *EventHook) Subscribe(event string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur := h.subs.Load()
	next := cur.clone()

	entries := next.byEvent[event]
	for i, e := range entries {
		if e.Plug == sub.Plug && e.Function == sub.Function {
			entries[i].Generation = sub.Generation
			h.subs.Store(next)
			return
		}
	}
	next.byEvent[event] = append(entries, subEntry{Subscriber: sub, id: uuid.NewString()})
	h.subs.Store(next)
}

// UnsubscribePlug removes every subscription owned by the plug. It is
// atomic with respect to in-flight dispatches: a dispatch started
// before the swap finishes its snapshot, but the generation check in
// the invoker keeps it from reaching a torn-down sandbox.
func (h *EventHook) UnsubscribePlug(plug string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur := h.subs.Load()
	next := &subTable{byEvent: make(map[string][]subEntry, len(cur.byEvent))}
	for event, entries := range cur.byEvent {
		kept := make([]subEntry, 0, len(entries))
		for _, e := range entries {
			if e.Plug != plug {
				kept = append(kept, e)
			}
		}
		if len(kept) > 0 {
			next.byEvent[event] = kept
		}
	}
	h.subs.Store(next)
}

// Reset drops every subscription.
func (h *EventHook) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs.Store(&subTable{byEvent: make(map[string][]subEntry)})
}

// Dispatch invokes every current subscriber for the event in
// registration order and collects the successful, non-nil results. A
// failing subscriber is logged and skipped; it never aborts dispatch
// to the remaining subscribers.
func (h *EventHook) Dispatch(ctx context.Context, event string, payload any) []any {
	snapshot := h.subs.Load()
	entries := snapshot.byEvent[event]
	if len(entries) == 0 {
		return nil
	}
	h.count.Add(1)

	results := make([]any, 0, len(entries))
	for _, e := range entries {
		res, err := h.invoker.InvokePlug(ctx, e.Plug, e.Generation, e.Function, payload)
		if err != nil {
			h.logger.Warn("event subscriber failed",
				zap.String("event", event),
				zap.String("plug", e.Plug),
				zap.String("function", e.Function),
				zap.String("subscription", e.id),
				zap.Error(err))
			continue
		}
		if res != nil {
			results = append(results, res)
		}
	}
	return results
}

// DispatchSingle dispatches a single-answer event (e.g. completion
// requests). When more than one subscriber produces a result, that is
// a caller-level ambiguity: it is logged as a warning and the first
// result wins. The bool reports whether any subscriber answered.
func (h *EventHook) DispatchSingle(ctx context.Context, event string, payload any) (any, bool) {
	results := h.Dispatch(ctx, event, payload)
	switch len(results) {
	case 0:
		return nil, false
	case 1:
		return results[0], true
	default:
		h.logger.Warn("multiple answers for single-answer event",
			zap.String("event", event),
			zap.Int("answers", len(results)))
		return results[0], true
	}
}

// Subscribers returns the current subscribers for the event, in
// registration order.
func (h *EventHook) Subscribers(event string) []Subscriber {
	entries := h.subs.Load().byEvent[event]
	out := make([]Subscriber, len(entries))
	for i, e := range entries {
		out[i] = e.Subscriber
	}
	return out
}

// Events returns the event names with at least one subscriber, sorted.
func (h *EventHook) Events() []string {
	snapshot := h.subs.Load()
	names := make([]string, 0, len(snapshot.byEvent))
	for event := range snapshot.byEvent {
		names = append(names, event)
	}
	sort.Strings(names)
	return names
}

// Dispatches returns the number of dispatches served since creation.
func (h *EventHook) Dispatches() uint64 {
	return h.count.Load()
}

// clone copies the table for copy-on-write mutation.
func (t *subTable) clone() *subTable {
	next := &subTable{byEvent: make(map[string][]subEntry, len(t.byEvent))}
	for event, entries := range t.byEvent {
		next.byEvent[event] = append([]subEntry(nil), entries...)
	}
	return next
}

package syscall

import "context"

// EventDispatcher lets syscalls re-enter the event hook. Implemented
// by the orchestrator.
type EventDispatcher interface {
	// DispatchEvent fans the event out to every live subscriber and
	// returns the successful results in registration order.
	DispatchEvent(ctx context.Context, name string, payload any) []any

	// SubscribedEvents returns the event names with at least one live
	// subscriber, sorted.
	SubscribedEvents() []string
}

// EventBindings returns the event.* syscall surface.
//
//	event.dispatch(name, payload?) -> [results]
//	event.list() -> [names]
func EventBindings(d EventDispatcher) []Binding {
	return []Binding{
		{
			Name: "event.dispatch", Capability: CapEvent,
			Func: func(ctx context.Context, _ Caller, args []any) (any, error) {
				name, err := argString("event.dispatch", args, 0)
				if err != nil {
					return nil, err
				}
				return d.DispatchEvent(ctx, name, optArg(args, 1)), nil
			},
		},
		{
			Name: "event.list", Capability: CapEvent,
			Func: func(_ context.Context, _ Caller, _ []any) (any, error) {
				names := d.SubscribedEvents()
				out := make([]any, len(names))
				for i, n := range names {
					out[i] = n
				}
				return out, nil
			},
		},
	}
}

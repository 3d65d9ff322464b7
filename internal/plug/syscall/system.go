package syscall

import "context"

// SystemOps is the orchestrator surface exposed through system.*
// syscalls.
type SystemOps interface {
	// InvokeFunction calls a plug function by its full reference
	// ("plugname.functionname").
	InvokeFunction(ctx context.Context, ref string, args []any) (any, error)

	// ListCommands returns the names of all registered commands, sorted.
	ListCommands() []string

	// ListPlugs returns the names of all loaded plugs in load order.
	ListPlugs() []string

	// RequestReload asks the orchestrator to reload all plugs. The
	// reload happens after the current dispatch completes.
	RequestReload()
}

// Version is the runtime version reported by system.version. Set at
// build time via -ldflags.
var Version = "dev"

// SystemBindings returns the system.* syscall surface. These calls
// reach into the orchestrator itself, so they all require the "system"
// capability.
//
//	system.invokeFunction(ref, args...) -> result
//	system.listCommands() -> [names]
//	system.listPlugs() -> [names]
//	system.reloadPlugs()
//	system.version() -> string
func SystemBindings(ops SystemOps) []Binding {
	return []Binding{
		{
			Name: "system.invokeFunction", Capability: CapSystem,
			Func: func(ctx context.Context, _ Caller, args []any) (any, error) {
				ref, err := argString("system.invokeFunction", args, 0)
				if err != nil {
					return nil, err
				}
				return ops.InvokeFunction(ctx, ref, args[1:])
			},
		},
		{
			Name: "system.listCommands", Capability: CapSystem,
			Func: func(_ context.Context, _ Caller, _ []any) (any, error) {
				names := ops.ListCommands()
				out := make([]any, len(names))
				for i, n := range names {
					out[i] = n
				}
				return out, nil
			},
		},
		{
			Name: "system.listPlugs", Capability: CapSystem,
			Func: func(_ context.Context, _ Caller, _ []any) (any, error) {
				names := ops.ListPlugs()
				out := make([]any, len(names))
				for i, n := range names {
					out[i] = n
				}
				return out, nil
			},
		},
		{
			Name: "system.reloadPlugs", Capability: CapSystem,
			Func: func(_ context.Context, _ Caller, _ []any) (any, error) {
				ops.RequestReload()
				return nil, nil
			},
		},
		{
			Name: "system.version",
			Func: func(_ context.Context, _ Caller, _ []any) (any, error) {
				return Version, nil
			},
		},
	}
}

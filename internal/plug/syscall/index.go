package syscall

import (
	"context"

	"github.com/markhost/markhost/internal/space"
)

// IndexBindings returns the index.* syscall surface over the given
// attribute index. Indexing is a server concern: every binding is
// declared EnvServer and requires the "index" capability.
//
//	index.set(page, key, value)
//	index.get(page, key) -> value | nil
//	index.delete(page, key)
//	index.clearPage(page)
//	index.queryPrefix(prefix) -> [{page, key, value}]
func IndexBindings(ix *space.Index) []Binding {
	return []Binding{
		{
			Name: "index.set", Env: EnvServer, Capability: CapIndex,
			Func: func(_ context.Context, _ Caller, args []any) (any, error) {
				page, err := argString("index.set", args, 0)
				if err != nil {
					return nil, err
				}
				key, err := argString("index.set", args, 1)
				if err != nil {
					return nil, err
				}
				return nil, ix.Set(page, key, optArg(args, 2))
			},
		},
		{
			Name: "index.get", Env: EnvServer, Capability: CapIndex,
			Func: func(_ context.Context, _ Caller, args []any) (any, error) {
				page, err := argString("index.get", args, 0)
				if err != nil {
					return nil, err
				}
				key, err := argString("index.get", args, 1)
				if err != nil {
					return nil, err
				}
				v, ok := ix.Get(page, key)
				if !ok {
					return nil, nil
				}
				return v, nil
			},
		},
		{
			Name: "index.delete", Env: EnvServer, Capability: CapIndex,
			Func: func(_ context.Context, _ Caller, args []any) (any, error) {
				page, err := argString("index.delete", args, 0)
				if err != nil {
					return nil, err
				}
				key, err := argString("index.delete", args, 1)
				if err != nil {
					return nil, err
				}
				return nil, ix.Delete(page, key)
			},
		},
		{
			Name: "index.clearPage", Env: EnvServer, Capability: CapIndex,
			Func: func(_ context.Context, _ Caller, args []any) (any, error) {
				page, err := argString("index.clearPage", args, 0)
				if err != nil {
					return nil, err
				}
				ix.ClearPage(page)
				return nil, nil
			},
		},
		{
			Name: "index.queryPrefix", Env: EnvServer, Capability: CapIndex,
			Func: func(_ context.Context, _ Caller, args []any) (any, error) {
				prefix, err := argString("index.queryPrefix", args, 0)
				if err != nil {
					return nil, err
				}
				entries := ix.QueryPrefix(prefix)
				out := make([]any, len(entries))
				for i, e := range entries {
					out[i] = map[string]any{
						"page":  e.Page,
						"key":   e.Key,
						"value": e.Value,
					}
				}
				return out, nil
			},
		},
	}
}

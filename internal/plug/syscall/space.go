package syscall

import (
	"context"

	"github.com/markhost/markhost/internal/space"
)

// NamespaceRouter routes page operations to plug-declared namespace
// handlers before they reach real storage. Implemented by the
// orchestrator.
type NamespaceRouter interface {
	// RouteNamespace invokes the first loaded handler claiming
	// (operation, page name). The bool reports whether a handler
	// claimed the call.
	RouteNamespace(ctx context.Context, operation, name string) (any, bool, error)
}

// metaToMap converts page metadata to the wire shape plugs see.
func metaToMap(m space.Meta) map[string]any {
	return map[string]any{
		"name":         m.Name,
		"size":         float64(m.Size),
		"lastModified": float64(m.Modified),
		"perm":         m.Perm,
	}
}

// SpaceBindings returns the space.* syscall surface. Reads consult the
// namespace router first so plugs can serve whole classes of virtual
// page names; writes and deletes always go to real storage.
//
//	space.readPage(name) -> text
//	space.getPageMeta(name) -> meta
//	space.writePage(name, text) -> meta
//	space.deletePage(name)
//	space.listPages() -> [meta]
func SpaceBindings(store space.Store, router NamespaceRouter) []Binding {
	return []Binding{
		{
			Name: "space.readPage", Capability: CapSpaceRead,
			Func: func(ctx context.Context, _ Caller, args []any) (any, error) {
				name, err := argString("space.readPage", args, 0)
				if err != nil {
					return nil, err
				}
				if router != nil {
					if v, handled, err := router.RouteNamespace(ctx, "readFile", name); handled {
						return v, err
					}
				}
				text, _, err := store.ReadPage(name)
				return text, err
			},
		},
		{
			Name: "space.getPageMeta", Capability: CapSpaceRead,
			Func: func(ctx context.Context, _ Caller, args []any) (any, error) {
				name, err := argString("space.getPageMeta", args, 0)
				if err != nil {
					return nil, err
				}
				if router != nil {
					if v, handled, err := router.RouteNamespace(ctx, "getFileMeta", name); handled {
						return v, err
					}
				}
				meta, err := store.GetPageMeta(name)
				if err != nil {
					return nil, err
				}
				return metaToMap(meta), nil
			},
		},
		{
			Name: "space.writePage", Capability: CapSpaceWrite,
			Func: func(_ context.Context, _ Caller, args []any) (any, error) {
				name, err := argString("space.writePage", args, 0)
				if err != nil {
					return nil, err
				}
				text, err := argString("space.writePage", args, 1)
				if err != nil {
					return nil, err
				}
				meta, err := store.WritePage(name, text)
				if err != nil {
					return nil, err
				}
				return metaToMap(meta), nil
			},
		},
		{
			Name: "space.deletePage", Capability: CapSpaceWrite,
			Func: func(_ context.Context, _ Caller, args []any) (any, error) {
				name, err := argString("space.deletePage", args, 0)
				if err != nil {
					return nil, err
				}
				return nil, store.DeletePage(name)
			},
		},
		{
			Name: "space.listPages", Capability: CapSpaceRead,
			Func: func(_ context.Context, _ Caller, _ []any) (any, error) {
				metas, err := store.ListPages()
				if err != nil {
					return nil, err
				}
				out := make([]any, len(metas))
				for i, m := range metas {
					out[i] = metaToMap(m)
				}
				return out, nil
			},
		},
	}
}

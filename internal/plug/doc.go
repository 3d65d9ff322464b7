// Package plug implements the plug runtime: manifests describing
// bundles of Lua functions, sandboxed hosts executing them, and the
// orchestrator wiring hosts to the hook tables and the syscall
// surface.
//
// A plug is a directory holding a manifest (plug.json or plug.yaml)
// and Lua sources. Each function in the manifest may subscribe to
// events, contribute a command or slash command, or claim a region of
// the page namespace. Functions run inside per-plug sandboxes and
// reach the outside world only through the syscall global, gated by
// the runtime environment and the capabilities the manifest declares.
package plug

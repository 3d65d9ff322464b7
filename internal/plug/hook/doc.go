// Package hook provides the brokers that route cross-cutting triggers
// to plug functions: the event hook (pub/sub fan-out), the command and
// slash-command hooks (named and text-triggered actions), and the
// page-namespace hook (regex-claimed virtual page operations).
//
// Hooks never call into sandboxes directly; they route through an
// Invoker, which the orchestrator implements with generation checking
// so stale subscriptions from an unloaded plug are never invocable.
// Subscription and command tables are immutable snapshots swapped
// atomically: a dispatch concurrent with a load/unload sees either the
// pre- or post-mutation table, never a partial one.
package hook

// Package native defines the boundary to the sync engine.
//
// Outbound calls go through Engine. Inbound calls arrive on the entry points
// in SessionCallbacks and ManagerCallbacks, from goroutines owned by the
// engine. Strings and pair arrays passed to entry points live in engine
// memory and are only valid until the entry point returns.
//
// Engine-reported failures are returned as *ErrorInfo: a raw code, a message
// and the context pairs. Classification into typed errors happens in the
// callers.
package native

// Package bridge connects worker goroutines to an embedded engine that may
// only be used from the goroutine driving it.
//
// # Lifecycle
//
// Load is called once on the owning goroutine. It creates a Context holding
// the mailbox, the reference router and the native type registry, and
// attaches the drainer to a periodic host event through the host's hook
// library:
//
//	hook.Add("Think", "lua_bridge_drain_<nanos>", drain)
//
// Unload removes the hook and closes the mailbox. Work still queued at that
// point is discarded.
//
// # Cross-goroutine Calls
//
// Execute blocks a worker until its function has run on the owning
// goroutine and returns the result. Go queues a function without waiting.
// Both run during the next drain pass, in the order each producer sent them.
//
//	sum, err := bridge.Execute(c, func(L *lua.LState) (int, error) {
//		return int(L.GetGlobal("counter").(lua.LNumber)), nil
//	})
//
// Execute must not be called while holding engine access: the drain that
// would run it is the one currently blocked. It returns a reentrant error
// in that case. If the bridge may be unloaded while a worker waits, use
// ExecuteContext so the wait can be abandoned.
//
// # Modules
//
// Extensions implement Module and are adapted to a host's load and unload
// entry points with NewEntry.
package bridge

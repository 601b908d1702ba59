// Package luabridge connects worker goroutines to an embedded,
// single-threaded Lua engine.
//
// The engine state may only be touched by the goroutine that owns it.
// Other goroutines post work into a mailbox that the owner drains on a
// periodic engine event, hold references to engine values that are released
// safely from anywhere, and box native objects whose lifetime follows the
// engine's garbage collector.
//
// # Architecture Overview
//
//	luabridge/
//	├── errors/          Structured error types (phase, kind, position)
//	├── affinity/        Which goroutine currently holds engine access
//	├── engine/          Reference table, stack helpers, native call boundary
//	├── mailbox/         Thread-safe queue of deferred engine operations
//	├── stack/           Marshalling between Go values and the engine stack
//	├── ref/             Owned, Shared and Atomic handles to engine values
//	├── userdata/        Native objects exposed as engine userdata
//	├── bridge/          Load/unload, drain hook, remote execution
//	├── host/            Owning goroutine with a tick loop and hook library
//	├── modules/         Extension modules: async, wasm, socket, codec
//	└── cmd/luahost/     Script runner and interactive console
//
// # Quick Start
//
// Run a host with a module and call back into the engine from a worker:
//
//	entry := bridge.NewEntry(bridge.ModuleFunc(func(c *bridge.Context, L *lua.LState) error {
//	    return bridge.SetGlobal(L, "later", c.Func(func(L *lua.LState) (int, error) {
//	        cb := c.Refs().New(L, 1)
//	        go func() {
//	            defer cb.Release()
//	            _, _ = bridge.Execute(c, func(L *lua.LState) (struct{}, error) {
//	                cb.PushTo(L)
//	                return struct{}{}, engine.PCall(L, 0, 0)
//	            })
//	        }()
//	        return 0, nil
//	    }))
//	}))
//
//	h := host.New(host.WithModules(entry))
//	if err := h.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Stop()
//
//	_ = h.DoString(`later(function() print("hello from the engine goroutine") end)`)
//
// # Thread Model
//
// Execute blocks the calling worker until the owner's next drain pass has
// run the closure; calling it from the owner returns a reentrant error.
// Handle releases and native object finalization from other goroutines are
// queued and performed during the drain. After unload, queued work is
// dropped.
package luabridge

// Package engine is the thin layer over the embedded Lua engine
// (github.com/yuin/gopher-lua) that the rest of the bridge builds on.
//
// It provides three things:
//
//	Reference table  - integer ids for engine values that native code holds
//	Stack primitives - index arithmetic, keyed get/set, type names
//	Call boundary    - protected calls, error throwing, Wrap for native functions
//
// # Reference Table
//
// RefCreate pops the top of the stack and returns an id that keeps the value
// alive until RefFree. Ids are positive, freed ids are reused, nil values map
// to RefNil without using a slot. The table lives in the Lua registry, so it
// is dropped together with the state.
//
// Every function in this package must be called from the goroutine that
// owns the state. Releasing from elsewhere goes through the mailbox.
//
// # Native Functions
//
// Wrap turns a NativeFunc into a lua.LGFunction. The wrapper marks the
// calling goroutine as the engine owner for the duration of the call and
// raises a returned error as an engine error with a message bounded to
// MaxErrorLen bytes:
//
//	L.SetGlobal("add", L.NewFunction(engine.Wrap(func(L *lua.LState) (int, error) {
//		L.Push(L.Get(1).(lua.LNumber) + L.Get(2).(lua.LNumber))
//		return 1, nil
//	})))
package engine

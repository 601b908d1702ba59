package bridge

import (
	"github.com/wippyai/lua-bridge/engine"
	"github.com/wippyai/lua-bridge/errors"
	"github.com/wippyai/lua-bridge/stack"
	lua "github.com/yuin/gopher-lua"
)

// SetGlobal sets _G[key] = value.
func SetGlobal(L *lua.LState, key string, value any) error {
	engine.PushGlobals(L)
	n, err := stack.Push(L, value)
	if err != nil {
		L.Pop(1)
		return err
	}
	if n != 1 {
		L.Pop(n + 1)
		return errors.InvalidInput(errors.PhasePush, "global value must push exactly one slot")
	}
	engine.SetField(L, -2, key)
	L.Pop(1)
	return nil
}

// pushHookFunc pushes hook[name] from the host's hook library.
func pushHookFunc(L *lua.LState, name string) error {
	hook := L.GetGlobal("hook")
	if hook.Type() != lua.LTTable {
		return errors.InvalidInput(errors.PhaseCall, "hook library is not available")
	}
	fn := L.GetField(hook, name)
	if fn.Type() != lua.LTFunction {
		return errors.InvalidInput(errors.PhaseCall, "hook."+name+" is not a function")
	}
	L.Push(fn)
	return nil
}

// HookAdd calls hook.Add(event, id, fn).
func HookAdd(L *lua.LState, event, id string, fn any) error {
	if err := pushHookFunc(L, "Add"); err != nil {
		return err
	}
	top := L.GetTop()
	if _, err := stack.PushAll(L, event, id, fn); err != nil {
		L.SetTop(top - 1)
		return err
	}
	return engine.PCall(L, 3, 0)
}

// HookRemove calls hook.Remove(event, id).
func HookRemove(L *lua.LState, event, id string) error {
	if err := pushHookFunc(L, "Remove"); err != nil {
		return err
	}
	L.Push(lua.LString(event))
	L.Push(lua.LString(id))
	return engine.PCall(L, 2, 0)
}

// HookRun calls hook.Run(name, args...).
func HookRun(L *lua.LState, name string, args ...any) error {
	if err := pushHookFunc(L, "Run"); err != nil {
		return err
	}
	top := L.GetTop()
	L.Push(lua.LString(name))
	n, err := stack.PushAll(L, args...)
	if err != nil {
		L.SetTop(top - 1)
		return err
	}
	return engine.PCall(L, n+1, 0)
}

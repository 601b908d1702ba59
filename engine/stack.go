package engine

import (
	lua "github.com/yuin/gopher-lua"
)

// AbsIndex converts a relative stack index into an absolute one.
// Pseudo-indices and positive indices are returned unchanged.
func AbsIndex(L *lua.LState, idx int) int {
	if idx > 0 || idx <= lua.RegistryIndex {
		return idx
	}
	return L.GetTop() + idx + 1
}

// PushCopy pushes a copy of the value at idx.
func PushCopy(L *lua.LState, idx int) {
	L.Push(L.Get(idx))
}

// PushGlobals pushes the globals table.
func PushGlobals(L *lua.LState) {
	L.Push(L.G.Global)
}

// TypeName returns the engine type name of the value at idx, or "no value"
// when idx is above the top of the stack.
func TypeName(L *lua.LState, idx int) string {
	abs := AbsIndex(L, idx)
	if abs > L.GetTop() || abs == 0 {
		return "no value"
	}
	return L.Get(abs).Type().String()
}

// GetTable pops a key and pushes t[key] where t is the value at idx.
func GetTable(L *lua.LState, idx int) {
	t := L.Get(AbsIndex(L, idx))
	key := L.Get(-1)
	L.Pop(1)
	L.Push(L.GetTable(t, key))
}

// SetTable pops a key and value (value on top) and sets t[key] = value
// where t is the value at idx.
func SetTable(L *lua.LState, idx int) {
	t := L.Get(AbsIndex(L, idx))
	key, value := L.Get(-2), L.Get(-1)
	L.Pop(2)
	L.SetTable(t, key, value)
}

// GetField pushes t[name] where t is the value at idx.
func GetField(L *lua.LState, idx int, name string) {
	L.Push(L.GetField(L.Get(idx), name))
}

// SetField pops a value and sets t[name] = value where t is the value at idx.
func SetField(L *lua.LState, idx int, name string) {
	t := L.Get(AbsIndex(L, idx))
	v := L.Get(-1)
	L.Pop(1)
	L.SetField(t, name, v)
}

package host

import (
	"github.com/wippyai/lua-bridge/engine"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

type handler struct {
	id string
	fn lua.LValue
}

// hooks is the host's event library, exposed to scripts as the global
// "hook" table with Add, Remove, Run and GetTable.
type hooks struct {
	log    *zap.Logger
	events map[string][]handler
}

func newHooks(log *zap.Logger) *hooks {
	return &hooks{log: log, events: make(map[string][]handler)}
}

func (h *hooks) open(L *lua.LState) {
	lib := L.NewTable()
	L.SetFuncs(lib, map[string]lua.LGFunction{
		"Add":      h.luaAdd,
		"Remove":   h.luaRemove,
		"Run":      h.luaRun,
		"GetTable": h.luaGetTable,
	})
	L.SetGlobal("hook", lib)
}

// add registers fn for event under id, replacing an existing id in place.
func (h *hooks) add(event, id string, fn lua.LValue) {
	list := h.events[event]
	for i := range list {
		if list[i].id == id {
			list[i].fn = fn
			return
		}
	}
	h.events[event] = append(list, handler{id: id, fn: fn})
}

func (h *hooks) remove(event, id string) {
	list := h.events[event]
	for i := range list {
		if list[i].id == id {
			h.events[event] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (h *hooks) count(event string) int {
	return len(h.events[event])
}

// run calls every handler of event in registration order with args. A
// handler that fails is logged and skipped. The first non-nil value returned
// by a handler stops the run and is returned.
func (h *hooks) run(L *lua.LState, event string, args ...lua.LValue) lua.LValue {
	list := append([]handler(nil), h.events[event]...)
	for _, hd := range list {
		L.Push(hd.fn)
		for _, a := range args {
			L.Push(a)
		}
		if err := engine.PCall(L, len(args), 1); err != nil {
			h.log.Warn("hook failed",
				zap.String("event", event),
				zap.String("id", hd.id),
				zap.Error(err))
			continue
		}
		ret := L.Get(-1)
		L.Pop(1)
		if ret != lua.LNil {
			return ret
		}
	}
	return lua.LNil
}

func (h *hooks) luaAdd(L *lua.LState) int {
	event := L.CheckString(1)
	id := L.CheckString(2)
	fn := L.CheckFunction(3)
	h.add(event, id, fn)
	return 0
}

func (h *hooks) luaRemove(L *lua.LState) int {
	h.remove(L.CheckString(1), L.CheckString(2))
	return 0
}

func (h *hooks) luaRun(L *lua.LState) int {
	event := L.CheckString(1)
	args := make([]lua.LValue, 0, L.GetTop()-1)
	for i := 2; i <= L.GetTop(); i++ {
		args = append(args, L.Get(i))
	}
	L.Push(h.run(L, event, args...))
	return 1
}

func (h *hooks) luaGetTable(L *lua.LState) int {
	out := L.NewTable()
	for event, list := range h.events {
		t := L.NewTable()
		for _, hd := range list {
			t.RawSetString(hd.id, hd.fn)
		}
		out.RawSetString(event, t)
	}
	L.Push(out)
	return 1
}

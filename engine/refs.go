package engine

import (
	"strconv"

	"github.com/wippyai/lua-bridge/errors"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Ref is an integer key into the reference table.
type Ref int

const (
	// NoRef is never a valid reference.
	NoRef Ref = -2
	// RefNil is returned when the stored value was nil. It owns no slot.
	RefNil Ref = -1
)

// registryKey names the reference table inside the Lua registry.
const registryKey = "lua-bridge.refs"

// RefStats reports reference table counters.
type RefStats struct {
	Live    int
	Created uint64
	Freed   uint64
	Invalid uint64
}

// refTable stores values by id. Slot i holds id i+1; a nil slot is free.
// Only the owning goroutine touches it, so it carries no lock.
type refTable struct {
	values []lua.LValue
	free   []Ref
	live   int
	stats  RefStats
}

// Open installs the reference table in L's registry. Idempotent.
func Open(L *lua.LState) {
	table(L)
}

// Close drops the reference table and every value it still holds.
func Close(L *lua.LState) {
	if rt := lookup(L); rt != nil && rt.live > 0 {
		Logger().Debug("closing reference table with live references", zap.Int("live", rt.live))
	}
	L.G.Registry.RawSetString(registryKey, lua.LNil)
}

func lookup(L *lua.LState) *refTable {
	ud, ok := L.G.Registry.RawGetString(registryKey).(*lua.LUserData)
	if !ok {
		return nil
	}
	rt, _ := ud.Value.(*refTable)
	return rt
}

func table(L *lua.LState) *refTable {
	if rt := lookup(L); rt != nil {
		return rt
	}
	rt := &refTable{}
	ud := L.NewUserData()
	ud.Value = rt
	L.G.Registry.RawSetString(registryKey, ud)
	return rt
}

// RefCreate pops the top value and stores it, returning its id.
// A nil value yields RefNil without consuming a slot.
func RefCreate(L *lua.LState) Ref {
	v := L.Get(-1)
	L.Pop(1)
	if v == lua.LNil {
		return RefNil
	}

	rt := table(L)
	var id Ref
	if n := len(rt.free); n > 0 {
		id = rt.free[n-1]
		rt.free = rt.free[:n-1]
		rt.values[id-1] = v
	} else {
		rt.values = append(rt.values, v)
		id = Ref(len(rt.values))
	}
	rt.live++
	rt.stats.Created++
	return id
}

// RefGet returns the value stored under id.
func RefGet(L *lua.LState, id Ref) (lua.LValue, bool) {
	rt := lookup(L)
	if rt == nil || id <= 0 || int(id) > len(rt.values) {
		return lua.LNil, false
	}
	v := rt.values[id-1]
	if v == nil {
		return lua.LNil, false
	}
	return v, true
}

// RefPush pushes the value stored under id, or nil.
func RefPush(L *lua.LState, id Ref) {
	v, _ := RefGet(L, id)
	L.Push(v)
}

// RefFree releases id. It returns false, leaving the table untouched, when
// id is not live.
func RefFree(L *lua.LState, id Ref) bool {
	if id == RefNil || id == NoRef {
		return true
	}
	rt := lookup(L)
	if rt == nil || id <= 0 || int(id) > len(rt.values) || rt.values[id-1] == nil {
		if rt != nil {
			rt.stats.Invalid++
		}
		Logger().Warn("free of unknown or released reference",
			zap.Int("ref", int(id)),
			zap.Error(errors.InvalidInput(errors.PhaseRelease, "reference "+strconv.Itoa(int(id))+" is not live")))
		return false
	}
	rt.values[id-1] = nil
	rt.free = append(rt.free, id)
	rt.live--
	rt.stats.Freed++
	return true
}

// RefLen returns the number of live references.
func RefLen(L *lua.LState) int {
	if rt := lookup(L); rt != nil {
		return rt.live
	}
	return 0
}

// Stats returns a snapshot of the reference table counters.
func Stats(L *lua.LState) RefStats {
	rt := lookup(L)
	if rt == nil {
		return RefStats{}
	}
	s := rt.stats
	s.Live = rt.live
	return s
}

package affinity

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// cells maps goroutine id to the engine state that goroutine may touch.
var cells sync.Map

// Scope is the token returned by Acquire. Release restores the state that
// was installed before the matching Acquire.
type Scope struct {
	gid      uint64
	prev     *lua.LState
	released bool
}

// Acquire installs L as the engine state for the calling goroutine.
// Every host-invoked entry point acquires on entry and releases on exit:
//
//	scope := affinity.Acquire(L)
//	defer scope.Release()
func Acquire(L *lua.LState) *Scope {
	gid := goroutineID()
	s := &Scope{gid: gid}
	if prev, ok := cells.Load(gid); ok {
		s.prev = prev.(*lua.LState)
	}
	cells.Store(gid, L)
	return s
}

// Release restores the previous value. Safe to call more than once.
func (s *Scope) Release() {
	if s == nil || s.released {
		return
	}
	s.released = true
	if s.prev == nil {
		cells.Delete(s.gid)
		return
	}
	cells.Store(s.gid, s.prev)
}

// Current returns the engine state installed for the calling goroutine.
func Current() (*lua.LState, bool) {
	v, ok := cells.Load(goroutineID())
	if !ok {
		return nil, false
	}
	return v.(*lua.LState), true
}

// Owned reports whether the calling goroutine currently has engine access.
func Owned() bool {
	_, ok := cells.Load(goroutineID())
	return ok
}

// Is reports whether the calling goroutine currently has access to L.
func Is(L *lua.LState) bool {
	cur, ok := Current()
	return ok && cur == L
}

// Shares reports whether the calling goroutine currently has access to a
// state sharing L's global state: L itself or one of its coroutines.
// Native functions called inside a coroutine receive the coroutine's state.
func Shares(L *lua.LState) bool {
	cur, ok := Current()
	return ok && L != nil && (cur == L || cur.G == L.G)
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the id from the "goroutine N [status]:" header that
// runtime.Stack writes first.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		panic("affinity: cannot parse goroutine id: " + err.Error())
	}
	return id
}

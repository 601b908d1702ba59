package userdata

import (
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/wippyai/lua-bridge/engine"
	"github.com/wippyai/lua-bridge/errors"
	"github.com/wippyai/lua-bridge/mailbox"
	lua "github.com/yuin/gopher-lua"
)

// Finalizer is implemented by *T to run teardown when an engine allocation
// holding the object is collected. It runs on the owning goroutine with the
// object locked, once per allocation.
type Finalizer interface {
	Finalize(L *lua.LState)
}

type cell[T any] struct {
	typ   *Type[T]
	value T
	mu    sync.Mutex
}

// Handle is a shared reference to a native object. Copies alias the same
// object; access goes through With, which holds the object's lock.
type Handle[T any] struct {
	c *cell[T]
}

// Wrap boxes v as a native object of type typ.
func Wrap[T any](typ *Type[T], v T) Handle[T] {
	return Handle[T]{c: &cell[T]{typ: typ, value: v}}
}

// Valid reports whether h refers to an object.
func (h Handle[T]) Valid() bool { return h.c != nil }

// Type returns the registered type of the object.
func (h Handle[T]) Type() *Type[T] {
	if h.c == nil {
		return nil
	}
	return h.c.typ
}

// With runs fn with exclusive access to the object. The lock is not
// reentrant: fn must not call back into the engine in a way that could
// reach With on the same object.
func (h Handle[T]) With(fn func(v *T)) {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	fn(&h.c.value)
}

// WithResult is With returning a value.
func WithResult[T, R any](h Handle[T], fn func(v *T) R) R {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return fn(&h.c.value)
}

// Same reports whether two handles refer to the same object.
func (h Handle[T]) Same(other Handle[T]) bool {
	return h.c != nil && h.c == other.c
}

// PushTo pushes a new engine allocation holding a copy of the handle.
func (h Handle[T]) PushTo(L *lua.LState) int {
	if h.c == nil {
		L.Push(lua.LNil)
		return 1
	}
	typ := h.c.typ
	a := &allocation[T]{handle: h, typ: typ}
	ud := L.NewUserData()
	ud.Value = a
	L.SetMetatable(ud, typ.mt)
	mb := typ.reg.mb
	runtime.AddCleanup(ud, func(a *allocation[T]) {
		mb.Send(mailbox.Finalize(a.finalize))
	}, a)
	L.Push(ud)
	return 1
}

// PullFrom reads a handle from the userdata at pos, checking the type tag.
func (h *Handle[T]) PullFrom(L *lua.LState, pos int) (int, error) {
	got, err := pull[T](L, pos, reflect.TypeFor[T]().String())
	if err != nil {
		return 0, err
	}
	*h = got
	return 1, nil
}

// Check reads a handle of type typ from the userdata at pos.
func Check[T any](typ *Type[T], L *lua.LState, pos int) (Handle[T], error) {
	return pull[T](L, pos, typ.name)
}

func pull[T any](L *lua.LState, pos int, expected string) (Handle[T], error) {
	v := L.Get(pos)
	if v.Type() != lua.LTUserData {
		return Handle[T]{}, errors.InvalidNativeObjectType(pos, expected, engine.TypeName(L, pos))
	}
	t, ok := v.(*lua.LUserData).Value.(tagged)
	if !ok {
		return Handle[T]{}, errors.InvalidNativeObjectType(pos, expected, "foreign userdata")
	}
	if t.tag() != reflect.TypeFor[T]() {
		return Handle[T]{}, errors.InvalidNativeObjectType(pos, expected, t.typeName())
	}
	a := t.(*allocation[T])
	if a.done.Load() {
		return Handle[T]{}, errors.Closed(errors.PhasePull, a.typeName())
	}
	return a.handle, nil
}

// tagged is implemented by every allocation regardless of T.
type tagged interface {
	tag() reflect.Type
	typeName() string
	identity() any
	finalize(L *lua.LState)
}

// allocation is the value stored in one engine userdata.
type allocation[T any] struct {
	typ    *Type[T]
	handle Handle[T]
	done   atomic.Bool
}

func (a *allocation[T]) tag() reflect.Type { return a.typ.tag }
func (a *allocation[T]) typeName() string  { return a.typ.name }

func (a *allocation[T]) identity() any {
	if a.handle.c == nil {
		return nil
	}
	return a.handle.c
}

// finalize runs once per allocation: lock, teardown hook, drop the copy.
func (a *allocation[T]) finalize(L *lua.LState) {
	if a.done.Swap(true) {
		return
	}
	c := a.handle.c
	if c == nil {
		return
	}
	defer func() { a.handle = Handle[T]{} }()
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := any(&c.value).(Finalizer); ok {
		f.Finalize(L)
	}
}

func allocationOf(v lua.LValue) (tagged, bool) {
	ud, ok := v.(*lua.LUserData)
	if !ok {
		return nil, false
	}
	t, ok := ud.Value.(tagged)
	return t, ok
}

package ref

import (
	"runtime"
	"sync/atomic"

	"github.com/wippyai/lua-bridge/engine"
	lua "github.com/yuin/gopher-lua"
)

// Owned is the sole owner of one reference id.
//
// Release frees the id exactly once. A handle that becomes unreachable
// without Release is freed through the mailbox by a runtime cleanup.
type Owned struct {
	slot    *slot
	cleanup runtime.Cleanup
}

// slot is kept apart from Owned so the cleanup does not keep Owned alive.
type slot struct {
	t  *Table
	id atomic.Int64
}

func (s *slot) take() engine.Ref {
	return engine.Ref(s.id.Swap(int64(engine.NoRef)))
}

func (t *Table) wrap(id engine.Ref) *Owned {
	s := &slot{t: t}
	s.id.Store(int64(id))
	o := &Owned{slot: s}
	if id > 0 {
		o.cleanup = runtime.AddCleanup(o, func(s *slot) { s.t.leak(s.take()) }, s)
	}
	return o
}

// New references the value at pos. Must run on the owning goroutine.
func (t *Table) New(L *lua.LState, pos int) *Owned {
	engine.PushCopy(L, pos)
	return t.FromTop(L)
}

// FromTop references the value on top of the stack and pops it.
func (t *Table) FromTop(L *lua.LState) *Owned {
	return t.wrap(engine.RefCreate(L))
}

// Arg references the function argument at pos. A missing argument is an
// error; nil is accepted and owns no slot.
func (t *Table) Arg(L *lua.LState, pos int) (*Owned, error) {
	if engine.AbsIndex(L, pos) > L.GetTop() {
		return nil, typeMismatch(L, pos)
	}
	return t.New(L, pos), nil
}

// ID returns the held id, or NoRef after Release.
func (o *Owned) ID() engine.Ref {
	if o == nil {
		return engine.NoRef
	}
	return engine.Ref(o.slot.id.Load())
}

// PushTo pushes the referenced value, or nil after Release.
func (o *Owned) PushTo(L *lua.LState) int {
	engine.RefPush(L, o.ID())
	return 1
}

// Release frees the id. Safe to call more than once and from any goroutine.
func (o *Owned) Release() {
	if o == nil {
		return
	}
	o.cleanup.Stop()
	o.slot.t.Release(o.slot.take())
}

// take transfers the id out of o. o is released afterwards.
func (o *Owned) take() engine.Ref {
	if o == nil {
		return engine.NoRef
	}
	o.cleanup.Stop()
	return o.slot.take()
}

// Share converts o into a Shared handle. o must not be used afterwards.
func (o *Owned) Share() *Shared {
	t := o.slot.t
	return t.shared(o.take())
}

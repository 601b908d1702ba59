package ref

import (
	"github.com/wippyai/lua-bridge/engine"
	lua "github.com/yuin/gopher-lua"
)

// Atomic is a shared, replaceable slot holding one id. Replace is a single
// atomic swap, so "last registration wins" slots need no lock.
type Atomic struct {
	clone
}

func (t *Table) newAtomic(id engine.Ref) *Atomic {
	a := &Atomic{}
	newClone(a, &a.clone, newCounted(t, id))
	return a
}

// NewAtomic references the value at pos in a new slot.
func (t *Table) NewAtomic(L *lua.LState, pos int) *Atomic {
	engine.PushCopy(L, pos)
	return t.newAtomic(engine.RefCreate(L))
}

// NilAtomic returns an empty slot.
func (t *Table) NilAtomic() *Atomic {
	return t.newAtomic(engine.RefNil)
}

// AtomicFrom moves o into a new slot.
func (t *Table) AtomicFrom(o *Owned) *Atomic {
	return t.newAtomic(o.take())
}

// Replace stores the id held by o and returns ownership of the previous one.
// The caller must Release the returned handle. o must not be used afterwards.
func (a *Atomic) Replace(o *Owned) *Owned {
	old := engine.Ref(a.c.id.Swap(int64(o.take())))
	return a.c.t.wrap(old)
}

// Clone returns another owner of the same slot.
func (a *Atomic) Clone() *Atomic {
	n := &Atomic{}
	newClone(n, &n.clone, a.c)
	return n
}

// ID returns the id currently in the slot.
func (a *Atomic) ID() engine.Ref {
	return a.c.load()
}

// PushTo pushes the value currently in the slot.
func (a *Atomic) PushTo(L *lua.LState) int {
	engine.RefPush(L, a.ID())
	return 1
}

// Release drops this owner. The last owner releases the current id.
func (a *Atomic) Release() {
	if a == nil {
		return
	}
	a.release()
}

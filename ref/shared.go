package ref

import (
	"runtime"
	"sync/atomic"

	"github.com/wippyai/lua-bridge/engine"
	lua "github.com/yuin/gopher-lua"
)

// counted is an id owned jointly by every live clone.
type counted struct {
	t      *Table
	id     atomic.Int64
	owners atomic.Int32
}

func newCounted(t *Table, id engine.Ref) *counted {
	c := &counted{t: t}
	c.id.Store(int64(id))
	return c
}

func (c *counted) load() engine.Ref {
	return engine.Ref(c.id.Load())
}

// drop releases the current id when the last owner goes away.
func (c *counted) drop(leaked bool) {
	if c.owners.Add(-1) != 0 {
		return
	}
	id := engine.Ref(c.id.Swap(int64(engine.NoRef)))
	if leaked {
		c.t.leak(id)
		return
	}
	c.t.Release(id)
}

// clone is one owner of a counted id.
type clone struct {
	c        *counted
	released atomic.Bool
	cleanup  runtime.Cleanup
}

func newClone[H any](h *H, cl *clone, c *counted) {
	c.owners.Add(1)
	cl.c = c
	cl.cleanup = runtime.AddCleanup(h, func(c *counted) { c.drop(true) }, c)
}

func (cl *clone) release() {
	if cl.released.Swap(true) {
		return
	}
	cl.cleanup.Stop()
	cl.c.drop(false)
}

// Shared is a reference-counted owner of one id. The id is released when
// the last clone is released.
type Shared struct {
	clone
}

func (t *Table) shared(id engine.Ref) *Shared {
	s := &Shared{}
	newClone(s, &s.clone, newCounted(t, id))
	return s
}

// NewShared references the value at pos.
func (t *Table) NewShared(L *lua.LState, pos int) *Shared {
	engine.PushCopy(L, pos)
	return t.shared(engine.RefCreate(L))
}

// Clone returns another owner of the same id.
func (s *Shared) Clone() *Shared {
	n := &Shared{}
	newClone(n, &n.clone, s.c)
	return n
}

// ID returns the shared id.
func (s *Shared) ID() engine.Ref {
	return s.c.load()
}

// PushTo pushes the referenced value.
func (s *Shared) PushTo(L *lua.LState) int {
	engine.RefPush(L, s.ID())
	return 1
}

// Release drops this clone. Safe to call more than once.
func (s *Shared) Release() {
	if s == nil {
		return
	}
	s.release()
}

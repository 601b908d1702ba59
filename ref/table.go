package ref

import (
	"sync/atomic"

	"github.com/wippyai/lua-bridge/affinity"
	"github.com/wippyai/lua-bridge/engine"
	"github.com/wippyai/lua-bridge/mailbox"
	lua "github.com/yuin/gopher-lua"
)

// Sink releases reference ids.
type Sink interface {
	Release(id engine.Ref)
}

// Immediate frees ids directly. It must only be used on the owning goroutine.
type Immediate struct {
	L *lua.LState
}

func (s Immediate) Release(id engine.Ref) {
	engine.RefFree(s.L, id)
}

// Deferred queues ids for the next drain pass.
type Deferred struct {
	MB *mailbox.Mailbox
}

func (s Deferred) Release(id engine.Ref) {
	s.MB.Send(mailbox.FreeReference(id))
}

// Stats counts releases by path.
type Stats struct {
	Immediate uint64
	Deferred  uint64
	Leaked    uint64
}

// Table routes handle releases for one engine state. Releases on the owning
// goroutine free the id at once; anywhere else they are deferred.
type Table struct {
	owner     *lua.LState
	mb        *mailbox.Mailbox
	immediate atomic.Uint64
	deferred  atomic.Uint64
	leaked    atomic.Uint64
}

// NewTable creates the release router for owner. The pointer is only
// compared against the caller's affinity, never dereferenced off-thread.
func NewTable(owner *lua.LState, mb *mailbox.Mailbox) *Table {
	return &Table{owner: owner, mb: mb}
}

// Sink returns the release path for the calling goroutine. Coroutines of
// the owner release immediately; the reference table lives in the shared
// registry.
func (t *Table) Sink() Sink {
	if affinity.Shares(t.owner) {
		return Immediate{L: t.owner}
	}
	return Deferred{MB: t.mb}
}

// Release frees id through the path appropriate for the calling goroutine.
// Ids that own no slot are ignored.
func (t *Table) Release(id engine.Ref) {
	if id <= 0 {
		return
	}
	switch s := t.Sink().(type) {
	case Immediate:
		t.immediate.Add(1)
		s.Release(id)
	default:
		t.deferred.Add(1)
		s.Release(id)
	}
}

// Stats returns release counters.
func (t *Table) Stats() Stats {
	return Stats{
		Immediate: t.immediate.Load(),
		Deferred:  t.deferred.Load(),
		Leaked:    t.leaked.Load(),
	}
}

func (t *Table) leak(id engine.Ref) {
	if id <= 0 {
		return
	}
	t.leaked.Add(1)
	t.Release(id)
}

package mailbox

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wippyai/lua-bridge/affinity"
	"github.com/wippyai/lua-bridge/engine"
	"github.com/wippyai/lua-bridge/errors"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Stats reports mailbox counters.
type Stats struct {
	Sent    uint64
	Dropped uint64
	Drained uint64
	Pending int
}

// Mailbox is an unbounded FIFO of operations with many producers and one
// consumer, the goroutine owning the engine.
type Mailbox struct {
	log     *zap.Logger
	queue   []Op
	head    int
	mu      sync.Mutex
	closed  bool
	sent    atomic.Uint64
	dropped atomic.Uint64
	drained atomic.Uint64
}

// Option configures a Mailbox.
type Option func(*Mailbox)

// WithLogger sets the logger used for failed operations.
func WithLogger(l *zap.Logger) Option {
	return func(m *Mailbox) {
		if l != nil {
			m.log = l
		}
	}
}

// New creates an empty mailbox.
func New(opts ...Option) *Mailbox {
	m := &Mailbox{log: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Send enqueues op. It never blocks. After Close the op is dropped.
func (m *Mailbox) Send(op Op) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.dropped.Add(1)
		return
	}
	m.queue = append(m.queue, op)
	m.mu.Unlock()
	m.sent.Add(1)
}

// Close drops pending operations and rejects further sends.
func (m *Mailbox) Close() {
	m.mu.Lock()
	pending := len(m.queue) - m.head
	m.closed = true
	m.queue = nil
	m.head = 0
	m.mu.Unlock()

	if pending > 0 {
		m.dropped.Add(uint64(pending))
		m.log.Debug("mailbox closed with pending operations", zap.Int("pending", pending))
	}
}

// Closed reports whether Close has been called.
func (m *Mailbox) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Len returns the number of pending operations.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue) - m.head
}

// Stats returns a snapshot of the mailbox counters.
func (m *Mailbox) Stats() Stats {
	return Stats{
		Sent:    m.sent.Load(),
		Dropped: m.dropped.Load(),
		Drained: m.drained.Load(),
		Pending: m.Len(),
	}
}

func (m *Mailbox) pop() (Op, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.head >= len(m.queue) {
		m.queue = m.queue[:0]
		m.head = 0
		return Op{}, false
	}
	op := m.queue[m.head]
	m.queue[m.head] = Op{}
	m.head++
	return op, true
}

// Drain runs every pending operation with L, in receive order, until the
// queue is empty. It must be called on the goroutine owning L and never
// blocks. It returns the number of operations run.
func (m *Mailbox) Drain(L *lua.LState) int {
	scope := affinity.Acquire(L)
	defer scope.Release()

	n := 0
	for {
		op, ok := m.pop()
		if !ok {
			break
		}
		m.run(L, op)
		n++
	}
	if n > 0 {
		m.drained.Add(uint64(n))
	}
	return n
}

func (m *Mailbox) run(L *lua.LState, op Op) {
	top := L.GetTop()
	defer func() {
		if r := recover(); r != nil {
			L.SetTop(top)
			err := errors.CallFailed(errors.PhaseDrain, fmt.Sprint(r), nil)
			if op.Kind == KindFinalize {
				m.log.Debug("finalizer failed", zap.Error(err))
				return
			}
			m.log.Error("deferred operation failed",
				zap.Stringer("kind", op.Kind),
				zap.Error(err))
		}
	}()

	switch op.Kind {
	case KindFreeReference:
		engine.RefFree(L, op.Ref)
	case KindInvoke, KindFinalize:
		if op.Fn != nil {
			op.Fn(L)
		}
	}
}

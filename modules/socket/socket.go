package socket

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/wippyai/lua-bridge/bridge"
	"github.com/wippyai/lua-bridge/engine"
	"github.com/wippyai/lua-bridge/errors"
	"github.com/wippyai/lua-bridge/ref"
	"github.com/wippyai/lua-bridge/stack"
	"github.com/wippyai/lua-bridge/userdata"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

const (
	// DefaultDialTimeout bounds socket.connect.
	DefaultDialTimeout = 10 * time.Second
	// DefaultQueue is the number of pending sends per socket.
	DefaultQueue = 256

	readSize = 4096
)

// Socket is the native object behind a script-visible TCP connection.
// The receive callback is invoked as on_recv(socket, data) for each chunk
// and as on_recv(socket, nil, message) once when the connection ends.
type Socket struct {
	conn   net.Conn
	out    chan []byte
	onRecv *ref.Atomic
	closed bool
}

// Module exposes the global "socket" table:
//
//	socket.connect(addr, on_connect)  -- on_connect(sock) or on_connect(nil, message)
//	sock:send(data)
//	sock:on_recv(fn)                  -- replaces the receive callback
//	sock:close()
//	sock:remote_addr()
type Module struct {
	ctx     context.Context
	cancel  context.CancelFunc
	log     *zap.Logger
	typ     *userdata.Type[Socket]
	sockets map[net.Conn]userdata.Handle[Socket]
	wg      sync.WaitGroup
	mu      sync.Mutex
	timeout time.Duration
	queue   int
}

// Option configures the module.
type Option func(*Module)

// WithDialTimeout sets the connect timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(m *Module) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithQueue sets the number of sends a socket buffers before send fails.
func WithQueue(n int) Option {
	return func(m *Module) {
		if n > 0 {
			m.queue = n
		}
	}
}

// New creates the module.
func New(opts ...Option) *Module {
	m := &Module{
		timeout: DefaultDialTimeout,
		queue:   DefaultQueue,
		sockets: make(map[net.Conn]userdata.Handle[Socket]),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open registers the Socket type and installs the socket table.
func (m *Module) Open(c *bridge.Context, L *lua.LState) error {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.log = c.Logger().Named("socket")

	typ, err := userdata.Register(c.Types(), L, "Socket", func(ms *userdata.Methods[Socket]) {
		ms.Func("send", m.send)
		ms.Func("on_recv", func(L *lua.LState, self userdata.Handle[Socket]) (int, error) {
			return m.setOnRecv(c, L, self)
		})
		ms.Func("close", func(L *lua.LState, self userdata.Handle[Socket]) (int, error) {
			m.closeSocket(self)
			return 0, nil
		})
		ms.Func("remote_addr", func(L *lua.LState, self userdata.Handle[Socket]) (int, error) {
			addr := userdata.WithResult(self, func(s *Socket) string { return s.conn.RemoteAddr().String() })
			L.Push(lua.LString(addr))
			return 1, nil
		})
	})
	if err != nil {
		return err
	}
	m.typ = typ

	tbl := stack.NewTable(L)
	defer L.Pop(1)
	if err := tbl.Set(L, "connect", c.Func(m.connect(c))); err != nil {
		return err
	}
	return bridge.SetGlobal(L, "socket", tbl)
}

// Close closes every open socket and waits for their goroutines.
func (m *Module) Close(*bridge.Context, *lua.LState) {
	if m.cancel == nil {
		return
	}
	m.cancel()

	m.mu.Lock()
	open := make([]userdata.Handle[Socket], 0, len(m.sockets))
	for _, h := range m.sockets {
		open = append(open, h)
	}
	m.mu.Unlock()

	for _, h := range open {
		m.closeSocket(h)
	}
	m.wg.Wait()
}

// Sockets returns the number of sockets not yet closed.
func (m *Module) Sockets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sockets)
}

func (m *Module) connect(c *bridge.Context) engine.NativeFunc {
	return func(L *lua.LState) (int, error) {
		addr, err := stack.Get[string](L, 1)
		if err != nil {
			return 0, err
		}
		if _, err := stack.Expect(L, 2, lua.LTFunction); err != nil {
			return 0, err
		}
		onConnect := c.Refs().New(L, 2)

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()

			d := net.Dialer{Timeout: m.timeout}
			conn, err := d.DialContext(m.ctx, "tcp", addr)
			if err != nil {
				m.log.Debug("connect failed", zap.String("addr", addr), zap.Error(err))
				bridge.Go(c, func(L *lua.LState) error {
					defer onConnect.Release()
					onConnect.PushTo(L)
					L.Push(lua.LNil)
					L.Push(lua.LString(err.Error()))
					return engine.PCall(L, 2, 0)
				})
				return
			}

			h, ok := m.start(c, conn)
			if !ok {
				onConnect.Release()
				return
			}
			bridge.Go(c, func(L *lua.LState) error {
				defer onConnect.Release()
				onConnect.PushTo(L)
				h.PushTo(L)
				return engine.PCall(L, 1, 0)
			})
		}()
		return 0, nil
	}
}

// start registers conn and runs its loops. It fails once the module is
// closing.
func (m *Module) start(c *bridge.Context, conn net.Conn) (userdata.Handle[Socket], bool) {
	onRecv := c.Refs().NilAtomic()
	h := userdata.Wrap(m.typ, Socket{
		conn:   conn,
		out:    make(chan []byte, m.queue),
		onRecv: onRecv,
	})

	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		_ = conn.Close()
		onRecv.Release()
		return userdata.Handle[Socket]{}, false
	}
	m.sockets[conn] = h
	m.mu.Unlock()

	m.log.Debug("socket connected", zap.Stringer("remote", conn.RemoteAddr()))

	m.wg.Add(2)
	go m.readLoop(c, h, conn, onRecv.Clone())
	go m.writeLoop(c, h, conn, onRecv.Clone())
	return h, true
}

func (m *Module) readLoop(c *bridge.Context, h userdata.Handle[Socket], conn net.Conn, onRecv *ref.Atomic) {
	defer m.wg.Done()
	defer onRecv.Release()

	for {
		buf := make([]byte, readSize)
		n, err := conn.Read(buf)
		if n > 0 {
			data := buf[:n]
			m.deliver(c, h, onRecv.Clone(), func(L *lua.LState) int {
				L.Push(lua.LString(data))
				return 1
			})
		}
		if err != nil {
			msg := err.Error()
			if stderrors.Is(err, io.EOF) || stderrors.Is(err, net.ErrClosed) {
				msg = "closed"
			}
			m.deliver(c, h, onRecv.Clone(), func(L *lua.LState) int {
				L.Push(lua.LNil)
				L.Push(lua.LString(msg))
				return 2
			})
			m.closeSocket(h)
			return
		}
	}
}

func (m *Module) writeLoop(c *bridge.Context, h userdata.Handle[Socket], conn net.Conn, onRecv *ref.Atomic) {
	defer m.wg.Done()
	defer onRecv.Release()

	out := userdata.WithResult(h, func(s *Socket) chan []byte { return s.out })
	for data := range out {
		if _, err := conn.Write(data); err != nil {
			if stderrors.Is(err, net.ErrClosed) {
				return
			}
			msg := err.Error()
			m.deliver(c, h, onRecv.Clone(), func(L *lua.LState) int {
				L.Push(lua.LNil)
				L.Push(lua.LString(msg))
				return 2
			})
			m.closeSocket(h)
			return
		}
	}
}

// deliver calls the receive callback on the engine goroutine with the
// socket followed by the values pushed by args. cb is released afterwards.
func (m *Module) deliver(c *bridge.Context, h userdata.Handle[Socket], cb *ref.Atomic, args func(L *lua.LState) int) {
	bridge.Go(c, func(L *lua.LState) error {
		defer cb.Release()
		if cb.ID() == engine.RefNil {
			return nil
		}
		cb.PushTo(L)
		return engine.PCallWith(L, 0, func(L *lua.LState) int {
			h.PushTo(L)
			return 1 + args(L)
		})
	})
}

func (m *Module) send(L *lua.LState, self userdata.Handle[Socket]) (int, error) {
	data, err := stack.Get[[]byte](L, 2)
	if err != nil {
		return 0, err
	}
	var serr error
	self.With(func(s *Socket) {
		if s.closed {
			serr = errors.Closed(errors.PhaseCall, "socket")
			return
		}
		select {
		case s.out <- data:
		default:
			serr = errors.Customf("socket send queue full (%d pending)", cap(s.out))
		}
	})
	return 0, serr
}

func (m *Module) setOnRecv(c *bridge.Context, L *lua.LState, self userdata.Handle[Socket]) (int, error) {
	if L.Get(2) != lua.LNil {
		if _, err := stack.Expect(L, 2, lua.LTFunction); err != nil {
			return 0, err
		}
	}
	cb := c.Refs().New(L, 2)

	var old *ref.Owned
	var serr error
	self.With(func(s *Socket) {
		if s.closed {
			serr = errors.Closed(errors.PhaseCall, "socket")
			return
		}
		old = s.onRecv.Replace(cb)
	})
	if serr != nil {
		cb.Release()
		return 0, serr
	}
	old.Release()
	return 0, nil
}

func (m *Module) closeSocket(h userdata.Handle[Socket]) {
	var conn net.Conn
	var onRecv *ref.Atomic
	h.With(func(s *Socket) {
		if s.closed {
			return
		}
		s.closed = true
		close(s.out)
		conn, onRecv = s.conn, s.onRecv
	})
	if conn == nil {
		return
	}

	if err := conn.Close(); err != nil && !stderrors.Is(err, net.ErrClosed) {
		m.log.Debug("close socket", zap.Error(err))
	}
	onRecv.Release()

	m.mu.Lock()
	delete(m.sockets, conn)
	m.mu.Unlock()
}

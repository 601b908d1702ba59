package async

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wippyai/lua-bridge/bridge"
	"github.com/wippyai/lua-bridge/engine"
	"github.com/wippyai/lua-bridge/errors"
	"github.com/wippyai/lua-bridge/ref"
	"github.com/wippyai/lua-bridge/stack"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Module exposes the global "async" table:
//
//	async.after(delay, fn)                         -- fn() after delay
//	async.compute(delay, n, on_success, on_failure) -- fib(n) computed off-thread
//	async.pending()                                -- tasks still running
//
// Delays are measured in the module's unit, seconds by default.
type Module struct {
	ctx     context.Context
	cancel  context.CancelFunc
	log     *zap.Logger
	wg      sync.WaitGroup
	unit    time.Duration
	pending atomic.Int64
}

// Option configures the module.
type Option func(*Module)

// WithUnit sets the duration of one delay unit.
func WithUnit(d time.Duration) Option {
	return func(m *Module) {
		if d > 0 {
			m.unit = d
		}
	}
}

// New creates the module.
func New(opts ...Option) *Module {
	m := &Module{unit: time.Second}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open installs the async table.
func (m *Module) Open(c *bridge.Context, L *lua.LState) error {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.log = c.Logger().Named("async")

	tbl := stack.NewTable(L)
	defer L.Pop(1)
	for name, fn := range map[string]engine.NativeFunc{
		"after":   m.after(c),
		"compute": m.compute(c),
		"pending": m.luaPending,
	} {
		if err := tbl.Set(L, name, c.Func(fn)); err != nil {
			return err
		}
	}
	return bridge.SetGlobal(L, "async", tbl)
}

// Close cancels running tasks and waits for them to exit.
func (m *Module) Close(*bridge.Context, *lua.LState) {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
}

// Pending returns the number of running tasks.
func (m *Module) Pending() int64 {
	return m.pending.Load()
}

func (m *Module) spawn(fn func(ctx context.Context)) {
	m.wg.Add(1)
	m.pending.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.pending.Add(-1)
		fn(m.ctx)
	}()
}

func (m *Module) delay(L *lua.LState, pos int) (time.Duration, error) {
	units, err := stack.Get[float64](L, pos)
	if err != nil {
		return 0, err
	}
	if units < 0 {
		return 0, errors.Customf("delay must be non-negative, got %g", units)
	}
	return time.Duration(units * float64(m.unit)), nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Module) after(c *bridge.Context) engine.NativeFunc {
	return func(L *lua.LState) (int, error) {
		d, err := m.delay(L, 1)
		if err != nil {
			return 0, err
		}
		if _, err := stack.Expect(L, 2, lua.LTFunction); err != nil {
			return 0, err
		}
		callback := c.Refs().New(L, 2)

		m.spawn(func(ctx context.Context) {
			if !sleep(ctx, d) {
				callback.Release()
				return
			}
			bridge.Go(c, func(L *lua.LState) error {
				defer callback.Release()
				callback.PushTo(L)
				return engine.PCall(L, 0, 0)
			})
		})
		return 0, nil
	}
}

func (m *Module) compute(c *bridge.Context) engine.NativeFunc {
	return func(L *lua.LState) (int, error) {
		d, err := m.delay(L, 1)
		if err != nil {
			return 0, err
		}
		n, err := stack.Get[int](L, 2)
		if err != nil {
			return 0, err
		}
		if _, err := stack.Expect(L, 3, lua.LTFunction); err != nil {
			return 0, err
		}
		onFailure, err := stack.Get[stack.Optional[*lua.LFunction]](L, 4)
		if err != nil {
			return 0, err
		}

		success := c.Refs().New(L, 3)
		var failure *ref.Owned
		if onFailure.Valid {
			failure = c.Refs().New(L, 4)
		}

		m.spawn(func(ctx context.Context) {
			defer success.Release()
			defer failure.Release()

			if !sleep(ctx, d) {
				return
			}
			value, cerr := Fibonacci(n)
			_, err := bridge.ExecuteContext(ctx, c, func(L *lua.LState) (struct{}, error) {
				if cerr != nil {
					if failure == nil {
						return struct{}{}, nil
					}
					failure.PushTo(L)
					L.Push(lua.LString(errors.Message(cerr)))
					return struct{}{}, engine.PCall(L, 1, 0)
				}
				success.PushTo(L)
				L.Push(lua.LNumber(value))
				return struct{}{}, engine.PCall(L, 1, 0)
			})
			if err != nil {
				m.log.Debug("compute callback failed", zap.Int("n", n), zap.Error(err))
			}
		})
		return 0, nil
	}
}

func (m *Module) luaPending(L *lua.LState) (int, error) {
	L.Push(lua.LNumber(m.pending.Load()))
	return 1, nil
}

// Fibonacci returns the nth Fibonacci number. Results above fib(78) are not
// exact as engine numbers, so larger n is rejected.
func Fibonacci(n int) (int64, error) {
	if n < 0 {
		return 0, errors.Customf("n must be non-negative, got %d", n)
	}
	if n > 78 {
		return 0, errors.Customf("fib(%d) exceeds exact number range", n)
	}
	var a, b int64 = 0, 1
	for i := 0; i < n; i++ {
		a, b = b, a+b
	}
	return a, nil
}

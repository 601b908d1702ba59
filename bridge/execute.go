package bridge

import (
	"context"

	"github.com/wippyai/lua-bridge/affinity"
	"github.com/wippyai/lua-bridge/engine"
	"github.com/wippyai/lua-bridge/errors"
	"github.com/wippyai/lua-bridge/mailbox"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

type result[R any] struct {
	value R
	err   error
}

// Execute runs fn on the owning goroutine during the next drain pass and
// returns its result. It may be called from any goroutine except one that
// currently holds engine access, including from inside a coroutine, which
// gets a reentrant error instead of a deadlock. Errors and panics from fn
// come back as call_failed errors.
func Execute[R any](c *Context, fn func(L *lua.LState) (R, error)) (R, error) {
	return ExecuteContext(context.Background(), c, fn)
}

// ExecuteContext is Execute with a cancellable wait. When ctx is done the
// caller returns ctx.Err(); fn still runs and its result is discarded.
func ExecuteContext[R any](ctx context.Context, c *Context, fn func(L *lua.LState) (R, error)) (R, error) {
	var zero R
	if affinity.Shares(c.owner) {
		return zero, errors.Reentrant()
	}
	if c.mb.Closed() {
		return zero, errors.Closed(errors.PhaseRemote, "bridge")
	}

	reply := make(chan result[R], 1)
	c.mb.Send(mailbox.Invoke(func(L *lua.LState) {
		v, err := protect(L, fn)
		reply <- result[R]{value: v, err: err}
	}))

	select {
	case r := <-reply:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Go queues fn for the owning goroutine without waiting. Failures are
// logged at debug level and discarded.
func Go(c *Context, fn func(L *lua.LState) error) {
	c.mb.Send(mailbox.Invoke(func(L *lua.LState) {
		_, err := protect(L, func(L *lua.LState) (struct{}, error) {
			return struct{}{}, fn(L)
		})
		if err != nil {
			c.log.Debug("remote call failed", zap.Error(err))
		}
	}))
}

// protect runs fn in its own protected engine frame. Errors, engine errors
// and panics come back as call_failed errors; the caller's stack is left as
// it was.
func protect[R any](L *lua.LState, fn func(L *lua.LState) (R, error)) (R, error) {
	var (
		v    R
		ferr error
	)
	top := L.GetTop()
	L.Push(L.NewFunction(func(L *lua.LState) int {
		v, ferr = fn(L)
		return 0
	}))
	if err := L.PCall(0, 0, nil); err != nil {
		L.SetTop(top)
		var zero R
		return zero, errors.CallFailed(errors.PhaseRemote, engine.ErrorMessage(err), err)
	}
	if ferr != nil {
		return v, errors.CallFailed(errors.PhaseRemote, errors.Message(ferr), ferr)
	}
	return v, nil
}

package bridge

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/wippyai/lua-bridge/engine"
	"github.com/wippyai/lua-bridge/errors"
	"github.com/wippyai/lua-bridge/mailbox"
	"github.com/wippyai/lua-bridge/ref"
	"github.com/wippyai/lua-bridge/userdata"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// DefaultEvent is the periodic host event the drainer is attached to.
const DefaultEvent = "Think"

// Context is the long-lived state of one loaded bridge. It is created by
// Load on the owning goroutine and passed to every component that needs the
// mailbox, the reference router or the type registry.
type Context struct {
	created  time.Time
	owner    *lua.LState
	mb       *mailbox.Mailbox
	refs     *ref.Table
	types    *userdata.Registry
	log      *zap.Logger
	event    string
	hookID   string
	unloaded atomic.Bool
}

type options struct {
	logger *zap.Logger
	event  string
	hookID string
}

// Option configures Load.
type Option func(*options)

// WithEvent sets the host event that drives the drainer.
func WithEvent(event string) Option {
	return func(o *options) {
		if event != "" {
			o.event = event
		}
	}
}

// WithHookID overrides the identifier of the drain hook.
func WithHookID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.hookID = id
		}
	}
}

// WithLogger sets the logger for the context and its components.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

var lastStamp atomic.Int64

// stamp returns t in unix nanoseconds, bumped to stay unique per process.
func stamp(t time.Time) int64 {
	n := t.UnixNano()
	for {
		prev := lastStamp.Load()
		if n <= prev {
			n = prev + 1
		}
		if lastStamp.CompareAndSwap(prev, n) {
			return n
		}
	}
}

// Load initializes the bridge for L: it opens the reference table, creates
// the mailbox, reference router and type registry, and installs the drainer
// with hook.Add(event, id, drain). A failure to install the hook is fatal.
// Must be called on the owning goroutine.
func Load(L *lua.LState, opts ...Option) (*Context, error) {
	o := options{event: DefaultEvent, logger: Logger()}
	for _, opt := range opts {
		opt(&o)
	}

	created := time.Now()
	if o.hookID == "" {
		o.hookID = fmt.Sprintf("lua_bridge_drain_%d", stamp(created))
	}

	engine.Open(L)
	mb := mailbox.New(mailbox.WithLogger(o.logger))
	c := &Context{
		created: created,
		owner:   L,
		mb:      mb,
		refs:    ref.NewTable(L, mb),
		types:   userdata.NewRegistry(mb, userdata.WithLogger(o.logger)),
		log:     o.logger.With(zap.String("hook", o.hookID)),
		event:   o.event,
		hookID:  o.hookID,
	}

	drain := L.NewFunction(func(L *lua.LState) int {
		c.mb.Drain(L)
		return 0
	})
	if err := HookAdd(L, c.event, c.hookID, drain); err != nil {
		mb.Close()
		c.types.Close()
		return nil, errors.Load("install drain hook", err)
	}

	c.log.Debug("bridge loaded", zap.String("event", c.event))
	return c, nil
}

// Unload removes the drain hook and closes the mailbox and the registry.
// Pending operations are discarded, not run; Execute callers still waiting
// on them stay blocked unless they used ExecuteContext.
func (c *Context) Unload(L *lua.LState) {
	if c.unloaded.Swap(true) {
		return
	}
	if err := HookRemove(L, c.event, c.hookID); err != nil {
		c.log.Warn("remove drain hook", zap.Error(err))
	}
	pending := c.mb.Len()
	c.mb.Close()
	c.types.Close()
	c.log.Debug("bridge unloaded", zap.Int("dropped", pending))
}

// Drain runs pending operations now. Must be called on the owning goroutine.
func (c *Context) Drain(L *lua.LState) int {
	return c.mb.Drain(L)
}

// Func returns an engine function for fn. It must be called on the owning
// goroutine.
func (c *Context) Func(fn engine.NativeFunc) *lua.LFunction {
	return c.owner.NewFunction(engine.Wrap(fn))
}

// Mailbox returns the mailbox drained by the hook.
func (c *Context) Mailbox() *mailbox.Mailbox { return c.mb }

// Refs returns the reference router.
func (c *Context) Refs() *ref.Table { return c.refs }

// Types returns the native object type registry.
func (c *Context) Types() *userdata.Registry { return c.types }

// Logger returns the context logger.
func (c *Context) Logger() *zap.Logger { return c.log }

// Event returns the host event that drives the drainer.
func (c *Context) Event() string { return c.event }

// HookID returns the identifier of the drain hook.
func (c *Context) HookID() string { return c.hookID }

// Created returns the load time.
func (c *Context) Created() time.Time { return c.created }

// Unloaded reports whether Unload has been called.
func (c *Context) Unloaded() bool { return c.unloaded.Load() }

package host

import (
	"io"
	"os"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// DefaultTick is the interval between periodic events.
const DefaultTick = 15 * time.Millisecond

// Module is loaded into the engine when the host starts and unloaded when
// it stops. bridge.Entry implements it.
type Module interface {
	Load(L *lua.LState) error
	Unload(L *lua.LState)
}

// Option configures a Host.
type Option func(*Host)

// WithTick sets the interval of the periodic event.
func WithTick(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.tick = d
		}
	}
}

// WithLogger sets the host logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Host) {
		if l != nil {
			h.log = l
		}
	}
}

// WithModules appends modules, loaded in order.
func WithModules(mods ...Module) Option {
	return func(h *Host) {
		h.modules = append(h.modules, mods...)
	}
}

// WithLibs controls whether the standard Lua libraries are opened.
func WithLibs(open bool) Option {
	return func(h *Host) {
		h.libs = open
	}
}

// WithOutput sets where print writes.
func WithOutput(w io.Writer) Option {
	return func(h *Host) {
		if w != nil {
			h.out = w
		}
	}
}

// WithEvent sets the name of the periodic event.
func WithEvent(event string) Option {
	return func(h *Host) {
		if event != "" {
			h.event = event
		}
	}
}

func defaults() *Host {
	return &Host{
		tick:  DefaultTick,
		log:   zap.NewNop(),
		libs:  true,
		out:   os.Stdout,
		event: "Think",
	}
}

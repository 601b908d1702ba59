package host

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wippyai/lua-bridge/affinity"
	"github.com/wippyai/lua-bridge/engine"
	"github.com/wippyai/lua-bridge/errors"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// request is a unit of work to run on the owning goroutine.
type request struct {
	fn   func(L *lua.LState) error
	done chan error
}

// Host owns an engine state on a dedicated, OS-thread-locked goroutine and
// drives it: a periodic event fires every tick and requests from other
// goroutines are run between ticks. Modules are loaded at start and
// unloaded at stop.
//
// A Host runs once; create a new one to run again.
type Host struct {
	log      *zap.Logger
	out      io.Writer
	hooks    *hooks
	owner    atomic.Pointer[lua.LState]
	requests chan request
	ready    chan struct{}
	done     chan struct{}
	quit     chan struct{}
	err      error
	event    string
	modules  []Module
	tick     time.Duration
	ticks    atomic.Uint64
	stopOnce sync.Once
	libs     bool
}

// New creates a host. Nothing runs until Run or Start.
func New(opts ...Option) *Host {
	h := defaults()
	for _, opt := range opts {
		opt(h)
	}
	h.requests = make(chan request)
	h.ready = make(chan struct{})
	h.done = make(chan struct{})
	h.quit = make(chan struct{})
	return h
}

// Run creates the engine state on the calling goroutine, loads the
// modules and drives the loop until ctx is done or Stop is called. A module
// that fails to load aborts the start.
func (h *Host) Run(ctx context.Context) (err error) {
	defer func() {
		h.err = err
		close(h.done)
	}()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	L := lua.NewState(lua.Options{SkipOpenLibs: !h.libs})
	defer L.Close()
	h.owner.Store(L)

	// The owning goroutine has engine access for its whole life.
	scope := affinity.Acquire(L)
	defer scope.Release()

	h.hooks = newHooks(h.log)
	h.hooks.open(L)
	L.SetGlobal("print", L.NewFunction(h.print))

	loaded := make([]Module, 0, len(h.modules))
	unload := func() {
		for i := len(loaded) - 1; i >= 0; i-- {
			loaded[i].Unload(L)
		}
	}
	for i, m := range h.modules {
		if err := m.Load(L); err != nil {
			unload()
			return errors.Load(fmt.Sprintf("module %d", i), err)
		}
		loaded = append(loaded, m)
	}
	defer unload()

	h.log.Debug("host started",
		zap.Duration("tick", h.tick),
		zap.Int("modules", len(loaded)))
	close(h.ready)

	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Debug("host stopping", zap.Error(ctx.Err()))
			return nil
		case <-h.quit:
			h.log.Debug("host stopping")
			return nil
		case <-ticker.C:
			h.think(L)
		case req := <-h.requests:
			req.done <- h.execute(L, req.fn)
		}
	}
}

// Start runs the host on a new goroutine and returns once the modules are
// loaded, or with the error that prevented it.
func (h *Host) Start(ctx context.Context) error {
	go func() { _ = h.Run(ctx) }()
	select {
	case <-h.ready:
		return nil
	case <-h.done:
		return h.err
	}
}

// Stop asks the loop to exit. Modules are unloaded before Run returns.
func (h *Host) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// Wait blocks until the host has stopped and returns the Run error.
func (h *Host) Wait() error {
	<-h.done
	return h.err
}

// Ticks returns the number of periodic events fired so far.
func (h *Host) Ticks() uint64 {
	return h.ticks.Load()
}

// Do runs fn on the owning goroutine and waits for it. Engine errors and
// panics inside fn are returned as call_failed errors.
func (h *Host) Do(fn func(L *lua.LState) error) error {
	if L := h.owner.Load(); L != nil && affinity.Shares(L) {
		cur, _ := affinity.Current()
		return h.execute(cur, fn)
	}
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case h.requests <- req:
	case <-h.done:
		return errors.Closed(errors.PhaseCall, "host")
	}
	select {
	case err := <-req.done:
		return err
	case <-h.done:
		return errors.Closed(errors.PhaseCall, "host")
	}
}

// DoString runs a chunk of source on the owning goroutine.
func (h *Host) DoString(src string) error {
	return h.Do(func(L *lua.LState) error {
		fn, err := L.LoadString(src)
		if err != nil {
			return errors.Wrap(errors.PhaseLoad, errors.KindLoad, err, "compile chunk")
		}
		L.Push(fn)
		return engine.PCall(L, 0, 0)
	})
}

// DoFile runs a script file on the owning goroutine.
func (h *Host) DoFile(path string) error {
	return h.Do(func(L *lua.LState) error {
		fn, err := L.LoadFile(path)
		if err != nil {
			return errors.Wrap(errors.PhaseLoad, errors.KindLoad, err, path)
		}
		L.Push(fn)
		return engine.PCall(L, 0, 0)
	})
}

// Fire runs the periodic event handlers now, outside the tick schedule.
func (h *Host) Fire() error {
	return h.Do(func(L *lua.LState) error {
		h.think(L)
		return nil
	})
}

func (h *Host) think(L *lua.LState) {
	h.hooks.run(L, h.event)
	h.ticks.Add(1)
}

// execute runs fn in a protected frame, restoring the stack afterwards.
func (h *Host) execute(L *lua.LState, fn func(L *lua.LState) error) error {
	var ferr error
	top := L.GetTop()
	L.Push(L.NewFunction(func(L *lua.LState) int {
		ferr = fn(L)
		return 0
	}))
	if err := engine.PCall(L, 0, 0); err != nil {
		L.SetTop(top)
		return err
	}
	return ferr
}

// print writes its arguments separated by tabs, like the standard print.
func (h *Host) print(L *lua.LState) int {
	parts := make([]string, L.GetTop())
	for i := range parts {
		parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
	}
	fmt.Fprintln(h.out, strings.Join(parts, "\t"))
	return 0
}

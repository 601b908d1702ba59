package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wippyai/lua-bridge/affinity"
	bridgeerrors "github.com/wippyai/lua-bridge/errors"
	"github.com/wippyai/lua-bridge/ref"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// hookLib is a minimal stand-in for the host's hook library.
const hookLib = `
hook = { handlers = {} }
function hook.Add(event, id, fn)
	hook.handlers[event] = hook.handlers[event] or {}
	hook.handlers[event][id] = fn
end
function hook.Remove(event, id)
	if hook.handlers[event] then hook.handlers[event][id] = nil end
end
function hook.Run(event, ...)
	for _, fn in pairs(hook.handlers[event] or {}) do fn(...) end
end
function hook.Count(event)
	local n = 0
	for _ in pairs(hook.handlers[event] or {}) do n = n + 1 end
	return n
end
`

func newState(t *testing.T) *lua.LState {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)
	if err := L.DoString(hookLib); err != nil {
		t.Fatalf("hook library: %v", err)
	}
	return L
}

func hookCount(t *testing.T, L *lua.LState, event string) int {
	t.Helper()
	if err := L.DoString(`__count = hook.Count("` + event + `")`); err != nil {
		t.Fatal(err)
	}
	return int(L.GetGlobal("__count").(lua.LNumber))
}

// think fires the periodic event as the host loop would.
func think(t *testing.T, L *lua.LState) {
	t.Helper()
	if err := HookRun(L, DefaultEvent); err != nil {
		t.Fatalf("hook.Run: %v", err)
	}
}

// pump drives the owner loop until done is closed.
func pump(t *testing.T, L *lua.LState, done <-chan struct{}) {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case <-done:
			think(t, L)
			return
		case <-timeout:
			t.Fatal("timed out driving the owner loop")
		default:
			think(t, L)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestLoadInstallsHook(t *testing.T) {
	L := newState(t)

	c, err := Load(L)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Event() != DefaultEvent {
		t.Fatalf("Event() = %q", c.Event())
	}
	if !strings.HasPrefix(c.HookID(), "lua_bridge_drain_") {
		t.Fatalf("HookID() = %q", c.HookID())
	}
	if hookCount(t, L, DefaultEvent) != 1 {
		t.Fatal("drain hook should be registered")
	}

	c2, err := Load(L, WithEvent("Tick"), WithHookID("custom"))
	if err != nil {
		t.Fatal(err)
	}
	if c2.HookID() != "custom" || hookCount(t, L, "Tick") != 1 {
		t.Fatalf("options not applied: %q", c2.HookID())
	}

	c.Unload(L)
	c.Unload(L)
	if hookCount(t, L, DefaultEvent) != 0 {
		t.Fatal("Unload should remove the hook")
	}
	if !c.Unloaded() || !c.Mailbox().Closed() {
		t.Fatal("Unload should close the mailbox")
	}
}

func TestHookIDsAreUnique(t *testing.T) {
	L := newState(t)
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		c, err := Load(L)
		if err != nil {
			t.Fatal(err)
		}
		if seen[c.HookID()] {
			t.Fatalf("duplicate hook id %q", c.HookID())
		}
		seen[c.HookID()] = true
	}
}

func TestLoadFailsWithoutHookLibrary(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	_, err := Load(L)
	if !errors.Is(err, bridgeerrors.OfKind(bridgeerrors.KindLoad)) {
		t.Fatalf("expected load error, got %v", err)
	}

	if err := L.DoString(`hook = { Add = function() error("rejected") end }`); err != nil {
		t.Fatal(err)
	}
	_, err = Load(L)
	if !errors.Is(err, bridgeerrors.OfKind(bridgeerrors.KindLoad)) || !strings.Contains(err.Error(), "rejected") {
		t.Fatalf("expected load error from hook.Add, got %v", err)
	}
}

func TestExecuteFromWorkers(t *testing.T) {
	L := newState(t)
	c, err := Load(L)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Unload(L)

	const workers = 16
	var wg sync.WaitGroup
	var mismatches atomic.Int32
	results := make([]int, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = Execute(c, func(got *lua.LState) (int, error) {
				if got != L || !affinity.Is(L) {
					mismatches.Add(1)
				}
				return i * i, nil
			})
		}(i)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	pump(t, L, done)

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if results[i] != i*i {
			t.Fatalf("worker %d result = %d", i, results[i])
		}
	}
	if mismatches.Load() != 0 {
		t.Fatalf("%d calls observed the wrong engine state", mismatches.Load())
	}
}

func TestExecuteErrors(t *testing.T) {
	L := newState(t)
	c, err := Load(L)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Unload(L)

	cause := bridgeerrors.Custom("no such player")
	tests := []struct {
		name string
		fn   func(L *lua.LState) (int, error)
		msg  string
	}{
		{"returned error", func(*lua.LState) (int, error) { return 0, cause }, "no such player"},
		{"panic", func(*lua.LState) (int, error) { panic("exploded") }, "exploded"},
		{"engine error", func(L *lua.LState) (int, error) {
			L.Push(L.GetGlobal("missing"))
			L.Call(0, 0)
			return 0, nil
		}, "attempt to call"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got error
			done := make(chan struct{})
			go func() {
				defer close(done)
				_, got = Execute(c, tt.fn)
			}()
			pump(t, L, done)

			if !errors.Is(got, bridgeerrors.OfKind(bridgeerrors.KindCallFailed)) {
				t.Fatalf("expected call_failed, got %v", got)
			}
			if !strings.Contains(bridgeerrors.Message(got), tt.msg) {
				t.Fatalf("message = %q, want %q", bridgeerrors.Message(got), tt.msg)
			}
			if L.GetTop() != 0 {
				t.Fatalf("stack not restored: %d", L.GetTop())
			}
		})
	}
}

func TestExecuteReentrant(t *testing.T) {
	L := newState(t)
	c, err := Load(L)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Unload(L)

	var got error
	L.SetGlobal("nested", c.Func(func(L *lua.LState) (int, error) {
		_, got = Execute(c, func(*lua.LState) (int, error) { return 1, nil })
		return 0, nil
	}))
	if err := L.DoString("nested()"); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(got, bridgeerrors.OfKind(bridgeerrors.KindReentrant)) {
		t.Fatalf("expected reentrant error, got %v", got)
	}
}

func TestExecuteReentrantFromCoroutine(t *testing.T) {
	L := newState(t)
	c, err := Load(L)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Unload(L)

	L.SetGlobal("blocking", c.Func(func(L *lua.LState) (int, error) {
		_, err := Execute(c, func(*lua.LState) (int, error) { return 1, nil })
		return 0, err
	}))

	tests := []struct {
		name string
		src  string
	}{
		{"wrap", `__ok, __err = pcall(coroutine.wrap(function() blocking() end))`},
		{"resume", `__ok, __err = coroutine.resume(coroutine.create(function() blocking() end))`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			done := make(chan error, 1)
			go func() { done <- L.DoString(tt.src) }()
			select {
			case err := <-done:
				if err != nil {
					t.Fatal(err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("Execute from a coroutine blocked the owner")
			}
			if L.GetGlobal("__ok") != lua.LFalse {
				t.Fatal("blocking() inside a coroutine should fail")
			}
			if msg := L.GetGlobal("__err").String(); !strings.Contains(msg, "reentrant") {
				t.Fatalf("error = %q, want reentrant", msg)
			}
		})
	}
}

func TestExecuteAfterUnload(t *testing.T) {
	L := newState(t)
	c, err := Load(L)
	if err != nil {
		t.Fatal(err)
	}
	c.Unload(L)

	_, err = Execute(c, func(*lua.LState) (int, error) { return 1, nil })
	if !errors.Is(err, bridgeerrors.OfKind(bridgeerrors.KindClosed)) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestExecuteContextAbandon(t *testing.T) {
	L := newState(t)
	c, err := Load(L)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Unload(L)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var ran atomic.Bool
	_, err = ExecuteContext(ctx, c, func(*lua.LState) (int, error) {
		ran.Store(true)
		return 1, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	// The abandoned call still runs and does not block the drainer
	think(t, L)
	if !ran.Load() {
		t.Fatal("abandoned call should still run")
	}
}

func TestGoLogsFailures(t *testing.T) {
	L := newState(t)
	core, logs := observer.New(zap.DebugLevel)
	c, err := Load(L, WithLogger(zap.New(core)))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Unload(L)

	var order []string
	Go(c, func(*lua.LState) error { order = append(order, "a"); return errors.New("ignored") })
	Go(c, func(*lua.LState) error { order = append(order, "b"); return nil })
	think(t, L)

	if strings.Join(order, "") != "ab" {
		t.Fatalf("order = %v", order)
	}
	if logs.FilterMessage("remote call failed").Len() != 1 {
		t.Fatalf("expected one failure log, got %v", logs.All())
	}
}

// Scenario: a worker finishes a slow computation and invokes a callback
// captured earlier on the owning goroutine.
func TestDelayedCallbackInvokedOnce(t *testing.T) {
	L := newState(t)
	c, err := Load(L)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Unload(L)

	err = L.DoString(`
		calls, argc, last = 0, -1, nil
		function on_success(...)
			calls = calls + 1
			argc = select("#", ...)
			last = ...
		end
	`)
	if err != nil {
		t.Fatal(err)
	}

	var callback *ref.Owned
	scope := affinity.Acquire(L)
	L.Push(L.GetGlobal("on_success"))
	callback = c.Refs().FromTop(L)
	scope.Release()

	var onOwner atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(5 * time.Millisecond)
		result := 832040
		_, err := Execute(c, func(L *lua.LState) (struct{}, error) {
			onOwner.Store(affinity.Is(L))
			callback.PushTo(L)
			L.Push(lua.LNumber(result))
			return struct{}{}, L.PCall(1, 0, nil)
		})
		if err != nil {
			t.Errorf("Execute: %v", err)
		}
		callback.Release()
	}()
	pump(t, L, done)

	if !onOwner.Load() {
		t.Fatal("callback must run on the owning goroutine")
	}
	if calls := L.GetGlobal("calls"); calls != lua.LNumber(1) {
		t.Fatalf("calls = %v, want 1", calls)
	}
	if argc := L.GetGlobal("argc"); argc != lua.LNumber(1) {
		t.Fatalf("argc = %v, want 1", argc)
	}
	if last := L.GetGlobal("last"); last != lua.LNumber(832040) {
		t.Fatalf("argument = %v", last)
	}
}

func TestGlobalsHelpers(t *testing.T) {
	L := newState(t)

	if err := SetGlobal(L, "answer", 42); err != nil {
		t.Fatal(err)
	}
	if L.GetGlobal("answer") != lua.LNumber(42) {
		t.Fatal("SetGlobal did not set the value")
	}

	if err := L.DoString(`seen = {}`); err != nil {
		t.Fatal(err)
	}
	fn := func(L *lua.LState) int {
		L.GetGlobal("seen").(*lua.LTable).Append(L.Get(1))
		return 0
	}
	if err := HookAdd(L, "Event", "probe", fn); err != nil {
		t.Fatal(err)
	}
	if err := HookRun(L, "Event", "payload"); err != nil {
		t.Fatal(err)
	}
	if err := HookRemove(L, "Event", "probe"); err != nil {
		t.Fatal(err)
	}
	if err := HookRun(L, "Event", "again"); err != nil {
		t.Fatal(err)
	}

	seen := L.GetGlobal("seen").(*lua.LTable)
	if seen.Len() != 1 || seen.RawGetInt(1).String() != "payload" {
		t.Fatalf("hook saw %d values", seen.Len())
	}
	if L.GetTop() != 0 {
		t.Fatalf("helpers left %d values on the stack", L.GetTop())
	}
}

type recorder struct {
	name   string
	log    *[]string
	failOn string
}

func (r recorder) Open(*Context, *lua.LState) error {
	*r.log = append(*r.log, "open "+r.name)
	if r.failOn == r.name {
		return errors.New("refused")
	}
	return nil
}

func (r recorder) Close(*Context, *lua.LState) {
	*r.log = append(*r.log, "close "+r.name)
}

func TestEntryLifecycle(t *testing.T) {
	L := newState(t)

	var log []string
	e := NewEntry(Modules(recorder{"a", &log, ""}, recorder{"b", &log, ""}))
	if err := e.Load(L); err != nil {
		t.Fatal(err)
	}
	if e.Context() == nil {
		t.Fatal("Context() should be set after Load")
	}
	e.Unload(L)
	e.Unload(L)

	want := "open a,open b,close b,close a"
	if got := strings.Join(log, ","); got != want {
		t.Fatalf("lifecycle = %s, want %s", got, want)
	}
	if hookCount(t, L, DefaultEvent) != 0 {
		t.Fatal("Unload should remove the drain hook")
	}
}

func TestEntryOpenFailure(t *testing.T) {
	L := newState(t)

	var log []string
	e := NewEntry(Modules(recorder{"a", &log, "b"}, recorder{"b", &log, "b"}))
	err := e.Load(L)
	if !errors.Is(err, bridgeerrors.OfKind(bridgeerrors.KindLoad)) {
		t.Fatalf("expected load error, got %v", err)
	}
	if got := strings.Join(log, ","); got != "open a,open b,close a" {
		t.Fatalf("lifecycle = %s", got)
	}
	if hookCount(t, L, DefaultEvent) != 0 {
		t.Fatal("failed load should not leave a hook behind")
	}
}

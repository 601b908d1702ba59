package async

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/wippyai/lua-bridge/bridge"
	"github.com/wippyai/lua-bridge/host"
	lua "github.com/yuin/gopher-lua"
)

func startHost(t *testing.T, mod *Module) *host.Host {
	t.Helper()
	h := host.New(
		host.WithTick(time.Millisecond),
		host.WithModules(bridge.NewEntry(mod)),
	)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		h.Stop()
		_ = h.Wait()
	})
	return h
}

func global(t *testing.T, h *host.Host, name string) lua.LValue {
	t.Helper()
	var v lua.LValue
	if err := h.Do(func(L *lua.LState) error {
		v = L.GetGlobal(name)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	return v
}

func waitGlobal(t *testing.T, h *host.Host, name string, want lua.LValue) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for global(t, h, name) != want {
		if time.Now().After(deadline) {
			t.Fatalf("%s = %v, want %v", name, global(t, h, name), want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestFibonacci(t *testing.T) {
	tests := []struct {
		n       int
		want    int64
		wantErr bool
	}{
		{0, 0, false},
		{1, 1, false},
		{10, 55, false},
		{30, 832040, false},
		{78, 8944394323791464, false},
		{-1, 0, true},
		{79, 0, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.n), func(t *testing.T) {
			got, err := Fibonacci(tt.n)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if got != tt.want {
				t.Fatalf("Fibonacci(%d) = %d, want %d", tt.n, got, tt.want)
			}
		})
	}
}

func TestComputeInvokesCallbackOnce(t *testing.T) {
	mod := New(WithUnit(time.Millisecond))
	h := startHost(t, mod)

	err := h.DoString(`
		calls, argc, result = 0, -1, nil
		async.compute(5, 30, function(...)
			calls = calls + 1
			argc = select("#", ...)
			result = ...
		end)
	`)
	if err != nil {
		t.Fatal(err)
	}

	waitGlobal(t, h, "calls", lua.LNumber(1))
	if argc := global(t, h, "argc"); argc != lua.LNumber(1) {
		t.Fatalf("argc = %v, want 1", argc)
	}
	if result := global(t, h, "result"); result != lua.LNumber(832040) {
		t.Fatalf("result = %v", result)
	}

	// No second invocation on later drains
	time.Sleep(20 * time.Millisecond)
	if calls := global(t, h, "calls"); calls != lua.LNumber(1) {
		t.Fatalf("calls = %v after more ticks", calls)
	}
	if mod.Pending() != 0 {
		t.Fatalf("pending = %d", mod.Pending())
	}
}

func TestComputeFailureCallback(t *testing.T) {
	h := startHost(t, New(WithUnit(time.Millisecond)))

	err := h.DoString(`
		failure = nil
		async.compute(1, -3, function() failure = "success called" end, function(msg) failure = msg end)
	`)
	if err != nil {
		t.Fatal(err)
	}
	waitGlobal(t, h, "failure", lua.LString("n must be non-negative, got -3"))
}

func TestAfter(t *testing.T) {
	h := startHost(t, New(WithUnit(time.Millisecond)))

	err := h.DoString(`
		fired = 0
		async.after(2, function() fired = fired + 1 end)
		async.after(0, function() fired = fired + 10 end)
	`)
	if err != nil {
		t.Fatal(err)
	}
	waitGlobal(t, h, "fired", lua.LNumber(11))
}

func TestArgumentErrors(t *testing.T) {
	h := startHost(t, New())

	tests := []string{
		`async.compute("soon", 1, print)`,
		`async.compute(1, 1, "not a function")`,
		`async.after(-1, print)`,
		`async.compute(1, 1, print, 42)`,
	}
	for _, src := range tests {
		if err := h.DoString(src); err == nil {
			t.Errorf("%s: expected error", src)
		}
	}
}

func TestCloseCancelsPendingTasks(t *testing.T) {
	mod := New()
	h := host.New(host.WithTick(time.Millisecond), host.WithModules(bridge.NewEntry(mod)))
	if err := h.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.DoString(`async.compute(3600, 10, print)`); err != nil {
		t.Fatal(err)
	}
	if mod.Pending() != 1 {
		t.Fatalf("pending = %d", mod.Pending())
	}

	h.Stop()
	if err := h.Wait(); err != nil {
		t.Fatal(err)
	}
	if mod.Pending() != 0 {
		t.Fatal("Close should wait for cancelled tasks")
	}
}

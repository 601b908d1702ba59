package wasm

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/wippyai/lua-bridge/bridge"
	"github.com/wippyai/lua-bridge/errors"
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

func TestExports(t *testing.T) {
	mod := New()
	h := startHost(t, mod)

	got := mod.Exports()
	if len(got) != 2 || got[0] != "add" || got[1] != "mul" {
		t.Fatalf("Exports() = %v", got)
	}

	if err := h.DoString(`local e = wasm.exports(); names = table.concat(e, ",")`); err != nil {
		t.Fatal(err)
	}
	if names := global(t, h, "names"); names != lua.LString("add,mul") {
		t.Fatalf("names = %v", names)
	}
}

func TestCallSync(t *testing.T) {
	h := startHost(t, New())

	tests := []struct {
		src  string
		want lua.LNumber
	}{
		{`r = wasm.call_sync("add", {2, 3})`, 5},
		{`r = wasm.call_sync("mul", {6, 7})`, 42},
		{`r = wasm.call_sync("add", {-5, 2})`, -3},
		{`r = wasm.call_sync("add", {2147483647, 1})`, -2147483648},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			if err := h.DoString(tt.src); err != nil {
				t.Fatal(err)
			}
			if r := global(t, h, "r"); r != tt.want {
				t.Fatalf("r = %v, want %v", r, tt.want)
			}
		})
	}
}

func TestCallSyncErrors(t *testing.T) {
	h := startHost(t, New())

	tests := []string{
		`wasm.call_sync("div", {1, 2})`,
		`wasm.call_sync("add", {1})`,
		`wasm.call_sync("add", {1, "two"})`,
		`wasm.call_sync("add", 3)`,
		`wasm.call_sync(nil, {1, 2})`,
	}
	for _, src := range tests {
		if err := h.DoString(src); err == nil {
			t.Errorf("%s: expected error", src)
		}
	}
}

func TestCallDeliversOnEngineGoroutine(t *testing.T) {
	h := startHost(t, New())

	err := h.DoString(`
		results = {}
		wasm.call("mul", {8, 9}, function(v, err) results.mul = v; results.err = err end)
		wasm.call("add", {1, 1}, function(v) results.add = v end)
	`)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		var mul, add lua.LValue
		_ = h.Do(func(L *lua.LState) error {
			r := L.GetGlobal("results").(*lua.LTable)
			mul, add = r.RawGetString("mul"), r.RawGetString("add")
			return nil
		})
		if mul == lua.LNumber(72) && add == lua.LNumber(2) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("mul = %v, add = %v", mul, add)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestCallRequiresCallback(t *testing.T) {
	h := startHost(t, New())
	if err := h.DoString(`wasm.call("add", {1, 2})`); err == nil {
		t.Fatal("expected error for missing callback")
	}
}

func TestInvalidBinaryFailsLoad(t *testing.T) {
	h := host.New(host.WithModules(bridge.NewEntry(New(WithBinary([]byte("not wasm"))))))
	err := h.Start(context.Background())
	if err == nil {
		h.Stop()
		t.Fatal("expected load error")
	}
	if !stderrors.Is(err, errors.OfKind(errors.KindLoad)) {
		t.Fatalf("err = %v, want load error", err)
	}
}

func TestGoCall(t *testing.T) {
	mod := New()
	startHost(t, mod)

	got, err := mod.Call(context.Background(), "add", 40, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != 42 {
		t.Fatalf("Call = %v", got)
	}
	if _, err := mod.Call(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for missing export")
	}
}

package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/wippyai/lua-bridge/affinity"
	bridgeerrors "github.com/wippyai/lua-bridge/errors"
	lua "github.com/yuin/gopher-lua"
)

func TestWrapInstallsAffinity(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	var inside bool
	L.SetGlobal("probe", L.NewFunction(Wrap(func(L *lua.LState) (int, error) {
		inside = affinity.Is(L)
		return 0, nil
	})))

	if err := L.DoString("probe()"); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	if !inside {
		t.Fatal("native function should run with engine access")
	}
	if affinity.Owned() {
		t.Fatal("access must be released after the call")
	}
}

func TestWrapRaisesErrors(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	L.SetGlobal("fail", L.NewFunction(Wrap(func(L *lua.LState) (int, error) {
		return 0, bridgeerrors.Custom("socket is closed")
	})))

	err := L.DoString(`
		local ok, msg = pcall(fail)
		assert(not ok)
		result = msg
	`)
	if err != nil {
		t.Fatalf("DoString: %v", err)
	}
	msg := L.GetGlobal("result").String()
	if !strings.Contains(msg, "socket is closed") {
		t.Fatalf("engine error = %q", msg)
	}
	if affinity.Owned() {
		t.Fatal("access must be released on the error path")
	}
}

func TestBoundMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"short", "oops", 4},
		{"exact", strings.Repeat("a", MaxErrorLen), MaxErrorLen},
		{"long", strings.Repeat("a", 10000), MaxErrorLen},
		{"nul", "abc\x00def", 3},
		// 3-byte runes: 4095 = 3*1365, the cut lands on a boundary
		{"runes", strings.Repeat("€", 2000), MaxErrorLen},
		// 4094 ASCII bytes + 2-byte rune straddling the limit
		{"straddle", strings.Repeat("a", 4094) + "é", 4094},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := boundMessage(tt.in)
			if len(got) != tt.want {
				t.Fatalf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestPCall(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	if err := L.DoString(`function double(x) return x * 2 end
		function boom() error("boom") end`); err != nil {
		t.Fatal(err)
	}

	L.Push(L.GetGlobal("double"))
	err := PCallWith(L, 1, func(L *lua.LState) int {
		L.Push(lua.LNumber(21))
		return 1
	})
	if err != nil {
		t.Fatalf("PCallWith: %v", err)
	}
	if got := L.Get(-1); got != lua.LNumber(42) {
		t.Fatalf("result = %v, want 42", got)
	}
	L.Pop(1)

	top := L.GetTop()
	L.Push(L.GetGlobal("boom"))
	err = PCall(L, 0, 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, bridgeerrors.OfKind(bridgeerrors.KindCallFailed)) {
		t.Fatalf("error kind: %v", err)
	}
	if !strings.Contains(bridgeerrors.Message(err), "boom") {
		t.Fatalf("message = %q", bridgeerrors.Message(err))
	}
	if L.GetTop() != top {
		t.Fatalf("stack not restored: top = %d, want %d", L.GetTop(), top)
	}
}

func TestPrint(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	var got string
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		got = L.CheckString(1)
		return 0
	}))
	if err := Print(L, "hello"); err != nil {
		t.Fatalf("Print: %v", err)
	}
	if got != "hello" {
		t.Fatalf("print received %q", got)
	}
}

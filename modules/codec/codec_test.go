package codec

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/wippyai/lua-bridge/bridge"
	"github.com/wippyai/lua-bridge/host"
	lua "github.com/yuin/gopher-lua"
)

func newModule(t *testing.T) *Module {
	t.Helper()
	m, err := New()
	if err != nil {
		t.Fatal(err)
	}
	return m
}

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

func TestEncodeCanonical(t *testing.T) {
	m := newModule(t)

	tests := []struct {
		name string
		in   any
		want []byte
	}{
		{"uint", int64(1), []byte{0x01}},
		{"negative", int64(-1), []byte{0x20}},
		{"string", "a", []byte{0x61, 'a'}},
		{"bool", true, []byte{0xf5}},
		{"nil", nil, []byte{0xf6}},
		{"array", []any{int64(1), int64(2)}, []byte{0x82, 0x01, 0x02}},
		{"sorted keys", map[string]any{"b": int64(1), "a": int64(2)}, []byte{0xa2, 0x61, 'a', 0x02, 0x61, 'b', 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Encode(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("Encode() = %x, want %x", got, tt.want)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	m := newModule(t)
	if _, err := m.Decode([]byte{0xff, 0x00}); err == nil {
		t.Fatal("expected error for malformed input")
	}
	if _, err := m.Decode(nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestScriptRoundTrip(t *testing.T) {
	h := startHost(t, newModule(t))

	err := h.DoString(`
		local v = codec.decode(codec.encode({ name = "lua", list = {1, 2.5, "x", true}, nested = { deep = { 7 } } }))
		out = v.name .. ":" .. #v.list .. ":" .. v.list[2] .. ":" .. tostring(v.list[4]) .. ":" .. v.nested.deep[1]
		one = codec.encode(1)
	`)
	if err != nil {
		t.Fatal(err)
	}
	if out := global(t, h, "out"); out != lua.LString("lua:4:2.5:true:7") {
		t.Fatalf("out = %v", out)
	}
	if one := global(t, h, "one"); one != lua.LString("\x01") {
		t.Fatalf("one = %q", one)
	}
}

func TestScriptErrors(t *testing.T) {
	h := startHost(t, newModule(t))

	tests := []string{
		`codec.encode(print)`,
		`codec.encode({ f = print })`,
		`codec.decode("\255")`,
		`codec.encode_async({}, "not a function")`,
	}
	for _, src := range tests {
		if err := h.DoString(src); err == nil {
			t.Errorf("%s: expected error", src)
		}
	}
}

func TestAsync(t *testing.T) {
	h := startHost(t, newModule(t))

	err := h.DoString(`
		codec.encode_async({ 1, 2, 3 }, function(bytes, err)
			encoded = bytes
			codec.decode_async(bytes, function(v) total = v[1] + v[2] + v[3] end)
		end)
		codec.decode_async("\255", function(v, err) decode_err = err end)
	`)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for global(t, h, "total") != lua.LNumber(6) || global(t, h, "decode_err") == lua.LNil {
		if time.Now().After(deadline) {
			t.Fatalf("total = %v, decode_err = %v", global(t, h, "total"), global(t, h, "decode_err"))
		}
		time.Sleep(2 * time.Millisecond)
	}
	if enc := global(t, h, "encoded"); enc != lua.LString("\x83\x01\x02\x03") {
		t.Fatalf("encoded = %q", enc)
	}
}

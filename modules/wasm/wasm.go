package wasm

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/wippyai/lua-bridge/bridge"
	"github.com/wippyai/lua-bridge/engine"
	"github.com/wippyai/lua-bridge/errors"
	"github.com/wippyai/lua-bridge/stack"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Module exposes a compiled WebAssembly module to scripts as the global
// "wasm" table:
//
//	wasm.exports()              -- sorted list of exported function names
//	wasm.call_sync(name, args)  -- results, computed on the engine goroutine
//	wasm.call(name, args, cb)   -- cb(results...) or cb(nil, message), computed off-thread
//
// args is a sequence of numbers matching the export's parameter types.
type Module struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
	rt     wazero.Runtime
	inst   api.Module
	binary []byte
	wg     sync.WaitGroup
	// instance calls are not safe for concurrent use
	mu    sync.Mutex
	pages uint32
}

// Option configures the module.
type Option func(*Module)

// WithBinary sets the wasm binary to instantiate instead of Builtin.
func WithBinary(b []byte) Option {
	return func(m *Module) {
		if len(b) > 0 {
			m.binary = b
		}
	}
}

// WithMemoryLimitPages caps instance memory in 64KiB pages. 0 keeps the
// runtime default.
func WithMemoryLimitPages(pages uint32) Option {
	return func(m *Module) {
		m.pages = pages
	}
}

// New creates the module.
func New(opts ...Option) *Module {
	m := &Module{binary: Builtin}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open compiles and instantiates the binary and installs the wasm table.
func (m *Module) Open(c *bridge.Context, L *lua.LState) error {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.log = c.Logger().Named("wasm")

	cfg := wazero.NewRuntimeConfig()
	if m.pages > 0 {
		cfg = cfg.WithMemoryLimitPages(m.pages)
	}
	m.rt = wazero.NewRuntimeWithConfig(m.ctx, cfg)

	compiled, err := m.rt.CompileModule(m.ctx, m.binary)
	if err != nil {
		m.shutdown()
		return fmt.Errorf("compile failed: %w", err)
	}
	m.inst, err = m.rt.InstantiateModule(m.ctx, compiled, wazero.NewModuleConfig().WithName("lua"))
	if err != nil {
		m.shutdown()
		return fmt.Errorf("instantiate failed: %w", err)
	}
	m.log.Debug("wasm module instantiated", zap.Strings("exports", m.Exports()))

	tbl := stack.NewTable(L)
	defer L.Pop(1)
	for name, fn := range map[string]engine.NativeFunc{
		"exports":   m.luaExports,
		"call_sync": m.callSync,
		"call":      m.call(c),
	} {
		if err := tbl.Set(L, name, c.Func(fn)); err != nil {
			return err
		}
	}
	return bridge.SetGlobal(L, "wasm", tbl)
}

// Close waits for in-flight calls and closes the runtime.
func (m *Module) Close(*bridge.Context, *lua.LState) {
	if m.cancel == nil {
		return
	}
	m.shutdown()
}

func (m *Module) shutdown() {
	m.cancel()
	m.wg.Wait()
	if m.rt != nil {
		if err := m.rt.Close(context.Background()); err != nil {
			m.log.Warn("close wasm runtime", zap.Error(err))
		}
	}
}

// Exports returns the sorted names of the exported functions.
func (m *Module) Exports() []string {
	defs := m.inst.ExportedFunctionDefinitions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes an export with raw wasm values.
func (m *Module) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := m.inst.ExportedFunction(name)
	if fn == nil {
		return nil, errors.Customf("wasm export %q not found", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn.Call(ctx, params...)
}

// params converts the sequence at pos to raw values for export name.
func (m *Module) params(L *lua.LState, name string, pos int) ([]api.ValueType, []uint64, error) {
	fn := m.inst.ExportedFunction(name)
	if fn == nil {
		return nil, nil, errors.Customf("wasm export %q not found", name)
	}
	def := fn.Definition()

	var args *lua.LTable
	if L.Get(pos) != lua.LNil {
		v, err := stack.Expect(L, pos, lua.LTTable)
		if err != nil {
			return nil, nil, err
		}
		args = v.(*lua.LTable)
	}

	types := def.ParamTypes()
	n := 0
	if args != nil {
		n = args.Len()
	}
	if n != len(types) {
		return nil, nil, errors.Customf("%s expects %d arguments, got %d", name, len(types), n)
	}

	raw := make([]uint64, len(types))
	for i, t := range types {
		num, ok := args.RawGetInt(i + 1).(lua.LNumber)
		if !ok {
			return nil, nil, errors.TypeMismatch(errors.PhasePull, i+1, "number", args.RawGetInt(i+1).Type().String())
		}
		v, err := encode(t, float64(num))
		if err != nil {
			return nil, nil, err
		}
		raw[i] = v
	}
	return def.ResultTypes(), raw, nil
}

func encode(t api.ValueType, f float64) (uint64, error) {
	switch t {
	case api.ValueTypeI32:
		return api.EncodeI32(int32(f)), nil
	case api.ValueTypeI64:
		return api.EncodeI64(int64(f)), nil
	case api.ValueTypeF32:
		return api.EncodeF32(float32(f)), nil
	case api.ValueTypeF64:
		return api.EncodeF64(f), nil
	}
	return 0, errors.Customf("unsupported wasm parameter type %s", api.ValueTypeName(t))
}

func decode(t api.ValueType, v uint64) lua.LNumber {
	switch t {
	case api.ValueTypeI32:
		return lua.LNumber(api.DecodeI32(v))
	case api.ValueTypeI64:
		return lua.LNumber(int64(v))
	case api.ValueTypeF32:
		return lua.LNumber(api.DecodeF32(v))
	case api.ValueTypeF64:
		return lua.LNumber(api.DecodeF64(v))
	}
	return lua.LNumber(math.NaN())
}

func pushResults(L *lua.LState, types []api.ValueType, results []uint64) int {
	for i, v := range results {
		L.Push(decode(types[i], v))
	}
	return len(results)
}

func (m *Module) luaExports(L *lua.LState) (int, error) {
	return stack.Push(L, m.Exports())
}

func (m *Module) callSync(L *lua.LState) (int, error) {
	name, err := stack.Get[string](L, 1)
	if err != nil {
		return 0, err
	}
	types, raw, err := m.params(L, name, 2)
	if err != nil {
		return 0, err
	}
	results, err := m.Call(m.ctx, name, raw...)
	if err != nil {
		return 0, errors.Customf("wasm %s: %v", name, err)
	}
	return pushResults(L, types, results), nil
}

func (m *Module) call(c *bridge.Context) engine.NativeFunc {
	return func(L *lua.LState) (int, error) {
		name, err := stack.Get[string](L, 1)
		if err != nil {
			return 0, err
		}
		types, raw, err := m.params(L, name, 2)
		if err != nil {
			return 0, err
		}
		if _, err := stack.Expect(L, 3, lua.LTFunction); err != nil {
			return 0, err
		}
		callback := c.Refs().New(L, 3)

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			results, cerr := m.Call(m.ctx, name, raw...)
			if cerr != nil {
				m.log.Debug("wasm call failed", zap.String("export", name), zap.Error(cerr))
			}
			bridge.Go(c, func(L *lua.LState) error {
				defer callback.Release()
				callback.PushTo(L)
				if cerr != nil {
					L.Push(lua.LNil)
					L.Push(lua.LString(fmt.Sprintf("wasm %s: %v", name, cerr)))
					return engine.PCall(L, 2, 0)
				}
				return engine.PCall(L, pushResults(L, types, results), 0)
			})
		}()
		return 0, nil
	}
}

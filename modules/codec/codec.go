package codec

import (
	"context"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/wippyai/lua-bridge/bridge"
	"github.com/wippyai/lua-bridge/engine"
	"github.com/wippyai/lua-bridge/errors"
	"github.com/wippyai/lua-bridge/stack"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// maxNesting matches the marshalling depth limit.
const maxNesting = 64

// Module exposes CBOR encoding to scripts as the global "codec" table:
//
//	codec.encode(value)             -- CBOR bytes as a string
//	codec.decode(bytes)             -- value
//	codec.encode_async(value, cb)   -- cb(bytes) or cb(nil, message)
//	codec.decode_async(bytes, cb)   -- cb(value) or cb(nil, message)
//
// Values are copied off the stack before encoding, so the async variants
// run on worker goroutines. Encoding is canonical.
type Module struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
	enc    cbor.EncMode
	dec    cbor.DecMode
	wg     sync.WaitGroup
}

// New creates the module with canonical encoding.
func New() (*Module, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("codec: create enc mode: %w", err)
	}
	dec, err := cbor.DecOptions{MaxNestedLevels: maxNesting}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("codec: create dec mode: %w", err)
	}
	return &Module{enc: enc, dec: dec}, nil
}

// Encode serializes a snapshot value.
func (m *Module) Encode(v any) ([]byte, error) {
	b, err := m.enc.Marshal(v)
	if err != nil {
		return nil, errors.Customf("codec: encode: %v", err)
	}
	return b, nil
}

// Decode parses CBOR bytes into plain Go values.
func (m *Module) Decode(data []byte) (any, error) {
	var v any
	if err := m.dec.Unmarshal(data, &v); err != nil {
		return nil, errors.Customf("codec: decode: %v", err)
	}
	return v, nil
}

// Open installs the codec table.
func (m *Module) Open(c *bridge.Context, L *lua.LState) error {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.log = c.Logger().Named("codec")

	tbl := stack.NewTable(L)
	defer L.Pop(1)
	for name, fn := range map[string]engine.NativeFunc{
		"encode":       m.encode,
		"decode":       m.decode,
		"encode_async": m.encodeAsync(c),
		"decode_async": m.decodeAsync(c),
	} {
		if err := tbl.Set(L, name, c.Func(fn)); err != nil {
			return err
		}
	}
	return bridge.SetGlobal(L, "codec", tbl)
}

// Close waits for running async calls.
func (m *Module) Close(*bridge.Context, *lua.LState) {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
}

func (m *Module) encode(L *lua.LState) (int, error) {
	v, err := stack.Snapshot(L, 1)
	if err != nil {
		return 0, err
	}
	b, err := m.Encode(v)
	if err != nil {
		return 0, err
	}
	L.Push(lua.LString(b))
	return 1, nil
}

func (m *Module) decode(L *lua.LState) (int, error) {
	data, err := stack.Get[[]byte](L, 1)
	if err != nil {
		return 0, err
	}
	v, err := m.Decode(data)
	if err != nil {
		return 0, err
	}
	return stack.Push(L, v)
}

// async runs work off-thread and hands its result to the callback at pos.
func (m *Module) async(c *bridge.Context, L *lua.LState, pos int, work func() (any, error)) (int, error) {
	if _, err := stack.Expect(L, pos, lua.LTFunction); err != nil {
		return 0, err
	}
	callback := c.Refs().New(L, pos)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if m.ctx.Err() != nil {
			callback.Release()
			return
		}
		v, werr := work()
		if werr != nil {
			m.log.Debug("async codec call failed", zap.Error(werr))
		}
		bridge.Go(c, func(L *lua.LState) error {
			defer callback.Release()
			callback.PushTo(L)
			return engine.PCallWith(L, 0, func(L *lua.LState) int {
				if werr != nil {
					L.Push(lua.LNil)
					L.Push(lua.LString(errors.Message(werr)))
					return 2
				}
				n, err := stack.Push(L, v)
				if err != nil {
					L.Push(lua.LNil)
					L.Push(lua.LString(errors.Message(err)))
					return 2
				}
				return n
			})
		})
	}()
	return 0, nil
}

func (m *Module) encodeAsync(c *bridge.Context) engine.NativeFunc {
	return func(L *lua.LState) (int, error) {
		v, err := stack.Snapshot(L, 1)
		if err != nil {
			return 0, err
		}
		return m.async(c, L, 2, func() (any, error) {
			b, err := m.Encode(v)
			if err != nil {
				return nil, err
			}
			return b, nil
		})
	}
}

func (m *Module) decodeAsync(c *bridge.Context) engine.NativeFunc {
	return func(L *lua.LState) (int, error) {
		data, err := stack.Get[[]byte](L, 1)
		if err != nil {
			return 0, err
		}
		return m.async(c, L, 2, func() (any, error) {
			return m.Decode(data)
		})
	}
}

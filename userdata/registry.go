package userdata

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/wippyai/lua-bridge/engine"
	"github.com/wippyai/lua-bridge/errors"
	"github.com/wippyai/lua-bridge/mailbox"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Registry holds the native object types registered for one engine state.
// It is built at load time and passed to every binding site.
type Registry struct {
	mb     *mailbox.Mailbox
	log    *zap.Logger
	tags   map[reflect.Type]string
	names  map[string]reflect.Type
	mu     sync.RWMutex
	closed bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry creates an empty registry. Collected objects are finalized
// through mb.
func NewRegistry(mb *mailbox.Mailbox, opts ...RegistryOption) *Registry {
	r := &Registry{
		mb:    mb,
		log:   zap.NewNop(),
		tags:  make(map[reflect.Type]string),
		names: make(map[string]reflect.Type),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Close rejects further registrations.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) claim(name string, tag reflect.Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.Closed(errors.PhaseBind, "registry")
	}
	if name == "" {
		return errors.Registration(tag.String(), "empty type name")
	}
	if prev, ok := r.tags[tag]; ok {
		return errors.Registration(name, fmt.Sprintf("%s already registered as %q", tag, prev))
	}
	if _, ok := r.names[name]; ok {
		return errors.Registration(name, "name already in use")
	}
	r.tags[tag] = name
	r.names[name] = tag
	return nil
}

// Type is a registered native object type.
type Type[T any] struct {
	reg  *Registry
	mt   *lua.LTable
	tag  reflect.Type
	name string
}

// Name returns the type name used in errors and __tostring.
func (t *Type[T]) Name() string { return t.name }

// Metatable returns the shared metatable of the type.
func (t *Type[T]) Metatable() *lua.LTable { return t.mt }

// Methods collects the methods of a type during registration.
type Methods[T any] struct {
	typ *Type[T]
	fns map[string]lua.LGFunction
}

// Method adds a raw engine function.
func (m *Methods[T]) Method(name string, fn lua.LGFunction) {
	m.fns[name] = fn
}

// Func adds a method whose first argument is checked to be a T. Errors are
// raised inside the engine.
func (m *Methods[T]) Func(name string, fn func(L *lua.LState, self Handle[T]) (int, error)) {
	typ := m.typ
	m.fns[name] = engine.Wrap(func(L *lua.LState) (int, error) {
		self, err := Check(typ, L, 1)
		if err != nil {
			return 0, err
		}
		return fn(L, self)
	})
}

// Register builds the metatable for T once. build adds the methods; the
// metatable also gets __index, __gc, __tostring, __eq and __name. __gc is
// an explicit early-finalize hook; see collect.
// Registering the same Go type or name twice fails.
func Register[T any](reg *Registry, L *lua.LState, name string, build func(m *Methods[T])) (*Type[T], error) {
	tag := reflect.TypeFor[T]()
	if err := reg.claim(name, tag); err != nil {
		return nil, err
	}

	typ := &Type[T]{reg: reg, tag: tag, name: name}
	m := &Methods[T]{typ: typ, fns: make(map[string]lua.LGFunction)}
	if build != nil {
		build(m)
	}

	mt := L.NewTable()
	for method, fn := range m.fns {
		mt.RawSetString(method, L.NewFunction(fn))
	}
	mt.RawSetString("__index", mt)
	mt.RawSetString("__name", lua.LString(name))
	mt.RawSetString("__gc", L.NewFunction(engine.Wrap(collect)))
	mt.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(describe(L.Get(1))))
		return 1
	}))
	mt.RawSetString("__eq", L.NewFunction(func(L *lua.LState) int {
		a, okA := allocationOf(L.Get(1))
		b, okB := allocationOf(L.Get(2))
		L.Push(lua.LBool(okA && okB && a.identity() != nil && a.identity() == b.identity()))
		return 1
	}))
	typ.mt = mt

	reg.log.Debug("registered native object type",
		zap.String("name", name),
		zap.Stringer("go_type", tag),
		zap.Int("methods", len(m.fns)))
	return typ, nil
}

// collect is the __gc metamethod. gopher-lua never invokes __gc itself; it
// runs only when a script or the host calls it to finalize early. Userdata
// that simply becomes unreachable is finalized by the runtime cleanup that
// Handle.PushTo attaches, via the mailbox.
func collect(L *lua.LState) (int, error) {
	if a, ok := allocationOf(L.Get(1)); ok {
		a.finalize(L)
	}
	return 0, nil
}

func describe(v lua.LValue) string {
	a, ok := allocationOf(v)
	if !ok {
		return v.String()
	}
	id := a.identity()
	if id == nil {
		return a.typeName() + ": finalized"
	}
	return fmt.Sprintf("%s: %p", a.typeName(), id)
}

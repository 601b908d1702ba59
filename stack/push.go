package stack

import (
	"fmt"
	"reflect"

	"github.com/wippyai/lua-bridge/engine"
	"github.com/wippyai/lua-bridge/errors"
	lua "github.com/yuin/gopher-lua"
)

// maxDepth bounds nested tables converted by Push and Snapshot.
const maxDepth = 64

// Pusher is implemented by values that know how to place themselves on the
// stack. PushTo returns the number of slots pushed.
type Pusher interface {
	PushTo(L *lua.LState) int
}

// Nothing pushes zero values. Native functions return it to produce no
// results.
type Nothing struct{}

func (Nothing) PushTo(*lua.LState) int { return 0 }

// Nil pushes a single nil.
type Nil struct{}

func (Nil) PushTo(L *lua.LState) int {
	L.Push(lua.LNil)
	return 1
}

// Func is a native function that pushes itself as an engine function. The
// engine function acquires affinity and raises returned errors.
type Func func(L *lua.LState) (int, error)

func (f Func) PushTo(L *lua.LState) int {
	L.Push(L.NewFunction(engine.Wrap(engine.NativeFunc(f))))
	return 1
}

// fallible is implemented by pushers whose contents may not be pushable.
type fallible interface {
	tryPush(L *lua.LState, depth int) (int, error)
}

// Push places v on the stack and returns the number of slots used.
//
// Supported values: nil, bool, every integer and float kind, string,
// []byte, lua.LValue, lua.LGFunction, func(*lua.LState) int, Pusher,
// pointers (nil pushes nil), slices and arrays (as sequences) and maps with
// string or integer keys.
func Push(L *lua.LState, v any) (int, error) {
	return push(L, v, 0)
}

// PushAll pushes every value in order and returns the total slot count.
// On error the values pushed so far are removed.
func PushAll(L *lua.LState, vs ...any) (int, error) {
	top := L.GetTop()
	total := 0
	for _, v := range vs {
		n, err := Push(L, v)
		if err != nil {
			L.SetTop(top)
			return 0, err
		}
		total += n
	}
	return total, nil
}

func push(L *lua.LState, v any, depth int) (int, error) {
	if depth > maxDepth {
		return 0, errors.InvalidInput(errors.PhasePush, "value nested too deeply")
	}

	switch x := v.(type) {
	case nil:
		L.Push(lua.LNil)
		return 1, nil
	case fallible:
		return x.tryPush(L, depth)
	case Pusher:
		return x.PushTo(L), nil
	case lua.LValue:
		L.Push(x)
		return 1, nil
	case bool:
		L.Push(lua.LBool(x))
		return 1, nil
	case int:
		L.Push(lua.LNumber(x))
		return 1, nil
	case int64:
		L.Push(lua.LNumber(x))
		return 1, nil
	case float64:
		L.Push(lua.LNumber(x))
		return 1, nil
	case string:
		L.Push(lua.LString(x))
		return 1, nil
	case []byte:
		L.Push(lua.LString(x))
		return 1, nil
	case lua.LGFunction:
		L.Push(L.NewFunction(x))
		return 1, nil
	case func(*lua.LState) int:
		L.Push(L.NewFunction(x))
		return 1, nil
	case engine.NativeFunc:
		return Func(x).PushTo(L), nil
	case func(*lua.LState) (int, error):
		return Func(x).PushTo(L), nil
	case []any:
		t := L.CreateTable(len(x), 0)
		for i, item := range x {
			lv, err := toValue(L, item, depth+1)
			if err != nil {
				return 0, err
			}
			t.RawSetInt(i+1, lv)
		}
		L.Push(t)
		return 1, nil
	case map[string]any:
		t := L.CreateTable(0, len(x))
		for k, item := range x {
			lv, err := toValue(L, item, depth+1)
			if err != nil {
				return 0, err
			}
			t.RawSetString(k, lv)
		}
		L.Push(t)
		return 1, nil
	}

	return pushReflect(L, reflect.ValueOf(v), depth)
}

func pushReflect(L *lua.LState, rv reflect.Value, depth int) (int, error) {
	switch rv.Kind() {
	case reflect.Bool:
		L.Push(lua.LBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		L.Push(lua.LNumber(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		L.Push(lua.LNumber(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		L.Push(lua.LNumber(rv.Float()))
	case reflect.String:
		L.Push(lua.LString(rv.String()))
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			L.Push(lua.LNil)
			return 1, nil
		}
		return push(L, rv.Elem().Interface(), depth+1)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			L.Push(lua.LNil)
			return 1, nil
		}
		t := L.CreateTable(rv.Len(), 0)
		for i := 0; i < rv.Len(); i++ {
			lv, err := toValue(L, rv.Index(i).Interface(), depth+1)
			if err != nil {
				return 0, err
			}
			t.RawSetInt(i+1, lv)
		}
		L.Push(t)
	case reflect.Map:
		if rv.IsNil() {
			L.Push(lua.LNil)
			return 1, nil
		}
		t := L.CreateTable(0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k, err := toValue(L, iter.Key().Interface(), depth+1)
			if err != nil {
				return 0, err
			}
			switch k.Type() {
			case lua.LTString, lua.LTNumber, lua.LTBool:
			default:
				return 0, errors.TypeMismatch(errors.PhasePush, 0, "string or number key", k.Type().String())
			}
			lv, err := toValue(L, iter.Value().Interface(), depth+1)
			if err != nil {
				return 0, err
			}
			t.RawSet(k, lv)
		}
		L.Push(t)
	default:
		return 0, errors.TypeMismatch(errors.PhasePush, 0, "pushable value", fmt.Sprintf("%T", rv.Interface()))
	}
	return 1, nil
}

// toValue converts v to exactly one engine value.
func toValue(L *lua.LState, v any, depth int) (lua.LValue, error) {
	n, err := push(L, v, depth)
	if err != nil {
		return nil, err
	}
	if n != 1 {
		L.Pop(n)
		return nil, errors.InvalidInput(errors.PhasePush, fmt.Sprintf("%T pushes %d values, want 1", v, n))
	}
	lv := L.Get(-1)
	L.Pop(1)
	return lv, nil
}

package stack

import (
	lua "github.com/yuin/gopher-lua"
)

// Optional is a value that may be absent. Absent values push as nil; nil or
// missing arguments pull as absent.
type Optional[T any] struct {
	Value T
	Valid bool
}

// Some returns a present Optional.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Valid: true}
}

// None returns an absent Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value or def when absent.
func (o Optional[T]) Get(def T) T {
	if o.Valid {
		return o.Value
	}
	return def
}

// PushTo pushes the value, or nil when absent or not pushable.
func (o Optional[T]) PushTo(L *lua.LState) int {
	n, err := o.tryPush(L, 0)
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	return n
}

func (o Optional[T]) tryPush(L *lua.LState, depth int) (int, error) {
	if !o.Valid {
		L.Push(lua.LNil)
		return 1, nil
	}
	return push(L, o.Value, depth+1)
}

// PullFrom reads the value at pos, treating nil as absent.
func (o *Optional[T]) PullFrom(L *lua.LState, pos int) (int, error) {
	if L.Get(pos) == lua.LNil {
		var zero T
		o.Value, o.Valid = zero, false
		return 1, nil
	}
	v, n, err := Pull[T](L, pos)
	if err != nil {
		return 0, err
	}
	o.Value, o.Valid = v, true
	return n, nil
}

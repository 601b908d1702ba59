package stack

import (
	"github.com/wippyai/lua-bridge/engine"
	lua "github.com/yuin/gopher-lua"
)

// Table is a view of a table at a fixed absolute stack position. The view
// is valid while that slot is not popped.
type Table struct {
	pos int
}

// NewTable pushes a new empty table and returns a view of it.
func NewTable(L *lua.LState) Table {
	L.Push(L.NewTable())
	return Table{pos: L.GetTop()}
}

// TableAt returns a view of the table at pos. The type is not checked.
func TableAt(L *lua.LState, pos int) Table {
	return Table{pos: engine.AbsIndex(L, pos)}
}

// Pos returns the absolute stack position of the table.
func (t Table) Pos() int { return t.pos }

// PushTo pushes a copy of the table.
func (t Table) PushTo(L *lua.LState) int {
	engine.PushCopy(L, t.pos)
	return 1
}

// PullFrom binds the view to the table argument at pos.
func (t *Table) PullFrom(L *lua.LState, pos int) (int, error) {
	if _, err := Expect(L, pos, lua.LTTable); err != nil {
		return 0, err
	}
	t.pos = engine.AbsIndex(L, pos)
	return 1, nil
}

// Set assigns t[key] = value. Metamethods apply.
func (t Table) Set(L *lua.LState, key, value any) error {
	top := L.GetTop()
	if _, err := Push(L, key); err != nil {
		return err
	}
	if _, err := Push(L, value); err != nil {
		L.SetTop(top)
		return err
	}
	engine.SetTable(L, t.pos)
	return nil
}

// Unset assigns t[key] = nil.
func (t Table) Unset(L *lua.LState, key any) error {
	return t.Set(L, key, nil)
}

// PushValue pushes t[key].
func (t Table) PushValue(L *lua.LState, key any) error {
	if _, err := Push(L, key); err != nil {
		return err
	}
	engine.GetTable(L, t.pos)
	return nil
}

// Get returns t[key] without leaving anything on the stack.
func (t Table) Get(L *lua.LState, key any) (lua.LValue, error) {
	if err := t.PushValue(L, key); err != nil {
		return lua.LNil, err
	}
	v := L.Get(-1)
	L.Pop(1)
	return v, nil
}

// Len returns the length of the table as the # operator reports it.
func (t Table) Len(L *lua.LState) int {
	return L.ObjLen(L.Get(t.pos))
}

// GetField reads t[key] as a T. The stack is left unchanged.
func GetField[T any](L *lua.LState, t Table, key any) (T, error) {
	var zero T
	if err := t.PushValue(L, key); err != nil {
		return zero, err
	}
	defer L.Pop(1)
	return Get[T](L, L.GetTop())
}

package stack

import (
	"math"

	"github.com/wippyai/lua-bridge/errors"
	lua "github.com/yuin/gopher-lua"
)

// Snapshot copies the value at pos into plain Go values that may cross
// goroutines: nil, bool, int64 (integral numbers), float64, string,
// []any (sequences), map[string]any and map[any]any. Functions, userdata
// and threads cannot be copied.
func Snapshot(L *lua.LState, pos int) (any, error) {
	return snapshot(L.Get(pos), pos, 0)
}

// SnapshotValue is Snapshot for a value already off the stack.
func SnapshotValue(v lua.LValue) (any, error) {
	return snapshot(v, 0, 0)
}

func snapshot(v lua.LValue, pos, depth int) (any, error) {
	if depth > maxDepth {
		return nil, errors.InvalidInput(errors.PhasePull, "table nested too deeply or cyclic")
	}

	switch x := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(x), nil
	case lua.LNumber:
		f := float64(x)
		if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return int64(f), nil
		}
		return f, nil
	case lua.LString:
		return string(x), nil
	case *lua.LTable:
		return snapshotTable(x, pos, depth)
	}
	return nil, errors.TypeMismatch(errors.PhasePull, pos, "plain value", v.Type().String())
}

func snapshotTable(t *lua.LTable, pos, depth int) (any, error) {
	n := t.Len()
	count := 0
	allStrings := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if k.Type() != lua.LTString {
			allStrings = false
		}
	})

	// Sequence
	if n > 0 && n == count {
		out := make([]any, n)
		for i := 1; i <= n; i++ {
			v, err := snapshot(t.RawGetInt(i), pos, depth+1)
			if err != nil {
				return nil, err
			}
			out[i-1] = v
		}
		return out, nil
	}

	var err error
	if allStrings {
		out := make(map[string]any, count)
		t.ForEach(func(k, v lua.LValue) {
			if err != nil {
				return
			}
			out[string(k.(lua.LString))], err = snapshot(v, pos, depth+1)
		})
		return out, err
	}

	out := make(map[any]any, count)
	t.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		var gk, gv any
		if gk, err = snapshot(k, pos, depth+1); err != nil {
			return
		}
		gv, err = snapshot(v, pos, depth+1)
		out[gk] = gv
	})
	return out, err
}

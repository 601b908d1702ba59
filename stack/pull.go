package stack

import (
	"fmt"
	"math"
	"reflect"
	"unicode/utf8"

	"github.com/wippyai/lua-bridge/engine"
	"github.com/wippyai/lua-bridge/errors"
	lua "github.com/yuin/gopher-lua"
)

// Puller is implemented by pointers to values that can be read from the
// stack. PullFrom returns the number of slots consumed.
type Puller interface {
	PullFrom(L *lua.LState, pos int) (int, error)
}

// TableDecoder is implemented by pointers to struct-like values decoded
// from a table argument.
type TableDecoder interface {
	FromTable(L *lua.LState, t Table) error
}

// Pull reads a T from the stack at pos and returns it along with the number
// of slots used.
//
// Numbers convert to any integer or float kind by truncation, saturating at
// the bounds of integer kinds. Strings must
// be valid UTF-8; use []byte for binary data. *lua.LState consumes no slot.
func Pull[T any](L *lua.LState, pos int) (T, int, error) {
	var out T
	n, err := pullInto(L, pos, &out)
	return out, n, err
}

// Get is Pull without the slot count.
func Get[T any](L *lua.LState, pos int) (T, error) {
	v, _, err := Pull[T](L, pos)
	return v, err
}

// Expect checks that the value at pos has type want.
func Expect(L *lua.LState, pos int, want lua.LValueType) (lua.LValue, error) {
	v := L.Get(pos)
	if v.Type() != want || engine.AbsIndex(L, pos) > L.GetTop() {
		return nil, errors.TypeMismatch(errors.PhasePull, pos, want.String(), engine.TypeName(L, pos))
	}
	return v, nil
}

type number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64
}

func pullNumber[N number](L *lua.LState, pos int, dst *N) (int, error) {
	v, err := Expect(L, pos, lua.LTNumber)
	if err != nil {
		return 0, err
	}
	*dst = saturate[N](float64(v.(lua.LNumber)))
	return 1, nil
}

// saturate converts f to N, truncating toward zero and clamping to the
// bounds of integer kinds. NaN becomes zero for integers.
func saturate[N number](f float64) N {
	var zero N
	rt := reflect.TypeOf(zero)
	bits := rt.Bits()
	switch rt.Kind() {
	case reflect.Float32, reflect.Float64:
		return N(f)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		hi := int64(1)<<(bits-1) - 1
		lo := -hi - 1
		switch {
		case math.IsNaN(f):
			return zero
		case f >= math.Ldexp(1, bits-1):
			return N(hi)
		case f <= float64(lo):
			return N(lo)
		}
	default:
		hi := ^uint64(0) >> (64 - bits)
		switch {
		case math.IsNaN(f) || f <= 0:
			return zero
		case f >= math.Ldexp(1, bits):
			return N(hi)
		}
	}
	return N(f)
}

func pullInto(L *lua.LState, pos int, dst any) (int, error) {
	switch p := dst.(type) {
	case **lua.LState:
		*p = L
		return 0, nil
	case *bool:
		v, err := Expect(L, pos, lua.LTBool)
		if err != nil {
			return 0, err
		}
		*p = bool(v.(lua.LBool))
		return 1, nil
	case *int:
		return pullNumber(L, pos, p)
	case *int8:
		return pullNumber(L, pos, p)
	case *int16:
		return pullNumber(L, pos, p)
	case *int32:
		return pullNumber(L, pos, p)
	case *int64:
		return pullNumber(L, pos, p)
	case *uint:
		return pullNumber(L, pos, p)
	case *uint8:
		return pullNumber(L, pos, p)
	case *uint16:
		return pullNumber(L, pos, p)
	case *uint32:
		return pullNumber(L, pos, p)
	case *uint64:
		return pullNumber(L, pos, p)
	case *uintptr:
		return pullNumber(L, pos, p)
	case *float32:
		return pullNumber(L, pos, p)
	case *float64:
		return pullNumber(L, pos, p)
	case *string:
		v, err := Expect(L, pos, lua.LTString)
		if err != nil {
			return 0, err
		}
		s := string(v.(lua.LString))
		if !utf8.ValidString(s) {
			return 0, errors.InvalidEncoding(errors.PhasePull, pos, s)
		}
		*p = s
		return 1, nil
	case *[]byte:
		v, err := Expect(L, pos, lua.LTString)
		if err != nil {
			return 0, err
		}
		*p = []byte(v.(lua.LString))
		return 1, nil
	case *lua.LValue:
		*p = L.Get(pos)
		return 1, nil
	case **lua.LTable:
		v, err := Expect(L, pos, lua.LTTable)
		if err != nil {
			return 0, err
		}
		*p = v.(*lua.LTable)
		return 1, nil
	case **lua.LFunction:
		v, err := Expect(L, pos, lua.LTFunction)
		if err != nil {
			return 0, err
		}
		*p = v.(*lua.LFunction)
		return 1, nil
	case **lua.LUserData:
		v, err := Expect(L, pos, lua.LTUserData)
		if err != nil {
			return 0, err
		}
		*p = v.(*lua.LUserData)
		return 1, nil
	case *any:
		v, err := Snapshot(L, pos)
		if err != nil {
			return 0, err
		}
		*p = v
		return 1, nil
	case Puller:
		return p.PullFrom(L, pos)
	case TableDecoder:
		if _, err := Expect(L, pos, lua.LTTable); err != nil {
			return 0, err
		}
		if err := p.FromTable(L, TableAt(L, pos)); err != nil {
			return 0, err
		}
		return 1, nil
	}

	return 0, errors.InvalidInput(errors.PhasePull, fmt.Sprintf("cannot pull into %T", dst))
}

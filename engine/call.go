package engine

import (
	"strings"
	"unicode/utf8"

	"github.com/wippyai/lua-bridge/affinity"
	"github.com/wippyai/lua-bridge/errors"
	lua "github.com/yuin/gopher-lua"
)

// MaxErrorLen bounds messages raised through Throw.
const MaxErrorLen = 4095

// NativeFunc is a Go function callable from the engine. It returns the
// number of results it pushed or an error to raise inside the engine.
type NativeFunc func(L *lua.LState) (int, error)

// Wrap adapts fn to the engine's calling convention. The wrapper installs
// engine access for the calling goroutine while fn runs and converts a
// returned error into an engine error.
func Wrap(fn NativeFunc) lua.LGFunction {
	return func(L *lua.LState) int {
		n, err := invoke(L, fn)
		if err != nil {
			Throw(L, err)
		}
		return n
	}
}

func invoke(L *lua.LState, fn NativeFunc) (int, error) {
	scope := affinity.Acquire(L)
	defer scope.Release()
	return fn(L)
}

// PCall calls the function below the nargs arguments on top of the stack
// in protected mode. On failure the function and its arguments are removed
// and the engine message is returned as a call_failed error.
func PCall(L *lua.LState, nargs, nret int) error {
	if err := L.PCall(nargs, nret, nil); err != nil {
		return errors.CallFailed(errors.PhaseCall, ErrorMessage(err), err)
	}
	return nil
}

// PCallWith pushes arguments with push and calls the function below them.
func PCallWith(L *lua.LState, nret int, push func(L *lua.LState) int) error {
	nargs := 0
	if push != nil {
		nargs = push(L)
	}
	return PCall(L, nargs, nret)
}

// ErrorMessage extracts the engine error value's text from err.
func ErrorMessage(err error) string {
	if apiErr, ok := err.(*lua.ApiError); ok && apiErr.Object != nil {
		return apiErr.Object.String()
	}
	return err.Error()
}

// Throw raises err inside the engine. It does not return.
func Throw(L *lua.LState, err error) {
	L.Error(lua.LString(boundMessage(errors.Message(err))), 1)
}

// boundMessage cuts msg at the first NUL and at MaxErrorLen bytes without
// splitting a UTF-8 sequence.
func boundMessage(msg string) string {
	if i := strings.IndexByte(msg, 0); i >= 0 {
		msg = msg[:i]
	}
	if len(msg) <= MaxErrorLen {
		return msg
	}
	cut := MaxErrorLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

// Print calls the engine's global print with msg.
func Print(L *lua.LState, msg string) error {
	fn := L.GetGlobal("print")
	if fn == lua.LNil {
		return errors.CallFailed(errors.PhaseCall, "print is not defined", nil)
	}
	L.Push(fn)
	L.Push(lua.LString(msg))
	return PCall(L, 1, 0)
}

package mailbox

import (
	"github.com/wippyai/lua-bridge/engine"
	lua "github.com/yuin/gopher-lua"
)

// Kind tags a deferred operation.
type Kind uint8

const (
	KindFreeReference Kind = iota
	KindInvoke
	KindFinalize
)

func (k Kind) String() string {
	switch k {
	case KindFreeReference:
		return "free_reference"
	case KindInvoke:
		return "invoke"
	case KindFinalize:
		return "finalize"
	default:
		return "unknown"
	}
}

// Op is a unit of work that must run on the goroutine owning the engine.
type Op struct {
	Fn   func(L *lua.LState)
	Ref  engine.Ref
	Kind Kind
}

// FreeReference releases id from the reference table.
func FreeReference(id engine.Ref) Op {
	return Op{Kind: KindFreeReference, Ref: id}
}

// Invoke runs fn with the engine state.
func Invoke(fn func(L *lua.LState)) Op {
	return Op{Kind: KindInvoke, Fn: fn}
}

// Finalize runs fn with the engine state. A failing finalizer is logged at
// debug level only.
func Finalize(fn func(L *lua.LState)) Op {
	return Op{Kind: KindFinalize, Fn: fn}
}

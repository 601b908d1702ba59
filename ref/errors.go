package ref

import (
	"github.com/wippyai/lua-bridge/engine"
	"github.com/wippyai/lua-bridge/errors"
	lua "github.com/yuin/gopher-lua"
)

func typeMismatch(L *lua.LState, pos int) error {
	return errors.TypeMismatch(errors.PhasePull, pos, "any value", engine.TypeName(L, pos))
}

package bridge

import (
	"github.com/wippyai/lua-bridge/errors"
	lua "github.com/yuin/gopher-lua"
)

// Module is an extension built on a bridge Context.
type Module interface {
	Open(c *Context, L *lua.LState) error
	Close(c *Context, L *lua.LState)
}

// ModuleFunc adapts an open function with no teardown to Module.
type ModuleFunc func(c *Context, L *lua.LState) error

func (f ModuleFunc) Open(c *Context, L *lua.LState) error { return f(c, L) }
func (f ModuleFunc) Close(*Context, *lua.LState)          {}

type moduleList []Module

// Modules combines modules. They open in order and close in reverse; if one
// fails to open, the ones already opened are closed.
func Modules(mods ...Module) Module {
	return moduleList(mods)
}

func (ms moduleList) Open(c *Context, L *lua.LState) error {
	for i, m := range ms {
		if err := m.Open(c, L); err != nil {
			for j := i - 1; j >= 0; j-- {
				ms[j].Close(c, L)
			}
			return err
		}
	}
	return nil
}

func (ms moduleList) Close(c *Context, L *lua.LState) {
	for i := len(ms) - 1; i >= 0; i-- {
		ms[i].Close(c, L)
	}
}

// Entry adapts a Module to a host's load and unload lifecycle. Load creates
// the Context, opens the module; Unload closes it and unloads the Context.
type Entry struct {
	mod  Module
	c    *Context
	opts []Option
}

// NewEntry creates an entry for mod. opts are passed to Load.
func NewEntry(mod Module, opts ...Option) *Entry {
	return &Entry{mod: mod, opts: opts}
}

// Load is the module entry point.
func (e *Entry) Load(L *lua.LState) error {
	c, err := Load(L, e.opts...)
	if err != nil {
		return err
	}
	if err := e.mod.Open(c, L); err != nil {
		c.Unload(L)
		return errors.Load("open module", err)
	}
	e.c = c
	return nil
}

// Unload is the module exit point.
func (e *Entry) Unload(L *lua.LState) {
	if e.c == nil {
		return
	}
	e.mod.Close(e.c, L)
	e.c.Unload(L)
	e.c = nil
}

// Context returns the loaded context, or nil.
func (e *Entry) Context() *Context { return e.c }

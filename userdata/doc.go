// Package userdata exposes Go values to the engine as typed userdata.
//
// A Registry is created at load time. Register builds one metatable per Go
// type; Wrap boxes a value behind a mutex and returns a Handle that can be
// copied freely and carried across goroutines. Pushing a handle creates a
// new engine allocation that holds its own copy.
//
// Every read of a handle from the stack checks the allocation's type tag
// against T and fails with invalid_native_object_type on mismatch.
//
// When the engine drops an allocation the object is finalized once for that
// allocation on the owning goroutine: the object is locked and its
// Finalizer hook, if any, runs.
package userdata

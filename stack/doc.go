// Package stack converts between Go values and engine stack slots.
//
// Push and Pull are the two directions. Push accepts scalars, strings,
// byte slices, engine values, Go functions, slices and maps, plus anything
// implementing Pusher. Pull is generic over the target type and returns the
// number of slots it consumed, which lets native functions walk their
// arguments:
//
//	name, n, err := stack.Pull[string](L, pos)
//	pos += n
//
// Failures are errors from the errors package with PhasePush or PhasePull:
// type_mismatch when the slot has the wrong engine type, invalid_encoding
// when a string is not UTF-8.
//
// Table is a keyed view of a table at a fixed stack position. Snapshot
// copies engine data into plain Go values so it can be handed to another
// goroutine; Push turns such values back into engine data.
package stack

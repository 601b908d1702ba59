// Package errors provides structured error types for the Lua bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the stack position, expected/found engine type names
// and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhasePull, errors.KindTypeMismatch).
//		Pos(2).
//		Expected("number").
//		Found("string").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.TypeMismatch(errors.PhasePull, 2, "number", "string")
//	err := errors.Custom("socket is closed")
//
// Marshalling errors propagate to the native function boundary, where
// Message converts them to the text raised inside the engine.
//
// All errors implement the standard error interface and support errors.Is/As.
// OfKind builds a phase-agnostic target:
//
//	if errors.Is(err, errors.OfKind(errors.KindTypeMismatch)) { ... }
package errors

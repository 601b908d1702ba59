package errors

import (
	"fmt"
	"strconv"
	"strings"
)

// Phase indicates where in the bridge the error occurred
type Phase string

const (
	PhasePush    Phase = "push"    // Go to stack
	PhasePull    Phase = "pull"    // stack to Go
	PhaseCall    Phase = "call"    // native function boundary / protected calls
	PhaseRemote  Phase = "remote"  // cross-thread execution
	PhaseLoad    Phase = "load"    // module load / unload
	PhaseBind    Phase = "bind"    // native object type registration
	PhaseDrain   Phase = "drain"   // mailbox processing
	PhaseRelease Phase = "release" // reference table
)

// Kind categorizes the error
type Kind string

const (
	KindTypeMismatch            Kind = "type_mismatch"
	KindInvalidEncoding         Kind = "invalid_encoding"
	KindInvalidNativeObjectType Kind = "invalid_native_object_type"
	KindCallFailed              Kind = "call_failed"
	KindCustom                  Kind = "custom"
	KindReentrant               Kind = "reentrant"
	KindClosed                  Kind = "closed"
	KindLoad                    Kind = "load"
	KindRegistration            Kind = "registration"
	KindInvalidInput            Kind = "invalid_input"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Expected string
	Found    string
	Detail   string
	Pos      int
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Pos != 0 {
		b.WriteString(" at #")
		b.WriteString(strconv.Itoa(e.Pos))
	}

	if e.Expected != "" || e.Found != "" {
		b.WriteString(": ")
		if e.Expected != "" && e.Found != "" {
			b.WriteString("expected ")
			b.WriteString(e.Expected)
			b.WriteString(", found ")
			b.WriteString(e.Found)
		} else if e.Expected != "" {
			b.WriteString("expected ")
			b.WriteString(e.Expected)
		} else {
			b.WriteString("found ")
			b.WriteString(e.Found)
		}
	}

	if e.Detail != "" {
		if e.Expected != "" || e.Found != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Phase matches on Kind alone.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase != "" && t.Phase != e.Phase {
			return false
		}
		return e.Kind == t.Kind
	}
	return false
}

// OfKind returns a match target for errors.Is that ignores the phase.
func OfKind(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Pos sets the stack position
func (b *Builder) Pos(pos int) *Builder {
	b.err.Pos = pos
	return b
}

// Expected sets the expected type name
func (b *Builder) Expected(t string) *Builder {
	b.err.Expected = t
	return b
}

// Found sets the type name actually found
func (b *Builder) Found(t string) *Builder {
	b.err.Found = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// TypeMismatch creates a type mismatch error for a stack position
func TypeMismatch(phase Phase, pos int, expected, found string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindTypeMismatch,
		Pos:      pos,
		Expected: expected,
		Found:    found,
	}
}

// InvalidEncoding creates an error for a string that is not valid UTF-8
func InvalidEncoding(phase Phase, pos int, data string) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidEncoding,
		Pos:    pos,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// InvalidNativeObjectType creates an error for a failed native object cast
func InvalidNativeObjectType(pos int, expected, found string) *Error {
	return &Error{
		Phase:    PhasePull,
		Kind:     KindInvalidNativeObjectType,
		Pos:      pos,
		Expected: expected,
		Found:    found,
	}
}

// CallFailed creates an error carrying the engine's error message
func CallFailed(phase Phase, msg string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindCallFailed,
		Detail: msg,
		Cause:  cause,
	}
}

// Custom creates a user error whose message is passed to the engine verbatim
func Custom(msg string) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindCustom,
		Detail: msg,
	}
}

// Customf is Custom with formatting
func Customf(format string, args ...any) *Error {
	return Custom(fmt.Sprintf(format, args...))
}

// Reentrant creates the error returned when a blocking cross-thread call is
// issued from a goroutine that already holds engine access.
func Reentrant() *Error {
	return &Error{
		Phase:  PhaseRemote,
		Kind:   KindReentrant,
		Detail: "blocking remote execution from the engine thread would deadlock",
	}
}

// Closed creates an error for operations on a torn-down component
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s closed", what),
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindLoad,
		Detail: detail,
		Cause:  cause,
	}
}

// Registration creates a native object type registration error
func Registration(name string, detail string) *Error {
	return &Error{
		Phase:  PhaseBind,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s: %s", name, detail),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Message returns the text handed to the engine when err crosses the native
// function boundary. Custom and call_failed errors carry their message
// verbatim; everything else uses the structured form.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok {
		switch e.Kind {
		case KindCustom, KindCallFailed:
			if e.Detail != "" {
				return e.Detail
			}
		}
	}
	return err.Error()
}

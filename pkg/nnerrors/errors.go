// Package nnerrors defines the typed error taxonomy shared by the index
// packages (state, vptree, bktree, nnindex).
package nnerrors

import "fmt"

// Kind identifies a class of recoverable failure. Callers branch on Kind via
// errors.Is against the sentinel Err* values, not on error message text.
type Kind int

const (
	// NotInitialized is returned when a search is attempted on an empty index.
	NotInitialized Kind = iota
	// DimensionMismatch is returned when a query vector's length does not
	// match the dimension the index was built with.
	DimensionMismatch
	// InvalidThreshold is returned for a negative BKTree search threshold.
	InvalidThreshold
	// Corrupt is returned on a checksum mismatch, or when pre-order tree
	// reconstruction underruns the serialized buffer.
	Corrupt
	// Exhausted is returned when a read cursor runs past the end of a
	// serialized buffer.
	Exhausted
)

func (k Kind) String() string {
	switch k {
	case NotInitialized:
		return "not initialized"
	case DimensionMismatch:
		return "dimension mismatch"
	case InvalidThreshold:
		return "invalid threshold"
	case Corrupt:
		return "corrupt"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Error is the concrete error type raised by this module. It carries a Kind
// so callers can branch with errors.Is, plus a human-readable message and an
// optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's Kind, so that
// errors.Is(err, nnerrors.ErrCorrupt) works regardless of message text.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == ""
}

// Sentinels for errors.Is comparisons. Each carries only a Kind; the Msg and
// Err fields of a constructed *Error are ignored by Is.
var (
	ErrNotInitialized    = &Error{Kind: NotInitialized}
	ErrDimensionMismatch = &Error{Kind: DimensionMismatch}
	ErrInvalidThreshold  = &Error{Kind: InvalidThreshold}
	ErrCorrupt           = &Error{Kind: Corrupt}
	ErrExhausted         = &Error{Kind: Exhausted}
)

// New constructs a Kind-tagged error with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs a Kind-tagged error wrapping an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindString returns the Kind name of err if it is (or wraps) an *Error,
// and "unknown" otherwise. Callers use this to label metrics by error kind
// without a type switch at every call site.
func KindString(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Kind.String()
	}
	return "unknown"
}

// Internal panics on an invariant violation. Invariant violations are
// fatal bugs, not recoverable errors: they indicate the tree's own
// bookkeeping is inconsistent (e.g. an out-of-range index survived
// deserialize), which a caller cannot meaningfully recover from.
func Internal(format string, args ...any) {
	panic(fmt.Sprintf("nnindex: internal invariant violation: "+format, args...))
}

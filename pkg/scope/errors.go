package scope

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies an evaluation failure.
type ErrorKind string

const (
	// KindSignature indicates a config function declares variadic,
	// keyword catch-all or defaulted parameters.
	KindSignature ErrorKind = "signature"

	// KindUnresolvedParameter indicates a declared parameter is present in
	// neither preset nor fallback.
	KindUnresolvedParameter ErrorKind = "unresolved_parameter"

	// KindInvalidKey indicates a literal entry key is not identifier-shaped
	// or is private.
	KindInvalidKey ErrorKind = "invalid_key"

	// KindInvalidValue indicates a value cannot be represented as JSON.
	KindInvalidValue ErrorKind = "invalid_value"

	// KindSourceExtraction indicates the body of an already validated
	// function could not be isolated from its source. It is an internal
	// invariant violation, never a user error.
	KindSourceExtraction ErrorKind = "source_extraction"

	// KindSyntax indicates the module or the body failed to parse, or the
	// body uses a statement config scopes do not allow.
	KindSyntax ErrorKind = "syntax"

	// KindExecution indicates a Starlark runtime error raised by the body.
	KindExecution ErrorKind = "execution"
)

// Error is a classified configuration-scope error.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Entry names the entry that failed, if known.
	Entry string `json:"entry,omitempty"`

	// Key is the offending configuration key, if applicable.
	Key string `json:"key,omitempty"`

	// Available lists the names that were resolvable when a parameter was not.
	Available []string `json:"available,omitempty"`

	// Pos is the source position (file:line:col) of the failure, if known.
	Pos string `json:"pos,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Kind))
	b.WriteString("] ")
	if e.Pos != "" {
		b.WriteString(e.Pos)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Entry != "" {
		fmt.Fprintf(&b, " (entry=%s)", e.Entry)
	}
	if len(e.Available) > 0 {
		fmt.Fprintf(&b, "; available: %s", strings.Join(e.Available, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. It lets the
// package sentinels be used with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithEntry sets the entry name on the error.
func (e *Error) WithEntry(name string) *Error {
	e.Entry = name
	return e
}

// WithKey sets the offending key on the error.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// WithPos sets the source position on the error.
func (e *Error) WithPos(pos string) *Error {
	e.Pos = pos
	return e
}

// Sentinels for errors.Is.
var (
	ErrSignature           = &Error{Kind: KindSignature}
	ErrUnresolvedParameter = &Error{Kind: KindUnresolvedParameter}
	ErrInvalidKey          = &Error{Kind: KindInvalidKey}
	ErrInvalidValue        = &Error{Kind: KindInvalidValue}
	ErrSourceExtraction    = &Error{Kind: KindSourceExtraction}
	ErrSyntax              = &Error{Kind: KindSyntax}
	ErrExecution           = &Error{Kind: KindExecution}
)

func newError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there
// is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ChainError reports which entry of a chain failed.
type ChainError struct {
	// Index is the zero-based position of the failing entry.
	Index int

	// Entry is the failing entry's name.
	Entry string

	// Err is the entry's error.
	Err error
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	return fmt.Sprintf("config entry #%d (%s) failed: %v", e.Index, e.Entry, e.Err)
}

// Unwrap returns the failing entry's error.
func (e *ChainError) Unwrap() error {
	return e.Err
}

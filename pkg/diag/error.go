package diag

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrorTag is used to parameterize [Error] into different concrete types. The
// ErrorTag method is called with a zero receiver, and its return value is used
// in [Error.Error] and [Error.Show].
type ErrorTag interface {
	ErrorTag() string
}

// Error represents an error with an optional context that can be showed.
type Error[T ErrorTag] struct {
	Message string
	Context Context
	// Indicates whether the error may be caused by partial input. More
	// input can fix such an error.
	Partial bool
}

// Error returns a plain text representation of the error.
func (e *Error[T]) Error() string {
	if !e.Context.valid() {
		return errorTag[T]() + ": " + e.Message
	}
	return errorTag[T]() + ": " + e.Context.describeStart() + ": " + e.Message
}

// Range returns the range of the error.
func (e *Error[T]) Range() Ranging {
	return e.Context.Range()
}

var (
	messageStart = "\033[31;1m"
	messageEnd   = "\033[m"
)

// Show shows the error.
func (e *Error[T]) Show(indent string) string {
	header := fmt.Sprintf("%s: %s%s%s",
		title(errorTag[T]()), messageStart, e.Message, messageEnd)
	if !e.Context.valid() {
		return header
	}
	return header + "\n" + indent + "  " + e.Context.ShowCompact(indent+"  ")
}

func errorTag[T ErrorTag]() string {
	var t T
	return t.ErrorTag()
}

func title(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[n:]
}

// SyntaxTag parameterizes [Error] to define [SyntaxError].
type SyntaxTag struct{}

func (SyntaxTag) ErrorTag() string { return "syntax error" }

// ExecuteTag parameterizes [Error] to define [ExecuteError].
type ExecuteTag struct{}

func (ExecuteTag) ErrorTag() string { return "execute error" }

// SyntaxError is raised while lexing or compiling malformed text. It always
// carries the source range of the offending token.
type SyntaxError = Error[SyntaxTag]

// ExecuteError is raised when text that compiled fine cannot be executed. Its
// context is optional.
type ExecuteError = Error[ExecuteTag]

// NewSyntaxError builds a *SyntaxError for the given range of a source.
func NewSyntaxError(name, src string, r Ranger, format string, args ...any) *SyntaxError {
	return &SyntaxError{
		Message: fmt.Sprintf(format, args...),
		Context: *NewContext(name, src, r),
		Partial: r.Range().From >= len(src),
	}
}

// Executef builds an *ExecuteError without a source context.
func Executef(format string, args ...any) *ExecuteError {
	return &ExecuteError{Message: fmt.Sprintf(format, args...)}
}

// UnpackErrors returns the constituent errors with the given tag if the given
// error is an *Error[T], or a joined error (as created by [errors.Join])
// containing one or more of them. Otherwise it returns nil.
func UnpackErrors[T ErrorTag](err error) []*Error[T] {
	switch err := err.(type) {
	case *Error[T]:
		return []*Error[T]{err}
	case interface{ Unwrap() []error }:
		var errs []*Error[T]
		for _, e := range err.Unwrap() {
			errs = append(errs, UnpackErrors[T](e)...)
		}
		return errs
	}
	var e *Error[T]
	if errors.As(err, &e) {
		return []*Error[T]{e}
	}
	return nil
}

// IsSyntaxError reports whether err is or wraps a *SyntaxError.
func IsSyntaxError(err error) bool {
	var e *SyntaxError
	return errors.As(err, &e)
}

// IsExecuteError reports whether err is or wraps an *ExecuteError.
func IsExecuteError(err error) bool {
	var e *ExecuteError
	return errors.As(err, &e)
}

// Messages returns the messages of all the errors with the given tag
// contained in err, one per line.
func Messages[T ErrorTag](err error) string {
	var sb strings.Builder
	for i, e := range UnpackErrors[T](err) {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(e.Message)
	}
	return sb.String()
}

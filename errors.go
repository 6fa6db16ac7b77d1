package unarchive

import (
	"errors"
	"strconv"
	"strings"
)

// Error kinds. Every error recorded by an [Unarchiver] matches exactly one of them
// with [errors.Is].
var (
	ErrFormat               = errors.New("unknown archive format")
	ErrCorruptData          = errors.New("corrupt archive data")
	ErrNotAReference        = errors.New("value is not an object reference")
	ErrValueNotFound        = errors.New("value not found")
	ErrClassResolution      = errors.New("class can not be resolved")
	ErrDisallowedClass      = errors.New("class is not allowed")
	ErrConstructionFailed   = errors.New("object construction failed")
	ErrUnsupportedOperation = errors.New("unsupported operation")
)

// Error carries the context of a failed decode.
type Error struct {
	// Kind is one of the Err* sentinel values of this package.
	Kind error

	// Key that was looked up in the current decoding context, if any.
	Key string

	// UID of the archive entry that failed, valid if HasUID is set.
	UID    UID
	HasUID bool

	// Class name involved in the failure.
	Class string

	Detail string
	Cause  error
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(e.Kind.Error())

	if e.HasUID {
		b.WriteString(" at uid ")
		b.WriteString(strconv.FormatUint(uint64(e.UID), 10))
	}

	if e.Key != "" {
		b.WriteString(" for key ")
		b.WriteString(strconv.Quote(e.Key))
	}

	if e.Class != "" {
		b.WriteString(" (class ")
		b.WriteString(e.Class)
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Cause}
}

func newError(kind error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func (e *Error) withUID(uid UID) *Error {
	e.UID = uid
	e.HasUID = true
	return e
}

func (e *Error) withKey(key string) *Error {
	e.Key = key
	return e
}

func (e *Error) withClass(name string) *Error {
	e.Class = name
	return e
}

func (e *Error) withCause(err error) *Error {
	e.Cause = err
	return e
}

// errAlreadyFailed is returned internally once the session has recorded an error.
// It is never recorded itself, the first error stays in place.
var errAlreadyFailed = errors.New("decoding has already failed")

// Package pwnode is the public API for exporting a local media node to
// a remote media server over a shared-memory transport.
package pwnode

import (
	"errors"
	"fmt"
	"syscall"
)

// Code categorizes an Error into a small, stable taxonomy callers can
// switch on instead of matching error strings.
type Code string

const (
	ErrInvalidArg   Code = "invalid argument"
	ErrNotFound     Code = "not found"
	ErrNotSupported Code = "not supported"
	ErrIO           Code = "i/o error"
	ErrNoMem        Code = "insufficient memory"
	ErrProtocol     Code = "protocol error"
)

// Error is this module's structured error: an operation name, a
// taxonomy code, an optional wrapped errno, and a human message.
type Error struct {
	Op    string
	Code  Code
	Errno syscall.Errno
	Msg   string
	Inner error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		return fmt.Sprintf("pwnode: %s (op=%s)", msg, e.Op)
	}
	return fmt.Sprintf("pwnode: %s", msg)
}

// Unwrap supports errors.Is/errors.As against the wrapped errno or
// inner error.
func (e *Error) Unwrap() error {
	if e.Inner != nil {
		return e.Inner
	}
	if e.Errno != 0 {
		return e.Errno
	}
	return nil
}

// Is supports matching another *Error by Code alone, so a caller can
// test "was this not-found" without reconstructing a full Error.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// New creates an Error for op with the given code and message.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewWithErrno creates an Error carrying a specific errno.
func NewWithErrno(op string, code Code, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error()}
}

// Wrap classifies an arbitrary error into this module's taxonomy,
// preserving a wrapped syscall.Errno when one is present so
// errors.Is(err, someErrno) still works through the wrapper.
func Wrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if pe, ok := inner.(*Error); ok {
		return &Error{Op: op, Code: pe.Code, Errno: pe.Errno, Msg: pe.Msg, Inner: pe.Inner}
	}

	var errno syscall.Errno
	if errors.As(inner, &errno) {
		return &Error{Op: op, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}

	return &Error{Op: op, Code: ErrIO, Msg: inner.Error(), Inner: inner}
}

// mapErrnoToCode maps a syscall errno to this module's error taxonomy.
func mapErrnoToCode(errno syscall.Errno) Code {
	switch errno {
	case syscall.ENOENT:
		return ErrNotFound
	case syscall.EINVAL, syscall.E2BIG:
		return ErrInvalidArg
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrNotSupported
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrNoMem
	case syscall.EPROTO, syscall.EBADMSG:
		return ErrProtocol
	default:
		return ErrIO
	}
}

// IsCode reports whether err is a *Error with the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsErrno reports whether err is a *Error wrapping the given errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Errno == errno
	}
	return false
}

package qbman

import (
	"errors"
	"fmt"
	"syscall"
)

// Error is a structured portal error carrying the failing operation, the
// portal it happened on and, for management commands, the command verb.
type Error struct {
	Op     string        // Operation that failed (e.g., "enqueue", "fq_xoff")
	Portal int           // Portal index (-1 if not applicable)
	Code   ErrorCode     // High-level error category
	Verb   uint8         // Command verb for management failures (0 if not applicable)
	Result uint8         // Hardware result code (0 if not applicable)
	Errno  syscall.Errno // OS errno when mapping a device (0 if not applicable)
	Msg    string        // Human-readable message
	Inner  error         // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var ctx string
	switch {
	case e.Op != "" && e.Portal >= 0:
		ctx = fmt.Sprintf("op=%s, portal=%d", e.Op, e.Portal)
	case e.Op != "":
		ctx = fmt.Sprintf("op=%s", e.Op)
	case e.Portal >= 0:
		ctx = fmt.Sprintf("portal=%d", e.Portal)
	}
	if e.Verb != 0 {
		ctx += fmt.Sprintf(", verb=%#02x, rc=%#02x", e.Verb, e.Result)
	}
	if e.Errno != 0 {
		ctx += fmt.Sprintf(", errno=%d", e.Errno)
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if ctx != "" {
		return fmt.Sprintf("qbman: %s (%s)", msg, ctx)
	}
	return fmt.Sprintf("qbman: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches sentinel errors and other structured errors by code
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if se, ok := target.(sentinel); ok {
		return e.Code == ErrorCode(se)
	}

	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}

	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	// ErrCodeBusy: a ring or pool is momentarily full or empty; retry.
	ErrCodeBusy ErrorCode = "busy"
	// ErrCodeInvalidArgument: a descriptor precondition was violated.
	ErrCodeInvalidArgument ErrorCode = "invalid argument"
	// ErrCodeNotReady: no new result yet; poll again.
	ErrCodeNotReady ErrorCode = "not ready"
	// ErrCodeInit: the portal could not be brought up.
	ErrCodeInit ErrorCode = "portal init failed"
	// ErrCodeCommandFailed: a management command returned a failure code.
	ErrCodeCommandFailed ErrorCode = "command failed"
)

type sentinel string

func (e sentinel) Error() string {
	return "qbman: " + string(e)
}

// Sentinel errors for errors.Is
var (
	ErrBusy            error = sentinel(ErrCodeBusy)
	ErrInvalidArgument error = sentinel(ErrCodeInvalidArgument)
	ErrNotReady        error = sentinel(ErrCodeNotReady)
	ErrInit            error = sentinel(ErrCodeInit)
	ErrCommandFailed   error = sentinel(ErrCodeCommandFailed)
)

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:     op,
		Portal: -1,
		Code:   code,
		Msg:    msg,
	}
}

// NewPortalError creates an error bound to a portal
func NewPortalError(op string, portal int, code ErrorCode, msg string) *Error {
	return &Error{
		Op:     op,
		Portal: portal,
		Code:   code,
		Msg:    msg,
	}
}

// NewCommandError creates an error for a management command that completed
// with a failure result code
func NewCommandError(op string, portal int, verb, result uint8) *Error {
	return &Error{
		Op:     op,
		Portal: portal,
		Code:   ErrCodeCommandFailed,
		Verb:   verb,
		Result: result,
	}
}

// WrapError wraps an existing error with portal context
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	var qe *Error
	if errors.As(inner, &qe) {
		return &Error{
			Op:     op,
			Portal: qe.Portal,
			Code:   qe.Code,
			Verb:   qe.Verb,
			Result: qe.Result,
			Errno:  qe.Errno,
			Msg:    qe.Msg,
			Inner:  qe.Inner,
		}
	}

	var errno syscall.Errno
	if errors.As(inner, &errno) {
		return &Error{
			Op:     op,
			Portal: -1,
			Code:   mapErrnoToCode(errno),
			Errno:  errno,
			Msg:    errno.Error(),
			Inner:  inner,
		}
	}

	return &Error{
		Op:     op,
		Portal: -1,
		Code:   ErrCodeInit,
		Msg:    inner.Error(),
		Inner:  inner,
	}
}

// mapErrnoToCode maps syscall errno to error codes
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.EBUSY, syscall.EAGAIN:
		return ErrCodeBusy
	case syscall.EINVAL, syscall.E2BIG, syscall.ERANGE:
		return ErrCodeInvalidArgument
	case syscall.ETIMEDOUT:
		return ErrCodeNotReady
	case syscall.EIO:
		return ErrCodeCommandFailed
	default:
		return ErrCodeInit
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Errno == errno
	}
	return false
}

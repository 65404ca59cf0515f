package ioloop

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is a platform-neutral error kind. It lets callers write one
// switch across POSIX errno and Windows GetLastError values.
type Code int

const (
	_ Code = iota
	EINVAL
	ENOMEM
	EACCES
	ENOENT
	EBADF
	EISDIR
	ENOTDIR
	ESRCH
	ENOSYS
	ENOTSUP
	EPIPE
	ECONNRESET
	EAGAIN
	// EUNKNOWN is a passthrough for an OS error that doesn't map onto one
	// of the kinds above; Raw carries the native errno / GetLastError.
	EUNKNOWN
)

func (c Code) String() string {
	switch c {
	case EINVAL:
		return "EINVAL"
	case ENOMEM:
		return "ENOMEM"
	case EACCES:
		return "EACCES"
	case ENOENT:
		return "ENOENT"
	case EBADF:
		return "EBADF"
	case EISDIR:
		return "EISDIR"
	case ENOTDIR:
		return "ENOTDIR"
	case ESRCH:
		return "ESRCH"
	case ENOSYS:
		return "ENOSYS"
	case ENOTSUP:
		return "ENOTSUP"
	case EPIPE:
		return "EPIPE"
	case ECONNRESET:
		return "ECONNRESET"
	case EAGAIN:
		return "EAGAIN"
	default:
		return "EUNKNOWN"
	}
}

// Error is the error type returned by every operation in this package.
// Raw, when non-nil, is the underlying OS error (syscall.Errno on POSIX,
// windows.Errno / syscall.Errno on Windows) that Code was derived from.
type Error struct {
	Code Code
	Op   string
	Raw  error
}

func (e *Error) Error() string {
	if e.Raw != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Raw)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Raw }

// Is lets errors.Is(err, &Error{Code: ESRCH}) match any *Error carrying
// the same Code, regardless of the wrapped OS error.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

func newError(op string, code Code, raw error) error {
	return errors.WithStack(&Error{Op: op, Code: code, Raw: raw})
}

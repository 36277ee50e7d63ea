package shmap

import (
	"github.com/pkg/errors"
)

// ErrCode is the closed set of outcomes every public operation can return.
type ErrCode int

const (
	OK ErrCode = iota
	ErrMapFailed
	ErrLockFailed
	ErrMemorySizeTooSmall
	ErrNoSpace
	ErrNoEmptyBucket
	ErrNoEmptyFreeBlock
	ErrNotFound
	ErrPermission
)

// codeErr pairs an ErrCode with an optional wrapped cause. MapFailed and
// LockFailed defer their message to the wrapped OS-level cause; the rest
// carry a fixed, human-readable description.
type codeErr struct {
	code  ErrCode
	cause error
}

func (e *codeErr) Error() string {
	switch e.code {
	case OK:
		return "success"
	case ErrMapFailed, ErrLockFailed:
		if e.cause != nil {
			return e.cause.Error()
		}
		return e.code.String()
	default:
		return e.code.String()
	}
}

func (e *codeErr) Cause() error  { return e.cause }
func (e *codeErr) Unwrap() error { return e.cause }

// String renders the fixed description for a code, ignoring any wrapped
// cause. MapFailed/LockFailed fall back to a generic description here;
// callers that want the OS cause should use errors.Cause on the error
// value returned by an operation, not this method.
func (c ErrCode) String() string {
	switch c {
	case OK:
		return "success"
	case ErrMapFailed:
		return "mmap failed"
	case ErrLockFailed:
		return "lock failed"
	case ErrMemorySizeTooSmall:
		return "memory size too small"
	case ErrNoSpace:
		return "not enough space in data space"
	case ErrNoEmptyBucket:
		return "buckets is full"
	case ErrNoEmptyFreeBlock:
		return "freelist is full"
	case ErrNotFound:
		return "not found"
	case ErrPermission:
		return "operation not permitted"
	default:
		return "unknown error"
	}
}

// codeOf reports the ErrCode carried by err, or OK if err is nil, or a
// generic ErrLockFailed-style fallback for foreign errors. Every internal
// error this package returns is a *codeErr, so this only matters at
// package boundaries.
func codeOf(err error) ErrCode {
	if err == nil {
		return OK
	}
	var ce *codeErr
	if errors.As(err, &ce) {
		return ce.code
	}
	return ErrLockFailed
}

func newErr(code ErrCode) error {
	return &codeErr{code: code}
}

func wrapErr(code ErrCode, cause error) error {
	return &codeErr{code: code, cause: errors.WithStack(cause)}
}

// Code extracts the ErrCode from an error returned by this package. It
// returns OK for a nil error.
func Code(err error) ErrCode {
	return codeOf(err)
}

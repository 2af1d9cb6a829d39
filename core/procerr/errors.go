// Package procerr defines the error taxonomy surfaced by the process API.
// Every fallible operation returns a *Error carrying a machine-readable code,
// a free-text context and, for OS failures, the underlying errno.
package procerr

import (
	"errors"
	"fmt"
	"syscall"
)

// Code is a machine-readable error code.
type Code string

// Configuration misuse. These are caller bugs and are never retried.
const (
	CodeEmptyArgv       Code = "empty_argv"
	CodeInvalidStdio    Code = "invalid_stdio"
	CodeInvalidPipeline Code = "invalid_pipeline"
)

// OS and resource failures. The errno is kept as the wrapped cause.
const (
	CodePipeFailed  Code = "pipe_failed"
	CodeSpawnFailed Code = "spawn_failed"
	CodeWaitFailed  Code = "wait_failed"
	CodeReadFailed  Code = "read_failed"
	CodeWriteFailed Code = "write_failed"
	CodeOpenFailed  Code = "open_failed"
	CodeCloseFailed Code = "close_failed"
	CodeDupFailed   Code = "dup_failed"
	CodeChdirFailed Code = "chdir_failed"
	CodeKillFailed  Code = "kill_failed"
)

// CodeTimeout reports an exceeded wait deadline. The child may still be alive.
const CodeTimeout Code = "timeout"

// Sentinels for errors.Is comparisons by code.
var (
	ErrEmptyArgv       = &Error{Code: CodeEmptyArgv}
	ErrInvalidStdio    = &Error{Code: CodeInvalidStdio}
	ErrInvalidPipeline = &Error{Code: CodeInvalidPipeline}
	ErrSpawnFailed     = &Error{Code: CodeSpawnFailed}
	ErrWaitFailed      = &Error{Code: CodeWaitFailed}
	ErrKillFailed      = &Error{Code: CodeKillFailed}
	ErrChdirFailed     = &Error{Code: CodeChdirFailed}
	ErrTimeout         = &Error{Code: CodeTimeout}
)

// Error is the structured error returned across the process API.
type Error struct {
	Code    Code
	Context string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Context != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Context)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, ignoring context and cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// New returns an error without an OS cause.
func New(code Code, context string) *Error {
	return &Error{Code: code, Context: context}
}

// Wrap returns an error with the given cause, typically a syscall.Errno.
func Wrap(code Code, context string, err error) *Error {
	return &Error{Code: code, Context: context, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Errno returns the OS error code wrapped by err, if any.
func Errno(err error) (syscall.Errno, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}

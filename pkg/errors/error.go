package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

const maxStackDepth = 10

// Error carries an ErrorCode through the call chain. The code decides the
// HTTP status and the envelope code; Message is what clients see.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Err     error
	Stack   string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code.Message()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error with the default message of code.
func New(code ErrorCode) *Error {
	return &Error{Code: code, Message: code.Message(), Stack: callers(2)}
}

func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Stack: callers(2)}
}

// Wrap tags err with code. An *Error is copied with the new code so the
// original keeps its own; anything else becomes the cause.
func Wrap(err error, code ErrorCode) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) && e == err {
		cp := *e
		cp.Code = code
		return &cp
	}
	return &Error{Code: code, Message: err.Error(), Err: err, Stack: callers(2)}
}

func Wrapf(err error, code ErrorCode, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err, Stack: callers(2)}
}

func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// GetCode returns the code of the first *Error in err's chain. Foreign
// errors count as InternalServerError, nil as Success.
func GetCode(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return InternalServerError
}

// GetError returns the first *Error in err's chain, wrapping foreign errors
// as InternalServerError.
func GetError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return &Error{Code: InternalServerError, Message: err.Error(), Err: err, Stack: callers(2)}
}

// Is reports whether err carries code.
func Is(err error, code ErrorCode) bool {
	var e *Error
	return err != nil && stderrors.As(err, &e) && e.Code == code
}

// ExecutorFault marks a per-test failure to reach or understand an executor.
// A nil cause means the executor answered with something unusable.
func ExecutorFault(err error, format string, args ...any) *Error {
	if err == nil {
		return Newf(ExecutorMalformedResponse, format, args...)
	}
	return Wrapf(err, ExecutorUnavailable, format, args...)
}

// ValidationError names the offending field in Details.
func ValidationError(field, reason string) *Error {
	e := Newf(ValidationFailed, "%s: %s", field, reason)
	e.Stack = callers(2)
	return e.WithDetail("field", field).WithDetail("reason", reason)
}

func callers(skip int) string {
	var pcs [maxStackDepth]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	if n == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			fmt.Fprintf(&b, "\n\t%s:%d %s", frame.File, frame.Line, frame.Function)
		}
		if !more {
			return b.String()
		}
	}
}

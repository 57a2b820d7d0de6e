package host

import (
	"errors"
	"fmt"
	"runtime"
)

// Error classes reported in the errorClass field of error results.
// Failures that do not carry a protocol class (engine errors, malformed
// payloads) fall through to ClassError.
const (
	ClassConnection           = "ConnectionError"
	ClassNotFound             = "NotFound"
	ClassUnsupportedMode      = "UnsupportedMode"
	ClassUnsupportedOperation = "UnsupportedOperation"
	ClassUnknownCommand       = "UnknownCommand"
	ClassError                = "Error"
)

// ProtocolError is a failure with a protocol-level class. Handlers raise
// these (or any other error); only the dispatcher converts them into
// error result payloads.
type ProtocolError struct {
	Class   string
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	return e.Message
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protocolErrorf(class string, format string, args ...any) *ProtocolError {
	err := fmt.Errorf(format, args...)
	return &ProtocolError{Class: class, Message: err.Error(), Err: errors.Unwrap(err)}
}

// classOf maps any error to its reported class.
func classOf(err error) string {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr.Class
	}
	return ClassError
}

// captureStack renders the current call stack for an error payload, one
// frame per line, skipping the capture machinery itself.
func captureStack() []string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:n])
	var stack []string
	for {
		frame, more := frames.Next()
		stack = append(stack, fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}
	return stack
}

package batch

import "fmt"

// Code classifies a batch Error.
type Code string

const (
	CodeInvalidJob  Code = "INVALID_JOB"
	CodeNotFound    Code = "JOB_NOT_FOUND"
	CodeCapacity    Code = "CAPACITY_EXCEEDED"
	CodeBadState    Code = "INVALID_STATE_TRANSITION"
)

// Error is the Batch Processor's typed error shape, shaped like
// internal/cache.Error.
type Error struct {
	Message string
	Code    Code
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(code Code, message string, cause error) *Error {
	return &Error{Message: message, Code: code, Cause: cause}
}

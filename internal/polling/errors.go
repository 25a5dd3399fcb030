package polling

import "fmt"

// Code classifies a polling Error.
type Code string

const (
	CodeNotFound Code = "JOB_NOT_FOUND"
)

// Error is the Polling Manager's typed error shape.
type Error struct {
	Message string
	Code    Code
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func newError(code Code, message string) *Error {
	return &Error{Message: message, Code: code}
}

package webhook

import "fmt"

// Code classifies a webhook Error.
type Code string

const (
	CodeNotFound     Code = "WEBHOOK_NOT_FOUND"
	CodeBadSignature Code = "BAD_SIGNATURE"
	CodeServerState  Code = "INVALID_SERVER_STATE"
)

// Error is the Webhook Manager's typed error shape, shaped like
// internal/batch.Error.
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

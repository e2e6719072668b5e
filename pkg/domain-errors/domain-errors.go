package domainerrors

import "errors"

// Code represents a client-side failure category independent of the transport
// that produced it. UI layers switch on the code to decide how to present an error.
type Code string

const (
	CodeNotFound     Code = "not_found"
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeValidation   Code = "validation_failed"
	CodeInternal     Code = "internal_error"
	CodeConflict     Code = "conflict"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeTimeout      Code = "timeout"

	// Session pipeline categories.
	CodeStorage Code = "storage"  // secure credential storage could not be read or written
	CodeNetwork Code = "network"  // no connectivity or transport failure
	CodeSession Code = "session"  // backend returned a response the session cannot be built from
	CodeDecode  Code = "decode"   // response body did not match the expected shape
)

// Error wraps client failures with a stable code.
// It is transport-agnostic and can be used across store, client, and session layers.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() to match errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap creates a new domain error wrapping an existing error.
// If the wrapped error is already a domain error, the original code is preserved.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode checks if an error is a domain error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of the first domain error in the chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Sentinels usable as errors.Is targets.
var (
	ErrStorage    = &Error{Code: CodeStorage}
	ErrNetwork    = &Error{Code: CodeNetwork}
	ErrSession    = &Error{Code: CodeSession}
	ErrValidation = &Error{Code: CodeValidation}
)

// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"errors"
	"fmt"
)

// ErrorCode classifies the failure taxonomy for the RFB session core, as
// laid out in the error handling design: Transport, ProtocolViolation,
// SanityCheck, AuthFailure, CaptureError, and EncoderError each have
// distinct propagation policy.
type ErrorCode int

const (
	// ErrTransport indicates a stream read/write failure. Closes the
	// session.
	ErrTransport ErrorCode = iota
	// ErrProtocolViolation indicates an unexpected opcode, an
	// out-of-bounds size, or a version mismatch. Closes the session.
	ErrProtocolViolation
	// ErrSanityCheck indicates an internal invariant was violated, such
	// as a missing framebuffer at AwaitingClientInit. Closes the session.
	ErrSanityCheck
	// ErrAuthFailure indicates the client failed authentication. The
	// failure reason is written to the client before closing.
	ErrAuthFailure
	// ErrCaptureError indicates the capture source failed to produce a
	// framebuffer. Recovered locally during update pump ticks; a failed
	// initial capture at ClientInit ends the handshake.
	ErrCaptureError
	// ErrEncoderError indicates an encoder failed mid-rectangle, leaving
	// the stream in an undefined state. Closes the session.
	ErrEncoderError
	// ErrValidation indicates a rejected input value that is not, by
	// itself, a protocol violation (e.g. invalid framebuffer dimensions).
	ErrValidation
	// ErrConfiguration indicates a malformed or inconsistent ServerConfig.
	ErrConfiguration
	// ErrUnsupported indicates an unsupported feature or operation was
	// requested.
	ErrUnsupported
)

// String returns the string representation of the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrTransport:
		return "transport"
	case ErrProtocolViolation:
		return "protocol_violation"
	case ErrSanityCheck:
		return "sanity_check"
	case ErrAuthFailure:
		return "auth_failure"
	case ErrCaptureError:
		return "capture_error"
	case ErrEncoderError:
		return "encoder_error"
	case ErrValidation:
		return "validation"
	case ErrConfiguration:
		return "configuration"
	case ErrUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// SessionError provides structured error information with operation
// context, an error code, and message wrapping for comprehensive error
// handling across the session state machine.
type SessionError struct {
	Op      string
	Code    ErrorCode
	Message string
	Err     error
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rfb %s: %s: %s: %v", e.Code.String(), e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("rfb %s: %s: %s", e.Code.String(), e.Op, e.Message)
}

// Unwrap returns the underlying error for error chain unwrapping.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// Is reports whether this error matches the target error.
func (e *SessionError) Is(target error) bool {
	var sessionErr *SessionError
	if errors.As(target, &sessionErr) {
		return e.Code == sessionErr.Code && e.Op == sessionErr.Op
	}
	return false
}

// NewSessionError creates a new SessionError with the specified
// parameters. This is the primary constructor for structured session
// errors.
func NewSessionError(op string, code ErrorCode, message string, err error) *SessionError {
	return &SessionError{Op: op, Code: code, Message: message, Err: err}
}

// IsSessionError checks if an error is a SessionError and optionally
// matches one of the specified codes. If no codes are provided, returns
// true for any SessionError.
func IsSessionError(err error, code ...ErrorCode) bool {
	var sessionErr *SessionError
	if !errors.As(err, &sessionErr) {
		return false
	}

	if len(code) == 0 {
		return true
	}

	for _, c := range code {
		if sessionErr.Code == c {
			return true
		}
	}
	return false
}

// SessionErrorCode extracts the error code from a SessionError, returning
// ErrorCode(-1) if err is not a SessionError.
func SessionErrorCode(err error) ErrorCode {
	var sessionErr *SessionError
	if errors.As(err, &sessionErr) {
		return sessionErr.Code
	}
	return ErrorCode(-1)
}

// transportError creates a new transport error.
func transportError(op, message string, err error) error {
	return NewSessionError(op, ErrTransport, message, err)
}

// protocolError creates a new protocol violation error.
func protocolError(op, message string, err error) error {
	return NewSessionError(op, ErrProtocolViolation, message, err)
}

// sanityCheckError creates a new internal-invariant error.
func sanityCheckError(op, message string, err error) error {
	return NewSessionError(op, ErrSanityCheck, message, err)
}

// authFailureError creates a new authentication-failure error.
func authFailureError(op, message string, err error) error {
	return NewSessionError(op, ErrAuthFailure, message, err)
}

// captureErrorOf creates a new capture error.
func captureErrorOf(op, message string, err error) error {
	return NewSessionError(op, ErrCaptureError, message, err)
}

// encoderErrorOf creates a new encoder error.
func encoderErrorOf(op, message string, err error) error {
	return NewSessionError(op, ErrEncoderError, message, err)
}

// validationError creates a new validation error.
func validationError(op, message string, err error) error {
	return NewSessionError(op, ErrValidation, message, err)
}

// configurationError creates a new configuration error.
func configurationError(op, message string, err error) error {
	return NewSessionError(op, ErrConfiguration, message, err)
}

// unsupportedError creates a new unsupported-operation error.
func unsupportedError(op, message string, err error) error {
	return NewSessionError(op, ErrUnsupported, message, err)
}

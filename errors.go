package qzlogin

import (
	"errors"
	"fmt"
)

// ErrorType classifies a login failure so callers can decide between
// aborting, falling through to another method, or retrying.
type ErrorType string

const (
	// NetworkError represents transport-level failures and unexpected HTTP
	// statuses. The mixed manager treats these as "try the next method".
	NetworkError ErrorType = "network_error"

	// ProtocolError represents an explicit rejection by the portal (wrong
	// password, captcha required twice, sms loop). Fatal to the attempt.
	ProtocolError ErrorType = "protocol_error"

	// UserBreakError represents a user decision: cancelled QR scan, no SMS
	// code supplied, no captcha solver registered.
	UserBreakError ErrorType = "user_break"

	// WorkloadError represents an exhausted time/refresh budget: QR polling
	// timed out, proof-of-work not found in time.
	WorkloadError ErrorType = "workload_timeout"

	// ParseError represents a response or challenge image the library cannot
	// interpret. Usually means the portal changed its format.
	ParseError ErrorType = "parse_error"
)

// AppError is a structured error carrying its classification and, for
// protocol errors, the portal's status code.
type AppError struct {
	Type    ErrorType
	Message string
	Code    StatusCode
	Err     error
}

func (e *AppError) Error() string {
	switch {
	case e.Type == ProtocolError:
		return fmt.Sprintf("[%s] code %d: %s", e.Type, e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	default:
		return fmt.Sprintf("[%s] %s", e.Type, e.Message)
	}
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewProtocolError creates a fatal portal rejection with its status code.
func NewProtocolError(code StatusCode, message string) *AppError {
	return &AppError{Type: ProtocolError, Code: code, Message: message}
}

// NewNetworkError creates a recoverable transport error.
func NewNetworkError(message string, err error) *AppError {
	return &AppError{Type: NetworkError, Message: message, Err: err}
}

// NewUserBreakError marks a failure caused by a user decision.
func NewUserBreakError(message string, err error) *AppError {
	return &AppError{Type: UserBreakError, Message: message, Err: err}
}

// NewWorkloadError marks an exhausted retry/time budget.
func NewWorkloadError(message string, err error) *AppError {
	return &AppError{Type: WorkloadError, Message: message, Err: err}
}

// NewParseError marks a response shape this library cannot handle.
func NewParseError(message string, err error) *AppError {
	return &AppError{Type: ParseError, Message: message, Err: err}
}

// TypeOf returns the classification of err, or an empty string for errors
// not produced by this library.
func TypeOf(err error) ErrorType {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Type
	}
	return ""
}

// QzoneError is an application-level error from an authenticated Qzone API
// call: HTTP OK but a nonzero code in the response envelope.
type QzoneError struct {
	QzCode  int
	Message string
}

func (e *QzoneError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("qzone error %d", e.QzCode)
	}
	return fmt.Sprintf("qzone error %d: %s", e.QzCode, e.Message)
}

// StatusError is an unexpected HTTP status from the portal.
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Status, e.URL)
}

// authExpired reports whether err is one of the recognized "session
// expired" signals that permit a single relogin retry.
func authExpired(err error) bool {
	var qe *QzoneError
	if errors.As(err, &qe) {
		return qe.QzCode == -3000 || qe.QzCode == -4002
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == 403
	}
	return false
}

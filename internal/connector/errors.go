package connector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrorCode is the connector failure taxonomy.
type ErrorCode string

const (
	ErrCodeAuth              ErrorCode = "AUTH"
	ErrCodeTimeout           ErrorCode = "TIMEOUT"
	ErrCodeUnavailable       ErrorCode = "UNAVAILABLE"
	ErrCodeBadResponse       ErrorCode = "BAD_RESPONSE"
	ErrCodeReadOnlyViolation ErrorCode = "READ_ONLY_VIOLATION"
	ErrCodeUnknown           ErrorCode = "UNKNOWN"
)

// Retryable reports whether a failure of this kind may succeed on retry.
// Fixed per code.
func (c ErrorCode) Retryable() bool {
	return c == ErrCodeTimeout || c == ErrCodeUnavailable
}

// Error is a classified connector failure.
type Error struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Connector string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Connector != "" {
		return fmt.Sprintf("%s: %s (connector=%s)", e.Code, e.Message, e.Connector)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying transport error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error whose Retryable flag follows the code.
func NewError(code ErrorCode, connector, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: code.Retryable(), Connector: connector}
}

// NewReadOnlyViolation is returned when a read-only connector receives a
// write intent.
func NewReadOnlyViolation(connector, action string) *Error {
	return NewError(ErrCodeReadOnlyViolation, connector,
		fmt.Sprintf("connector is read-only; write intent for action %q rejected", action))
}

// Checked in order; first match wins. Case-insensitive.
var classifyPatterns = []struct {
	re   *regexp.Regexp
	code ErrorCode
}{
	{regexp.MustCompile(`(?i)\b40[13]\b|unauthori[sz]ed|forbidden`), ErrCodeAuth},
	{regexp.MustCompile(`(?i)timeout|timed out|deadline exceeded`), ErrCodeTimeout},
	{regexp.MustCompile(`(?i)\b5\d\d\b|unavailable|connection refused`), ErrCodeUnavailable},
	{regexp.MustCompile(`(?i)malformed|invalid|parse`), ErrCodeBadResponse},
}

// Classify maps a raw transport error to the taxonomy. Errors that are
// already classified pass through with the connector filled in.
func Classify(connector string, err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		if ce.Connector == "" {
			ce.Connector = connector
		}
		return ce
	}

	code := classifyMessage(err)
	return &Error{
		Code:      code,
		Message:   err.Error(),
		Retryable: code.Retryable(),
		Connector: connector,
		Err:       err,
	}
}

func classifyMessage(err error) ErrorCode {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTimeout
	}
	msg := err.Error()
	for _, p := range classifyPatterns {
		if p.re.MatchString(msg) {
			return p.code
		}
	}
	return ErrCodeUnknown
}

// IsCode returns true if err is a connector Error with the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code ErrorCode) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsRetryable returns true if err is a retryable connector Error.
func IsRetryable(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing errors
const (
	ErrConfig = "CONFIG"
	ErrSSH    = "SSH"
	ErrExec   = "EXEC"

	// Probe and install taxonomy. Per-host conditions end up in outcome
	// diagnostics; only ErrToolNotFound is fatal to a whole batch.
	ErrUnresolvableHost    = "UNRESOLVABLE_HOST"
	ErrNetworkUnreachable  = "NETWORK_UNREACHABLE"
	ErrAuthFailed          = "AUTH_FAILED"
	ErrAmbiguousProbe      = "AMBIGUOUS_PROBE"
	ErrToolNotFound        = "TOOL_NOT_FOUND"
	ErrBackendFailed       = "BACKEND_FAILED"
	ErrLedger              = "LEDGER"
	ErrInvalidInstallInput = "INVALID_INPUT"
)

// Error represents a structured error with code, message, suggestion, and optional cause.
// The rendered form is:
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Cause      error
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrSSH code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrSSH,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Short returns the message and cause on a single line, for diagnostics
// embedded in tables and outcome records.
func (e *Error) Short() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var fuErr *Error
	if errors.As(err, &fuErr) {
		return fuErr.Code == code
	}
	return false
}

// Code returns the code of the outermost structured error in the chain,
// or an empty string if there is none.
func Code(err error) string {
	var fuErr *Error
	if errors.As(err, &fuErr) {
		return fuErr.Code
	}
	return ""
}

// Describe renders any error as a single line. Structured errors use Short,
// everything else uses Error.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var fuErr *Error
	if errors.As(err, &fuErr) {
		return fuErr.Short()
	}
	return err.Error()
}

// ExitError signals that the process should exit with a specific code
// without printing another error message (the command already reported).
type ExitError struct {
	Code int
}

// NewExitError creates an ExitError with the given code.
func NewExitError(code int) *ExitError {
	return &ExitError{Code: code}
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// GetExitCode extracts the code from an ExitError anywhere in the chain.
func GetExitCode(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}

package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors. These are the terminal error classes of the
// pipeline: configuration problems abort the run pre-flight, duplicates
// short-circuit an item to "skipped", rate-limit exhaustion is terminal for
// one catalog operation, and transport errors propagate unretried.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrDuplicate     = errors.New("duplicate attachment")
	ErrRateLimit     = errors.New("rate limit exceeded")
	ErrTransport     = errors.New("transport error")
	ErrNotFound      = errors.New("resource not found")
	ErrValidation    = errors.New("validation failed")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// ConfigurationErrorf builds a pre-flight configuration failure.
func ConfigurationErrorf(format string, args ...interface{}) *AppError {
	return NewAppError("CONFIG_ERROR", fmt.Sprintf(format, args...), ErrConfiguration)
}

// DuplicateError reports that a PDF's content hash is already present in the
// catalog. It is an expected short-circuit, not a failure.
type DuplicateError struct {
	ItemKey string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("PDF already exists in the catalog (item %s)", e.ItemKey)
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

// ExtractionError reports that the generation backend's response could not be
// turned into JSON. Raw carries the offending model output for operator
// inspection; it is never swallowed silently.
type ExtractionError struct {
	Message string
	Raw     string
}

func (e *ExtractionError) Error() string {
	if e.Raw == "" {
		return fmt.Sprintf("extraction failed: %s", e.Message)
	}
	return fmt.Sprintf("extraction failed: %s; raw output: %s", e.Message, e.Raw)
}

// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies an AppError.
type ErrorType string

const (
	// General
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeError      ErrorType = "processing_error"
	ErrorTypeTimeout    ErrorType = "timeout"

	// Per-movie exclusions; none of these abort a batch.
	ErrorTypeScriptNotAvailable ErrorType = "script_not_available"
	ErrorTypeFormatUnusable     ErrorType = "format_unusable"
	ErrorTypeFormatRejected     ErrorType = "format_rejected"
)

// AppError is the error type shared across the service.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // stable code for API clients
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError builds an AppError of the given type.
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

// NewScriptNotAvailableError reports that no screenplay text exists for a title.
func NewScriptNotAvailableError(title string, originalError error) *AppError {
	return NewAppError(ErrorTypeScriptNotAvailable, fmt.Sprintf("script not available: %s", title), originalError)
}

// NewFormatUnusableError reports a script with too few indentation levels to tag.
func NewFormatUnusableError(message string) *AppError {
	return NewAppError(ErrorTypeFormatUnusable, message, nil)
}

// NewFormatRejectedError reports a script that failed the coverage or adjacency gate.
func NewFormatRejectedError(message string) *AppError {
	return NewAppError(ErrorTypeFormatRejected, message, nil)
}

// TypeOf returns the ErrorType of err, or "" when err is not an AppError.
func TypeOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ""
}

func IsValidationError(err error) bool {
	return TypeOf(err) == ErrorTypeValidation
}

func IsNotFoundError(err error) bool {
	return TypeOf(err) == ErrorTypeNotFound
}

func IsScriptNotAvailable(err error) bool {
	return TypeOf(err) == ErrorTypeScriptNotAvailable
}

func IsFormatUnusable(err error) bool {
	return TypeOf(err) == ErrorTypeFormatUnusable
}

func IsFormatRejected(err error) bool {
	return TypeOf(err) == ErrorTypeFormatRejected
}

// IsExclusion reports whether err only excludes a single movie from a run.
func IsExclusion(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeScriptNotAvailable, ErrorTypeFormatUnusable, ErrorTypeFormatRejected:
		return true
	}
	return false
}

func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypeScriptNotAvailable:
		return "SCRIPT_NOT_AVAILABLE"
	case ErrorTypeFormatUnusable:
		return "FORMAT_UNUSABLE"
	case ErrorTypeFormatRejected:
		return "FORMAT_REJECTED"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError adds context to err, keeping the type of an existing AppError.
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	return NewAppError(errType, message, err)
}

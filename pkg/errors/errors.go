package errors

import (
	"errors"
	"fmt"
)

// ErrorType defines the categories of errors surfaced by the engine.
type ErrorType string

const (
	ErrorTypeValidation        ErrorType = "VALIDATION"
	ErrorTypeNotFound          ErrorType = "NOT_FOUND"
	ErrorTypeDuplicateTurn     ErrorType = "DUPLICATE_TURN"
	ErrorTypeInvalidTurn       ErrorType = "INVALID_TURN"
	ErrorTypeDimensionMismatch ErrorType = "DIMENSION_MISMATCH"
	ErrorTypeInvalidConfidence ErrorType = "INVALID_CONFIDENCE"
	ErrorTypeUniqueViolation   ErrorType = "UNIQUE_VIOLATION"
	ErrorTypeUnavailable       ErrorType = "UNAVAILABLE"
	ErrorTypeInternal          ErrorType = "INTERNAL"
)

// AppError is the engine's error type. Every failure crossing a component
// boundary is one of these; backend-native errors are mapped at the storage
// boundary and never leak through.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Constructor functions for the taxonomy

// NewValidation creates a validation error.
func NewValidation(message string) error {
	return &AppError{Type: ErrorTypeValidation, Message: message}
}

// NewNotFound creates a not found error for a missing resource.
func NewNotFound(resource, id string) error {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// NewDuplicateTurn reports a turn-number race on a session. Callers should
// retry with backoff.
func NewDuplicateTurn(sessionID string, turn int) error {
	return &AppError{
		Type:    ErrorTypeDuplicateTurn,
		Message: fmt.Sprintf("turn %d already written for session '%s'", turn, sessionID),
	}
}

// NewInvalidTurn reports cards attached to a turn that was never written.
func NewInvalidTurn(sessionID string, turn int) error {
	return &AppError{
		Type:    ErrorTypeInvalidTurn,
		Message: fmt.Sprintf("turn %d does not exist in session '%s'", turn, sessionID),
	}
}

// NewDimensionMismatch reports an embedding of the wrong length.
func NewDimensionMismatch(want, got int) error {
	return &AppError{
		Type:    ErrorTypeDimensionMismatch,
		Message: fmt.Sprintf("embedding dimension %d, expected %d", got, want),
	}
}

// NewInvalidConfidence reports a confidence outside [0,100].
func NewInvalidConfidence(confidence int) error {
	return &AppError{
		Type:    ErrorTypeInvalidConfidence,
		Message: fmt.Sprintf("confidence %d outside [0,100]", confidence),
	}
}

// NewUniqueViolation reports a duplicate-key insert attempted outside the
// upsert path.
func NewUniqueViolation(resource, key string) error {
	return &AppError{
		Type:    ErrorTypeUniqueViolation,
		Message: fmt.Sprintf("%s with key '%s' already exists", resource, key),
	}
}

// NewUnavailable reports unreachable persistence. Fatal for the call;
// retryable by the caller with backoff.
func NewUnavailable(message string, err error) error {
	return &AppError{Type: ErrorTypeUnavailable, Message: message, Err: err}
}

// NewInternal creates an internal error.
func NewInternal(message string, err error) error {
	return &AppError{Type: ErrorTypeInternal, Message: message, Err: err}
}

// Wrap wraps an error with additional context, preserving its type.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Type:    appErr.Type,
			Message: fmt.Sprintf("%s: %s", message, appErr.Message),
			Err:     appErr.Err,
		}
	}

	return &AppError{Type: ErrorTypeInternal, Message: message, Err: err}
}

// TypeOf returns the taxonomy type of err, or ErrorTypeInternal for foreign
// errors.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

func isType(err error, t ErrorType) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == t
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool { return isType(err, ErrorTypeValidation) }

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool { return isType(err, ErrorTypeNotFound) }

// IsDuplicateTurn checks if an error is a turn-number conflict.
func IsDuplicateTurn(err error) bool { return isType(err, ErrorTypeDuplicateTurn) }

// IsInvalidTurn checks if an error is an invalid-turn error.
func IsInvalidTurn(err error) bool { return isType(err, ErrorTypeInvalidTurn) }

// IsDimensionMismatch checks if an error is an embedding dimension error.
func IsDimensionMismatch(err error) bool { return isType(err, ErrorTypeDimensionMismatch) }

// IsInvalidConfidence checks if an error is a confidence range error.
func IsInvalidConfidence(err error) bool { return isType(err, ErrorTypeInvalidConfidence) }

// IsUniqueViolation checks if an error is a unique constraint violation.
func IsUniqueViolation(err error) bool { return isType(err, ErrorTypeUniqueViolation) }

// IsUnavailable checks if an error is a storage availability error.
func IsUnavailable(err error) bool { return isType(err, ErrorTypeUnavailable) }

// IsInternal checks if an error is an internal error.
func IsInternal(err error) bool { return isType(err, ErrorTypeInternal) }

// IsRetryable reports whether the caller should retry the operation with
// backoff rather than give up.
func IsRetryable(err error) bool {
	return IsDuplicateTurn(err) || IsUnavailable(err)
}

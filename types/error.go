package types

import "fmt"

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Pipeline error codes
const (
	ErrDuplicateCompletion   ErrorCode = "DUPLICATE_COMPLETION"
	ErrIncompletePayloadSet  ErrorCode = "INCOMPLETE_PAYLOAD_SET"
	ErrPersistenceFailure    ErrorCode = "PERSISTENCE_FAILURE"
	ErrSpawnFailure          ErrorCode = "SPAWN_FAILURE"
	ErrStaleRun              ErrorCode = "STALE_RUN"
	ErrInvalidTransition     ErrorCode = "INVALID_TRANSITION"
	ErrStageInFlight         ErrorCode = "STAGE_IN_FLIGHT"
	ErrUnknownStage          ErrorCode = "UNKNOWN_STAGE"
	ErrUnknownSpec           ErrorCode = "UNKNOWN_SPEC"
	ErrSynthesisNotPersisted ErrorCode = "SYNTHESIS_NOT_PERSISTED"
)

// Store error codes
const (
	ErrStoreNotFound ErrorCode = "STORE_NOT_FOUND"
	ErrStoreClosed   ErrorCode = "STORE_CLOSED"
	ErrInvalidInput  ErrorCode = "INVALID_INPUT"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	SpecID    string    `json:"spec_id,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithSpec attaches the spec identifier the error relates to.
func (e *Error) WithSpec(specID string) *Error {
	e.SpecID = specID
	return e
}

// WithStage attaches the stage the error relates to.
func (e *Error) WithStage(stage Stage) *Error {
	e.Stage = string(stage)
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

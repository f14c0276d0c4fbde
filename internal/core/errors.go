package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation     ErrorCategory = "validation"     // Malformed evidence or schema-invalid payload
	ErrCatGeneration     ErrorCategory = "generation"     // Generation collaborator unavailable or failed
	ErrCatPatch          ErrorCategory = "patch"          // Patch rejected or could not be applied
	ErrCatVerification   ErrorCategory = "verification"   // Verification command exited non-zero
	ErrCatGateTimeout    ErrorCategory = "gate_timeout"   // Human gate wait exceeded its bound
	ErrCatInfrastructure ErrorCategory = "infrastructure" // External process or filesystem failure
	ErrCatState          ErrorCategory = "state"          // State corruption or conflict
	ErrCatNotFound       ErrorCategory = "not_found"      // Resource not found
	ErrCatCancelled      ErrorCategory = "cancelled"      // Run cancelled by external signal
	ErrCatInternal       ErrorCategory = "internal"       // Unexpected internal error
)

// DomainError represents a structured error from the engine.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error. Fatal, never retried.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatValidation,
		Code:     code,
		Message:  message,
	}
}

// ErrGeneration creates a generation collaborator error.
func ErrGeneration(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatGeneration,
		Code:     code,
		Message:  message,
	}
}

// ErrPatch creates a patch application error.
func ErrPatch(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatPatch,
		Code:     code,
		Message:  message,
	}
}

// ErrVerification creates a verification failure error. This is the
// only retryable category: it drives the bounded self-heal loop.
func ErrVerification(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatVerification,
		Code:      CodeVerifyFailed,
		Message:   message,
		Retryable: true,
	}
}

// ErrGateTimeout creates a gate timeout error for an expired human wait.
func ErrGateTimeout(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatGateTimeout,
		Code:     code,
		Message:  message,
	}
}

// ErrInfrastructure creates an infrastructure error.
func ErrInfrastructure(message string) *DomainError {
	return &DomainError{
		Category: ErrCatInfrastructure,
		Code:     "INFRASTRUCTURE",
		Message:  message,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatState,
		Code:     code,
		Message:  message,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     "NOT_FOUND",
		Message:  fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// ErrCancelled creates a cancellation error.
func ErrCancelled(message string) *DomainError {
	return &DomainError{
		Category: ErrCatCancelled,
		Code:     "RUN_CANCELLED",
		Message:  message,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes
const (
	CodeRunNotFound          = "RUN_NOT_FOUND"
	CodeWorkspaceNotFound    = "WORKSPACE_NOT_FOUND"
	CodeInvalidState         = "INVALID_STATE"
	CodeStateCorrupted       = "STATE_CORRUPTED"
	CodeGeneratorUnavailable = "GENERATOR_UNAVAILABLE"
	CodeGeneratorInvalid     = "GENERATOR_INVALID_PAYLOAD"
	CodeEvidenceInvalid      = "EVIDENCE_INVALID"
	CodeSchemaInvalid        = "SCHEMA_INVALID"
	CodeForbiddenPath        = "FORBIDDEN_PATH"
	CodeMalformedDiff        = "MALFORMED_DIFF"
	CodeApplyConflict        = "APPLY_CONFLICT"
	CodeVerifyFailed         = "VERIFY_FAILED"
	CodeCommandDenied        = "COMMAND_DENIED"
	CodeApprovalRejected     = "APPROVAL_REJECTED"
	CodeSelectionTimeout     = "SELECTION_TIMEOUT"
	CodeApprovalTimeout      = "APPROVAL_TIMEOUT"
)

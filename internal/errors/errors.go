package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a tcap error code.
type ErrorCode string

const (
	ErrValidation        ErrorCode = "VALIDATION"         // 400
	ErrNotFound          ErrorCode = "NOT_FOUND"          // 404
	ErrCapsuleNotFound   ErrorCode = "CAPSULE_NOT_FOUND"  // 404
	ErrFileNotFound      ErrorCode = "FILE_NOT_FOUND"     // 404
	ErrIncompatibleState ErrorCode = "INCOMPATIBLE_STATE" // 409
	ErrConflict          ErrorCode = "CONFLICT"           // 409
	ErrCancelled         ErrorCode = "CANCELLED"          // 499
	ErrTransaction       ErrorCode = "TRANSACTION"        // 500
	ErrStorage           ErrorCode = "STORAGE"            // 500
	ErrInternal          ErrorCode = "INTERNAL"           // 500
)

// TcapError represents a structured error with code, status, and details.
type TcapError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	cause error
}

// Error implements the error interface.
func (e *TcapError) Error() string {
	if step, ok := e.Details["step"].(string); ok && step != "" {
		return fmt.Sprintf("%s: %s (step: %s)", e.Code, e.Message, step)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying driver or I/O error, if any.
func (e *TcapError) Unwrap() error {
	return e.cause
}

// Step returns the failing step recorded on the error, or "".
func (e *TcapError) Step() string {
	step, _ := e.Details["step"].(string)
	return step
}

// NewValidation creates a 400 error for invalid input.
func NewValidation(msg string) *TcapError {
	return &TcapError{
		Code:    ErrValidation,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for an unresolved id.
func NewNotFound(kind, id string) *TcapError {
	return &TcapError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, id),
		Details: map[string]any{"kind": kind, "id": id},
	}
}

// NewCapsuleNotFound creates a 404 error for restore against an unknown capsule.
func NewCapsuleNotFound(id string) *TcapError {
	return &TcapError{
		Code:    ErrCapsuleNotFound,
		Status:  404,
		Message: fmt.Sprintf("capsule not found: %s", id),
		Details: map[string]any{"id": id},
	}
}

// NewFileNotFound creates a 404 error for a missing export/import file.
func NewFileNotFound(path string) *TcapError {
	return &TcapError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewIncompatibleState creates a 409 error for cross-owner operations.
func NewIncompatibleState(msg string, details map[string]any) *TcapError {
	return &TcapError{
		Code:    ErrIncompatibleState,
		Status:  409,
		Message: msg,
		Details: details,
	}
}

// NewConflict creates a 409 error when a merge policy cannot resolve a collision.
func NewConflict(msg string) *TcapError {
	return &TcapError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewCancelled creates a 499 error when an operation's context is cancelled.
func NewCancelled(operation string) *TcapError {
	return &TcapError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", operation),
		Details: map[string]any{"operation": operation},
	}
}

// NewTransaction creates a 500 error for a failed commit. Live state is unchanged.
func NewTransaction(step string, err error) *TcapError {
	details := map[string]any{"step": step}
	if err != nil {
		details["cause"] = err.Error()
	}
	return &TcapError{
		Code:    ErrTransaction,
		Status:  500,
		Message: "transaction failed; live collection unchanged",
		Details: details,
		cause:   err,
	}
}

// NewStorage creates a 500 error for a persistence I/O failure.
// The driver error is kept in Details for logging, not in Message.
func NewStorage(err error) *TcapError {
	details := map[string]any{}
	if err != nil {
		details["storage_error"] = err.Error()
	}
	return &TcapError{
		Code:    ErrStorage,
		Status:  500,
		Message: "a storage error occurred",
		Details: details,
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *TcapError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &TcapError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
		cause:   err,
	}
}

// WithStep records the failing step on err. Non-TcapErrors are wrapped as internal.
// The original error is copied, never mutated.
func WithStep(err error, step string) *TcapError {
	if err == nil {
		return nil
	}
	var tErr *TcapError
	if !stderrors.As(err, &tErr) {
		tErr = NewInternal(err)
	}
	out := *tErr
	out.Details = make(map[string]any, len(tErr.Details)+1)
	for k, v := range tErr.Details {
		out.Details[k] = v
	}
	out.Details["step"] = step
	return &out
}

// Is checks if an error is (or wraps) a TcapError with the given code.
func Is(err error, code ErrorCode) bool {
	var tErr *TcapError
	if stderrors.As(err, &tErr) {
		return tErr.Code == code
	}
	return false
}

// As returns the TcapError wrapped by err, if any.
func As(err error) (*TcapError, bool) {
	var tErr *TcapError
	ok := stderrors.As(err, &tErr)
	return tErr, ok
}

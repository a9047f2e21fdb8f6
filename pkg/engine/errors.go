package engine

import (
	"errors"
	"fmt"
)

// ErrorClass decides whether an error ends the run or only its resource.
type ErrorClass string

const (
	// ErrorClassFatal aborts the startup sequence. Only configuration
	// problems and the VM readiness gate are fatal.
	ErrorClassFatal ErrorClass = "fatal"

	// ErrorClassResource is isolated to one resource; the run continues.
	ErrorClassResource ErrorClass = "resource"
)

// ErrorCode identifies the kind of failure for programmatic handling.
type ErrorCode string

const (
	CodeConfigMissing        ErrorCode = "CONFIG_MISSING"
	CodeConfigInvalid        ErrorCode = "CONFIG_INVALID"
	CodeResourceNotFound     ErrorCode = "RESOURCE_NOT_FOUND"
	CodeAdapterCommandFailed ErrorCode = "ADAPTER_COMMAND_FAILED"
	CodeReadinessTimeout     ErrorCode = "READINESS_TIMEOUT"
	CodeDependencyUnmet      ErrorCode = "DEPENDENCY_UNMET"
	CodeMountFailed          ErrorCode = "MOUNT_FAILED"
	CodeUnmountFailed        ErrorCode = "UNMOUNT_FAILED"
	CodePolicyDenied         ErrorCode = "POLICY_DENIED"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Code identifies the failure.
	Code ErrorCode `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Resource is the resource that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the adapter operation being performed.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	switch {
	case e.Resource != "" && e.Operation != "":
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", msg, e.Resource, e.Operation)
	case e.Resource != "":
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches another EngineError with the same class and code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewFatalError creates an error that aborts the run.
func NewFatalError(code ErrorCode, message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassFatal,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewResourceError creates an error isolated to a single resource.
func NewResourceError(code ErrorCode, message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassResource,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resource string) *EngineError {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsFatal returns true if err is classified as fatal.
func IsFatal(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassFatal
	}
	return false
}

// CodeOf returns the code carried by err, or "" if it is not an EngineError.
func CodeOf(err error) ErrorCode {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries code.
func HasCode(err error, code ErrorCode) bool {
	return code != "" && CodeOf(err) == code
}

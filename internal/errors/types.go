// Package errors provides the structured error taxonomy used across bang.
//
// Errors fall into a small number of categories. Usage errors (a missing
// state key, an unset value where one is required, a clone of an unknown key)
// are author mistakes and are never retried. Resource errors (a stylesheet or
// markup file that cannot be fetched) are absorbed by fallback policy and only
// ever surface in logs. Template and script errors are logged with context and
// contained at the component boundary.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeUsage    ErrorType = "usage"
	ErrorTypeResource ErrorType = "resource"
	ErrorTypeTemplate ErrorType = "template"
	ErrorTypeScript   ErrorType = "script"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeInternal ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeStateUnset     = "ERR_STATE_UNSET"
	ErrCodeValueRequired  = "ERR_VALUE_REQUIRED"
	ErrCodeStateNotFound  = "ERR_STATE_NOT_FOUND"
	ErrCodeAlreadyDefined = "ERR_ALREADY_DEFINED"
	ErrCodeInvalidName    = "ERR_INVALID_NAME"
	ErrCodeFetchFailed    = "ERR_FETCH_FAILED"
	ErrCodeTemplateParse  = "ERR_TEMPLATE_PARSE"
	ErrCodeTemplateEval   = "ERR_TEMPLATE_EVAL"
	ErrCodeScriptInvalid  = "ERR_SCRIPT_INVALID"
	ErrCodeConfigInvalid  = "ERR_CONFIG_INVALID"
	ErrCodeCloneFailed    = "ERR_CLONE_FAILED"
	ErrCodeInternalError  = "ERR_INTERNAL"
)

// Sentinels for errors.Is comparisons. Matching is by type and code, so any
// BangError carrying the same pair matches regardless of message.
var (
	ErrStateUnset     = &BangError{Type: ErrorTypeUsage, Code: ErrCodeStateUnset}
	ErrValueRequired  = &BangError{Type: ErrorTypeUsage, Code: ErrCodeValueRequired}
	ErrStateNotFound  = &BangError{Type: ErrorTypeUsage, Code: ErrCodeStateNotFound}
	ErrAlreadyDefined = &BangError{Type: ErrorTypeUsage, Code: ErrCodeAlreadyDefined}
	ErrInvalidName    = &BangError{Type: ErrorTypeUsage, Code: ErrCodeInvalidName}
	ErrFetchFailed    = &BangError{Type: ErrorTypeResource, Code: ErrCodeFetchFailed}
)

// BangError is a structured error type with context.
type BangError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Component   string
	Recoverable bool
}

// Error implements the error interface.
func (e *BangError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *BangError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *BangError) Is(target error) bool {
	var t *BangError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *BangError) WithContext(key string, value interface{}) *BangError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithComponent adds component context.
func (e *BangError) WithComponent(component string) *BangError {
	e.Component = component

	return e
}

// Error creation functions

// NewUsageError creates an author-error. Usage errors are not recoverable.
func NewUsageError(code, message string) *BangError {
	return &BangError{
		Type:    ErrorTypeUsage,
		Code:    code,
		Message: message,
	}
}

// NewResourceError creates a fetch error. Resource errors are absorbed by
// fallback policy.
func NewResourceError(code, message string, cause error) *BangError {
	return &BangError{
		Type:        ErrorTypeResource,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewTemplateError creates a template parse or evaluation error.
func NewTemplateError(code, message string, cause error) *BangError {
	return &BangError{
		Type:        ErrorTypeTemplate,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewScriptError creates a behavior script error.
func NewScriptError(code, message string, cause error) *BangError {
	return &BangError{
		Type:        ErrorTypeScript,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *BangError {
	return &BangError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *BangError {
	return &BangError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Error recovery and handling utilities

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var be *BangError
	if errors.As(err, &be) {
		return be.Recoverable
	}

	return false
}

// IsUsageError checks if an error is an author error.
func IsUsageError(err error) bool {
	return hasType(err, ErrorTypeUsage)
}

// IsResourceError checks if an error came from a component fetch.
func IsResourceError(err error) bool {
	return hasType(err, ErrorTypeResource)
}

// IsTemplateError checks if an error came from cooking markup.
func IsTemplateError(err error) bool {
	return hasType(err, ErrorTypeTemplate)
}

func hasType(err error, t ErrorType) bool {
	var be *BangError
	if errors.As(err, &be) {
		return be.Type == t
	}

	return false
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
	Debug(ctx context.Context, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs an error at the level its category calls for.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var be *BangError
	if !errors.As(err, &be) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch be.Type {
	case ErrorTypeResource, ErrorTypeScript:
		h.logger.Debug(ctx, "Recovered from error",
			"type", be.Type,
			"code", be.Code,
			"component", be.Component,
			"error", err.Error())
	case ErrorTypeTemplate:
		h.logger.Warn(ctx, err, "Template error occurred",
			"type", be.Type,
			"code", be.Code,
			"component", be.Component)
	default:
		h.logger.Error(ctx, err, "Error occurred",
			"type", be.Type,
			"code", be.Code,
			"component", be.Component)
	}
}

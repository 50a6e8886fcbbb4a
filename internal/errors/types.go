// Package errors defines the typed errors used across the development server.
//
// Every failure that crosses a package boundary is a *CoraliteError carrying an
// ErrorType, so callers can branch on the category (build, watch, network, ...)
// with errors.As or the Is* predicates instead of matching message strings.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeNotFound ErrorType = "not_found"
	ErrorTypeBuild    ErrorType = "build"
	ErrorTypeWatch    ErrorType = "watch"
	ErrorTypeDelivery ErrorType = "delivery"
	ErrorTypeNetwork  ErrorType = "network"
	ErrorTypeIO       ErrorType = "io"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeInternal ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeFileNotFound   = "ERR_FILE_NOT_FOUND"
	ErrCodeBuildFailed    = "ERR_BUILD_FAILED"
	ErrCodeWatchFailed    = "ERR_WATCH_FAILED"
	ErrCodeDeliveryFailed = "ERR_DELIVERY_FAILED"
	ErrCodeBindFailed     = "ERR_BIND_FAILED"
	ErrCodeShutdownFailed = "ERR_SHUTDOWN_FAILED"
	ErrCodeCopyFailed     = "ERR_COPY_FAILED"
	ErrCodeConfigInvalid  = "ERR_CONFIG_INVALID"
	ErrCodeInternalError  = "ERR_INTERNAL"
)

// CoraliteError is a structured error type with context.
type CoraliteError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Component   string
	FilePath    string
	Recoverable bool
}

// Error implements the error interface.
func (e *CoraliteError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}

	if e.FilePath != "" {
		parts = append(parts, e.FilePath)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *CoraliteError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison on type and code.
func (e *CoraliteError) Is(target error) bool {
	var t *CoraliteError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *CoraliteError) WithContext(key string, value interface{}) *CoraliteError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithFile records the file the error relates to.
func (e *CoraliteError) WithFile(filePath string) *CoraliteError {
	e.FilePath = filePath

	return e
}

// WithComponent adds component context.
func (e *CoraliteError) WithComponent(component string) *CoraliteError {
	e.Component = component

	return e
}

// NewNotFoundError creates a not-found error. These never reach a response body.
func NewNotFoundError(path string) *CoraliteError {
	return &CoraliteError{
		Type:        ErrorTypeNotFound,
		Code:        ErrCodeFileNotFound,
		Message:     "not found: " + path,
		FilePath:    path,
		Recoverable: true,
	}
}

// NewBuildError creates a build error.
func NewBuildError(code, message string, cause error) *CoraliteError {
	return &CoraliteError{
		Type:        ErrorTypeBuild,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewWatchError wraps a failure reported by the change-notification mechanism.
func NewWatchError(cause error) *CoraliteError {
	return &CoraliteError{
		Type:        ErrorTypeWatch,
		Code:        ErrCodeWatchFailed,
		Message:     "file watcher failed",
		Cause:       cause,
		Recoverable: false,
	}
}

// NewDeliveryError wraps a failed send to a single push connection.
func NewDeliveryError(connID string, cause error) *CoraliteError {
	err := &CoraliteError{
		Type:        ErrorTypeDelivery,
		Code:        ErrCodeDeliveryFailed,
		Message:     "delivery failed",
		Cause:       cause,
		Recoverable: true,
	}

	return err.WithContext("connection", connID)
}

// NewNetworkError creates a network error.
func NewNetworkError(code, message string, cause error) *CoraliteError {
	return &CoraliteError{
		Type:        ErrorTypeNetwork,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *CoraliteError {
	return &CoraliteError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *CoraliteError {
	return &CoraliteError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *CoraliteError {
	return &CoraliteError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// ErrBuildFailed creates a build failure error for a rebuild target.
func ErrBuildFailed(target string, cause error) *CoraliteError {
	return NewBuildError(
		ErrCodeBuildFailed,
		"build failed for target: "+target,
		cause,
	).WithComponent(target)
}

// ErrBindFailed creates the fatal startup error for an unavailable address.
func ErrBindFailed(addr string, cause error) *CoraliteError {
	return NewNetworkError(
		ErrCodeBindFailed,
		"failed to listen on "+addr,
		cause,
	).WithContext("addr", addr)
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	return hasType(err, "") && asCoralite(err).Recoverable
}

// IsNotFound checks if an error reports a missing file.
func IsNotFound(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsBuildError checks if an error is build-related.
func IsBuildError(err error) bool {
	return hasType(err, ErrorTypeBuild)
}

// IsWatchError checks if an error came from the file watcher.
func IsWatchError(err error) bool {
	return hasType(err, ErrorTypeWatch)
}

// IsNetworkError checks if an error is network-related.
func IsNetworkError(err error) bool {
	return hasType(err, ErrorTypeNetwork)
}

func asCoralite(err error) *CoraliteError {
	var ce *CoraliteError
	if errors.As(err, &ce) {
		return ce
	}

	return nil
}

// hasType reports whether err wraps a CoraliteError of type t; an empty t
// matches any CoraliteError.
func hasType(err error, t ErrorType) bool {
	ce := asCoralite(err)
	if ce == nil {
		return false
	}

	return t == "" || ce.Type == t
}

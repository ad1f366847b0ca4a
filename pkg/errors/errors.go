// Package errors defines common error types for the application.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for the application.
const (
	CodeUnknown           = "UNKNOWN_ERROR"
	CodeContainerNotFound = "CONTAINER_NOT_FOUND"
	CodeNoDefinitionBlobs = "NO_DEFINITION_BLOBS"
	CodeMalformedHeader   = "MALFORMED_HEADER"
	CodeTruncatedTable    = "TRUNCATED_TABLE"
	CodeDanglingReference = "DANGLING_REFERENCE"
	CodeUnreadableName    = "UNREADABLE_NAME"
	CodeUnreadableEntry   = "UNREADABLE_ENTRY"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeConfigError       = "CONFIG_ERROR"
	CodeStorageError      = "STORAGE_ERROR"
	CodeDatabaseError     = "DATABASE_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeCanceled          = "CANCELED"
)

// AppError represents an application error with a code and message.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code string, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error instances.
var (
	ErrContainerNotFound = New(CodeContainerNotFound, "container not found")
	ErrNoDefinitionBlobs = New(CodeNoDefinitionBlobs, "no dex entries in container")
	ErrMalformedHeader   = New(CodeMalformedHeader, "malformed dex header")
	ErrTruncatedTable    = New(CodeTruncatedTable, "truncated dex table")
	ErrDanglingReference = New(CodeDanglingReference, "dangling dex reference")
	ErrUnreadableName    = New(CodeUnreadableName, "unreadable name")
	ErrUnreadableEntry   = New(CodeUnreadableEntry, "unreadable container entry")
	ErrInvalidInput      = New(CodeInvalidInput, "invalid input")
	ErrConfigError       = New(CodeConfigError, "configuration error")
	ErrStorageError      = New(CodeStorageError, "storage error")
	ErrDatabaseError     = New(CodeDatabaseError, "database error")
	ErrNotFound          = New(CodeNotFound, "record not found")
	ErrCanceled          = New(CodeCanceled, "operation canceled")
)

// IsContainerError reports whether err aborts a whole run: the container could
// not be opened or holds nothing to analyze.
func IsContainerError(err error) bool {
	return errors.Is(err, ErrContainerNotFound) || errors.Is(err, ErrNoDefinitionBlobs)
}

// IsBlobError reports whether err is scoped to a single dex blob.
func IsBlobError(err error) bool {
	return errors.Is(err, ErrUnreadableEntry) ||
		errors.Is(err, ErrMalformedHeader) ||
		errors.Is(err, ErrTruncatedTable) ||
		errors.Is(err, ErrDanglingReference)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// KindNames maps error codes to the kind names shown in reports.
var KindNames = map[string]string{
	CodeContainerNotFound: "ContainerNotFound",
	CodeNoDefinitionBlobs: "NoDefinitionBlobs",
	CodeMalformedHeader:   "MalformedHeader",
	CodeTruncatedTable:    "TruncatedTable",
	CodeDanglingReference: "DanglingReference",
	CodeUnreadableName:    "UnreadableName",
	CodeUnreadableEntry:   "UnreadableEntry",
	CodeCanceled:          "Canceled",
}

// Kind returns the report kind name for err, or "Unknown".
func Kind(err error) string {
	if name, ok := KindNames[GetErrorCode(err)]; ok {
		return name
	}
	return "Unknown"
}

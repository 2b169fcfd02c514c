// Package errhandling provides error types and classification utilities.
// This file defines error categories, classification functions, and helper utilities
// for consistent error handling across the keyhash runtime.
//
// Every category defined here is fatal for the current unit of work: the runtime
// never skips a record and never retries. Classification exists so that callers,
// logs and execution results can report what kind of failure routed a unit to the
// failure relationship.
package errhandling

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCategory represents the type/category of an error.
type ErrorCategory string

// Error categories for classification.
const (
	// CategoryPathSyntax represents a path expression that fails to compile.
	CategoryPathSyntax ErrorCategory = "path_syntax"

	// CategorySelection represents a failure evaluating a selector against a record.
	CategorySelection ErrorCategory = "selection"

	// CategoryTransform represents a failed per-record transform.
	CategoryTransform ErrorCategory = "transform"

	// CategoryUnsupportedAlgorithm represents an unknown hash algorithm identifier.
	CategoryUnsupportedAlgorithm ErrorCategory = "unsupported_algorithm"

	// CategoryMalformedInput represents a reader that cannot parse its input.
	CategoryMalformedInput ErrorCategory = "malformed_input"

	// CategoryWrite represents a writer that cannot serialize or flush.
	CategoryWrite ErrorCategory = "write"

	// CategoryConfiguration represents invalid pipeline configuration.
	CategoryConfiguration ErrorCategory = "configuration"

	// CategoryCanceled represents a unit of work aborted through its context.
	CategoryCanceled ErrorCategory = "canceled"

	// CategoryUnknown represents unclassified errors.
	CategoryUnknown ErrorCategory = "unknown"
)

// Sentinel errors, one per category. Use errors.Is to test for them.
var (
	ErrPathSyntax           = errors.New("path syntax error")
	ErrSelection            = errors.New("selection error")
	ErrTransform            = errors.New("transform error")
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrMalformedInput       = errors.New("malformed input")
	ErrWrite                = errors.New("write error")
	ErrConfiguration        = errors.New("configuration error")
)

var sentinels = map[ErrorCategory]error{
	CategoryPathSyntax:           ErrPathSyntax,
	CategorySelection:            ErrSelection,
	CategoryTransform:            ErrTransform,
	CategoryUnsupportedAlgorithm: ErrUnsupportedAlgorithm,
	CategoryMalformedInput:       ErrMalformedInput,
	CategoryWrite:                ErrWrite,
	CategoryConfiguration:        ErrConfiguration,
	CategoryCanceled:             context.Canceled,
}

// ClassifiedError wraps an error with classification metadata.
type ClassifiedError struct {
	// Category is the error classification category.
	Category ErrorCategory

	// Message is a human-readable error message.
	Message string

	// OriginalErr is the underlying error that was classified.
	OriginalErr error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.OriginalErr != nil && e.Message != "" {
		return fmt.Sprintf("%s error: %s: %v", e.Category, e.Message, e.OriginalErr)
	}
	if e.OriginalErr != nil {
		return fmt.Sprintf("%s error: %v", e.Category, e.OriginalErr)
	}
	return fmt.Sprintf("%s error: %s", e.Category, e.Message)
}

// Unwrap returns the category sentinel and the original error, so errors.Is
// matches either of them.
func (e *ClassifiedError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := sentinels[e.Category]; ok {
		errs = append(errs, s)
	}
	if e.OriginalErr != nil {
		errs = append(errs, e.OriginalErr)
	}
	return errs
}

func newClassified(category ErrorCategory, message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:    category,
		Message:     message,
		OriginalErr: originalErr,
	}
}

// NewPathSyntaxError creates a ClassifiedError for a path that fails to compile.
func NewPathSyntaxError(path string, originalErr error) *ClassifiedError {
	return newClassified(CategoryPathSyntax, fmt.Sprintf("invalid path %q", path), originalErr)
}

// NewSelectionError creates a ClassifiedError for a selector evaluation failure.
func NewSelectionError(message string, originalErr error) *ClassifiedError {
	return newClassified(CategorySelection, message, originalErr)
}

// NewTransformError creates a ClassifiedError for a failed record transform.
func NewTransformError(message string, originalErr error) *ClassifiedError {
	return newClassified(CategoryTransform, message, originalErr)
}

// NewUnsupportedAlgorithmError creates a ClassifiedError for an unknown algorithm.
func NewUnsupportedAlgorithmError(algorithm string) *ClassifiedError {
	return newClassified(CategoryUnsupportedAlgorithm, fmt.Sprintf("algorithm %q", algorithm), nil)
}

// NewMalformedInputError creates a ClassifiedError for unreadable input.
func NewMalformedInputError(message string, originalErr error) *ClassifiedError {
	return newClassified(CategoryMalformedInput, message, originalErr)
}

// NewWriteError creates a ClassifiedError for a writer failure.
func NewWriteError(message string, originalErr error) *ClassifiedError {
	return newClassified(CategoryWrite, message, originalErr)
}

// NewConfigurationError creates a ClassifiedError for invalid configuration.
func NewConfigurationError(message string, originalErr error) *ClassifiedError {
	return newClassified(CategoryConfiguration, message, originalErr)
}

// ClassifyError classifies any error into a ClassifiedError.
// Already classified errors are returned as is; context errors map to
// CategoryCanceled; everything else is CategoryUnknown.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return &ClassifiedError{
			Category: CategoryUnknown,
			Message:  "nil error",
		}
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newClassified(CategoryCanceled, "unit of work aborted", err)
	}

	for category, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return newClassified(category, "", err)
		}
	}

	return newClassified(CategoryUnknown, "", err)
}

// GetErrorCategory returns the error category for a given error.
// Returns CategoryUnknown for nil or unclassified errors.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}
	return ClassifyError(err).Category
}

// IsFatal reports whether err aborts the unit of work. Every non-nil error does.
func IsFatal(err error) bool {
	return err != nil
}

// IsConfigurationTime reports whether the error category is detectable before any
// record is read (configuration, unsupported algorithm, static path syntax).
func IsConfigurationTime(err error) bool {
	switch GetErrorCategory(err) {
	case CategoryConfiguration, CategoryUnsupportedAlgorithm, CategoryPathSyntax:
		return true
	default:
		return false
	}
}

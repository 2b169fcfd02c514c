// This file re-exports error handling utilities from the errhandling package.
package runtime

import (
	"github.com/canectors/keyhash/internal/errhandling"
)

// ErrorCategory represents the category of an error (re-exported from errhandling).
type ErrorCategory = errhandling.ErrorCategory

// ClassifiedError represents a classified error with its category (re-exported from errhandling).
type ClassifiedError = errhandling.ClassifiedError

// Re-export error category constants
const (
	CategoryPathSyntax           = errhandling.CategoryPathSyntax
	CategorySelection            = errhandling.CategorySelection
	CategoryTransform            = errhandling.CategoryTransform
	CategoryUnsupportedAlgorithm = errhandling.CategoryUnsupportedAlgorithm
	CategoryMalformedInput       = errhandling.CategoryMalformedInput
	CategoryWrite                = errhandling.CategoryWrite
	CategoryConfiguration        = errhandling.CategoryConfiguration
	CategoryCanceled             = errhandling.CategoryCanceled
	CategoryUnknown              = errhandling.CategoryUnknown
)

// Re-export functions
var (
	ClassifyError       = errhandling.ClassifyError
	GetErrorCategory    = errhandling.GetErrorCategory
	IsFatal             = errhandling.IsFatal
	IsConfigurationTime = errhandling.IsConfigurationTime
)

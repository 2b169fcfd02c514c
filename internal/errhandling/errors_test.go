// Package errhandling provides error types and classification for pipeline execution.
package errhandling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestErrorCategory tests error category constants and their string values.
func TestErrorCategory(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		expected string
	}{
		{CategoryPathSyntax, "path_syntax"},
		{CategorySelection, "selection"},
		{CategoryTransform, "transform"},
		{CategoryUnsupportedAlgorithm, "unsupported_algorithm"},
		{CategoryMalformedInput, "malformed_input"},
		{CategoryWrite, "write"},
		{CategoryConfiguration, "configuration"},
		{CategoryCanceled, "canceled"},
		{CategoryUnknown, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if string(tt.category) != tt.expected {
				t.Errorf("ErrorCategory = %v, want %v", tt.category, tt.expected)
			}
		})
	}
}

// TestClassifiedError tests the ClassifiedError type.
func TestClassifiedError(t *testing.T) {
	t.Run("Error message formatting", func(t *testing.T) {
		err := NewWriteError("flushing output", errors.New("disk full"))

		errorStr := err.Error()
		if !strings.Contains(errorStr, "write") || !strings.Contains(errorStr, "disk full") {
			t.Errorf("Error() = %v, want to contain 'write' and 'disk full'", errorStr)
		}
	})

	t.Run("errors.Is matches sentinel and original", func(t *testing.T) {
		original := errors.New("bad token")
		err := NewPathSyntaxError("/a[", original)

		if !errors.Is(err, ErrPathSyntax) {
			t.Error("expected errors.Is(err, ErrPathSyntax)")
		}
		if !errors.Is(err, original) {
			t.Error("expected errors.Is(err, original)")
		}
		if errors.Is(err, ErrSelection) {
			t.Error("did not expect errors.Is(err, ErrSelection)")
		}
	})

	t.Run("wrapped classified error keeps category", func(t *testing.T) {
		inner := NewSelectionError("nil record", nil)
		outer := NewTransformError("record 3", inner)

		if !errors.Is(outer, ErrTransform) || !errors.Is(outer, ErrSelection) {
			t.Error("expected both transform and selection sentinels in chain")
		}
		if GetErrorCategory(outer) != CategoryTransform {
			t.Errorf("GetErrorCategory = %v, want transform", GetErrorCategory(outer))
		}
	})

	t.Run("unsupported algorithm has no original", func(t *testing.T) {
		err := NewUnsupportedAlgorithmError("ROT13")
		if !errors.Is(err, ErrUnsupportedAlgorithm) {
			t.Error("expected ErrUnsupportedAlgorithm")
		}
		if !strings.Contains(err.Error(), "ROT13") {
			t.Errorf("Error() = %q, want algorithm name", err.Error())
		}
	})
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, CategoryUnknown},
		{"classified", NewMalformedInputError("line 2", nil), CategoryMalformedInput},
		{"wrapped classified", fmt.Errorf("reading: %w", NewMalformedInputError("line 2", nil)), CategoryMalformedInput},
		{"wrapped sentinel", fmt.Errorf("writer: %w", ErrWrite), CategoryWrite},
		{"canceled", context.Canceled, CategoryCanceled},
		{"deadline", fmt.Errorf("read: %w", context.DeadlineExceeded), CategoryCanceled},
		{"plain", errors.New("boom"), CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			if got.Category != tt.want {
				t.Errorf("ClassifyError() category = %v, want %v", got.Category, tt.want)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	if IsFatal(nil) {
		t.Error("nil error must not be fatal")
	}
	for _, err := range []error{
		NewSelectionError("x", nil),
		NewWriteError("x", nil),
		errors.New("anything"),
	} {
		if !IsFatal(err) {
			t.Errorf("expected %v to be fatal", err)
		}
	}
}

func TestIsConfigurationTime(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{NewUnsupportedAlgorithmError("X"), true},
		{NewPathSyntaxError("", nil), true},
		{NewConfigurationError("no properties", nil), true},
		{NewMalformedInputError("x", nil), false},
		{NewWriteError("x", nil), false},
		{nil, false},
	}

	for _, tt := range tests {
		if got := IsConfigurationTime(tt.err); got != tt.want {
			t.Errorf("IsConfigurationTime(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

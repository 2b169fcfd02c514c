// Package filter provides implementations for filter modules.
// Filter modules are per-record stages that run before hashing: they may
// rewrite a record or drop it.
package filter

import (
	"context"
	"errors"
)

// ErrNilConfig is returned when a constructor receives a nil configuration.
var ErrNilConfig = errors.New("filter module configuration is nil")

// Module represents a per-record filter stage.
//
// Modules are built once per pipeline and shared by concurrently processed
// units of work, so Process must be safe for concurrent use.
type Module interface {
	// Process returns the record to pass on, or nil to drop it.
	Process(ctx context.Context, record map[string]interface{}) (map[string]interface{}, error)
}

// Apply runs the stages in order. It returns nil when a stage drops the record.
func Apply(ctx context.Context, stages []Module, record map[string]interface{}) (map[string]interface{}, error) {
	current := record
	for _, stage := range stages {
		next, err := stage.Process(ctx, current)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		current = next
	}
	return current, nil
}

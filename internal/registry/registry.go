// Package registry provides module registries for reader, filter, and writer modules.
//
// # Overview
//
// Modules register their constructors by type string instead of being
// selected by hard-coded switch statements. The factory resolves pipeline
// module types through these registries.
//
// # Adding a New Module
//
// To add a new record format (e.g., an "avro" reader):
//
//  1. Implement the appropriate interface (input.Module, filter.Module, or output.Module)
//  2. Create a constructor function matching the registry signature
//  3. Register the constructor in an init() function
//
// Example for a new reader:
//
//	package avro
//
//	import (
//	    "github.com/canectors/keyhash/internal/modules/input"
//	    "github.com/canectors/keyhash/internal/registry"
//	    "github.com/canectors/keyhash/pkg/connector"
//	)
//
//	func init() {
//	    registry.RegisterInput("avro", NewAvroInput)
//	}
//
//	func NewAvroInput(cfg *connector.ModuleConfig) (input.Module, error) {
//	    // Parse cfg.Config and return your implementation
//	    return &AvroInput{...}, nil
//	}
//
// # Built-in Modules
//
// Readers and writers for json, jsonl, yaml, csv, msgpack and database, and
// the condition and script filters, are registered by init() in builtins.go.
// Unknown types are configuration errors.
package registry

import (
	"sort"
	"sync"

	"github.com/canectors/keyhash/internal/modules/filter"
	"github.com/canectors/keyhash/internal/modules/input"
	"github.com/canectors/keyhash/internal/modules/output"
	"github.com/canectors/keyhash/pkg/connector"
)

// InputConstructor is a function that creates an input module from configuration.
// The constructor receives the full ModuleConfig and returns an input.Module.
// Returns an error if the configuration is invalid.
type InputConstructor func(cfg *connector.ModuleConfig) (input.Module, error)

// FilterConstructor is a function that creates a filter module from configuration.
// The constructor receives the ModuleConfig and the filter's index in the pipeline.
// Returns an error if the configuration is invalid.
type FilterConstructor func(cfg connector.ModuleConfig, index int) (filter.Module, error)

// OutputConstructor is a function that creates an output module from configuration.
// The constructor receives the full ModuleConfig and returns an output.Module.
// Returns an error if the configuration is invalid.
type OutputConstructor func(cfg *connector.ModuleConfig) (output.Module, error)

// inputRegistry holds registered input module constructors.
var (
	inputMu       sync.RWMutex
	inputRegistry = make(map[string]InputConstructor)
)

// filterRegistry holds registered filter module constructors.
var (
	filterMu       sync.RWMutex
	filterRegistry = make(map[string]FilterConstructor)
)

// outputRegistry holds registered output module constructors.
var (
	outputMu       sync.RWMutex
	outputRegistry = make(map[string]OutputConstructor)
)

// RegisterInput registers an input module constructor by type string.
// Calling RegisterInput with an already registered type will overwrite
// the previous constructor.
//
// This function is safe for concurrent use and is typically called from
// init() functions in module packages.
//
// Example:
//
//	func init() {
//	    registry.RegisterInput("jsonl", NewJSONLInput)
//	}
func RegisterInput(moduleType string, constructor InputConstructor) {
	inputMu.Lock()
	defer inputMu.Unlock()
	inputRegistry[moduleType] = constructor
}

// RegisterFilter registers a filter module constructor by type string.
// Calling RegisterFilter with an already registered type will overwrite
// the previous constructor.
//
// This function is safe for concurrent use and is typically called from
// init() functions in module packages.
//
// Example:
//
//	func init() {
//	    registry.RegisterFilter("condition", NewCondition)
//	}
func RegisterFilter(moduleType string, constructor FilterConstructor) {
	filterMu.Lock()
	defer filterMu.Unlock()
	filterRegistry[moduleType] = constructor
}

// RegisterOutput registers an output module constructor by type string.
// Calling RegisterOutput with an already registered type will overwrite
// the previous constructor.
//
// This function is safe for concurrent use and is typically called from
// init() functions in module packages.
//
// Example:
//
//	func init() {
//	    registry.RegisterOutput("csv", NewCSVOutput)
//	}
func RegisterOutput(moduleType string, constructor OutputConstructor) {
	outputMu.Lock()
	defer outputMu.Unlock()
	outputRegistry[moduleType] = constructor
}

// GetInputConstructor returns the registered constructor for an input module type.
// Returns nil if no constructor is registered for the given type.
func GetInputConstructor(moduleType string) InputConstructor {
	inputMu.RLock()
	defer inputMu.RUnlock()
	return inputRegistry[moduleType]
}

// GetFilterConstructor returns the registered constructor for a filter module type.
// Returns nil if no constructor is registered for the given type.
func GetFilterConstructor(moduleType string) FilterConstructor {
	filterMu.RLock()
	defer filterMu.RUnlock()
	return filterRegistry[moduleType]
}

// GetOutputConstructor returns the registered constructor for an output module type.
// Returns nil if no constructor is registered for the given type.
func GetOutputConstructor(moduleType string) OutputConstructor {
	outputMu.RLock()
	defer outputMu.RUnlock()
	return outputRegistry[moduleType]
}

// ListInputTypes returns all registered input module type names.
// Names are sorted.
func ListInputTypes() []string {
	inputMu.RLock()
	defer inputMu.RUnlock()
	types := make([]string, 0, len(inputRegistry))
	for t := range inputRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ListFilterTypes returns all registered filter module type names.
// Names are sorted.
func ListFilterTypes() []string {
	filterMu.RLock()
	defer filterMu.RUnlock()
	types := make([]string, 0, len(filterRegistry))
	for t := range filterRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ListOutputTypes returns all registered output module type names.
// Names are sorted.
func ListOutputTypes() []string {
	outputMu.RLock()
	defer outputMu.RUnlock()
	types := make([]string, 0, len(outputRegistry))
	for t := range outputRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ClearRegistries removes all registered constructors.
// This is intended for testing purposes only.
func ClearRegistries() {
	inputMu.Lock()
	inputRegistry = make(map[string]InputConstructor)
	inputMu.Unlock()

	filterMu.Lock()
	filterRegistry = make(map[string]FilterConstructor)
	filterMu.Unlock()

	outputMu.Lock()
	outputRegistry = make(map[string]OutputConstructor)
	outputMu.Unlock()
}

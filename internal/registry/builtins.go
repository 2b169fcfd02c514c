// This file registers all built-in modules during initialization.
package registry

import (
	"fmt"

	"github.com/canectors/keyhash/internal/modules/filter"
	"github.com/canectors/keyhash/internal/modules/input"
	"github.com/canectors/keyhash/internal/modules/output"
	"github.com/canectors/keyhash/pkg/connector"
)

// Built-in record format names, shared by readers and writers.
const (
	FormatJSON     = "json"
	FormatJSONL    = "jsonl"
	FormatYAML     = "yaml"
	FormatCSV      = "csv"
	FormatMsgpack  = "msgpack"
	FormatDatabase = "database"
)

// Built-in filter names.
const (
	FilterCondition = "condition"
	FilterScript    = "script"
)

func init() {
	registerBuiltins()
}

func registerBuiltins() {
	registerBuiltinInputModules()
	registerBuiltinFilterModules()
	registerBuiltinOutputModules()
}

// registerBuiltinInputModules registers all built-in reader types.
func registerBuiltinInputModules() {
	RegisterInput(FormatJSON, func(cfg *connector.ModuleConfig) (input.Module, error) {
		return inputModule(input.NewJSONInputFromConfig(cfg))
	})
	RegisterInput(FormatJSONL, func(cfg *connector.ModuleConfig) (input.Module, error) {
		return inputModule(input.NewJSONLInputFromConfig(cfg))
	})
	RegisterInput(FormatYAML, func(cfg *connector.ModuleConfig) (input.Module, error) {
		return inputModule(input.NewYAMLInputFromConfig(cfg))
	})
	RegisterInput(FormatCSV, func(cfg *connector.ModuleConfig) (input.Module, error) {
		return inputModule(input.NewCSVInputFromConfig(cfg))
	})
	RegisterInput(FormatMsgpack, func(cfg *connector.ModuleConfig) (input.Module, error) {
		return inputModule(input.NewMsgpackInputFromConfig(cfg))
	})

	// database - SQLite query; content is ignored, attributes bind parameters
	RegisterInput(FormatDatabase, func(cfg *connector.ModuleConfig) (input.Module, error) {
		return inputModule(input.NewDatabaseInputFromConfig(cfg))
	})
}

// registerBuiltinFilterModules registers all built-in filter types.
func registerBuiltinFilterModules() {
	// condition - keep or drop records with an expr expression
	RegisterFilter(FilterCondition, func(cfg connector.ModuleConfig, index int) (filter.Module, error) {
		condConfig, err := filter.ParseConditionConfig(cfg.Config)
		if err != nil {
			return nil, fmt.Errorf("invalid condition config at index %d: %w", index, err)
		}
		module, err := filter.NewConditionFromConfig(condConfig)
		if err != nil {
			return nil, fmt.Errorf("invalid condition config at index %d: %w", index, err)
		}
		return module, nil
	})

	// script - JavaScript record transformation using Goja
	RegisterFilter(FilterScript, func(cfg connector.ModuleConfig, index int) (filter.Module, error) {
		scriptConfig, err := filter.ParseScriptConfig(cfg.Config)
		if err != nil {
			return nil, fmt.Errorf("invalid script config at index %d: %w", index, err)
		}
		module, err := filter.NewScriptFromConfig(scriptConfig)
		if err != nil {
			return nil, fmt.Errorf("invalid script config at index %d: %w", index, err)
		}
		return module, nil
	})
}

// registerBuiltinOutputModules registers all built-in writer types.
func registerBuiltinOutputModules() {
	RegisterOutput(FormatJSON, func(cfg *connector.ModuleConfig) (output.Module, error) {
		return outputModule(output.NewJSONOutputFromConfig(cfg))
	})
	RegisterOutput(FormatJSONL, func(cfg *connector.ModuleConfig) (output.Module, error) {
		return outputModule(output.NewJSONLOutputFromConfig(cfg))
	})
	RegisterOutput(FormatYAML, func(cfg *connector.ModuleConfig) (output.Module, error) {
		return outputModule(output.NewYAMLOutputFromConfig(cfg))
	})
	RegisterOutput(FormatCSV, func(cfg *connector.ModuleConfig) (output.Module, error) {
		return outputModule(output.NewCSVOutputFromConfig(cfg))
	})
	RegisterOutput(FormatMsgpack, func(cfg *connector.ModuleConfig) (output.Module, error) {
		return outputModule(output.NewMsgpackOutputFromConfig(cfg))
	})

	// database - inserts records into a SQLite table in one transaction
	RegisterOutput(FormatDatabase, func(cfg *connector.ModuleConfig) (output.Module, error) {
		return outputModule(output.NewDatabaseOutputFromConfig(cfg))
	})
}

// inputModule drops the typed nil a failed constructor returns, so callers
// never see a non-nil interface holding a nil pointer.
func inputModule[T input.Module](m T, err error) (input.Module, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}

func outputModule[T output.Module](m T, err error) (output.Module, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}

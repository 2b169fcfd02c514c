// Package factory provides module creation functions for the pipeline runtime.
// It centralizes the logic for instantiating reader, filter, writer and
// key-hash stages from their configuration using the module registry.
//
// # Module Creation
//
// The factory uses the registry package to look up module constructors by type.
// Built-in modules are registered automatically at startup. Unknown types and
// constructor failures are configuration errors, reported before any unit of
// work is read.
//
// # Adding New Module Types
//
// To add a new module type, see the documentation in internal/registry.
// You do NOT need to modify this factory; just register your constructor.
package factory

import (
	"fmt"

	"github.com/canectors/keyhash/internal/errhandling"
	"github.com/canectors/keyhash/internal/keyhash"
	"github.com/canectors/keyhash/internal/modules/filter"
	"github.com/canectors/keyhash/internal/modules/input"
	"github.com/canectors/keyhash/internal/modules/output"
	"github.com/canectors/keyhash/internal/recordpath"
	"github.com/canectors/keyhash/internal/registry"
	"github.com/canectors/keyhash/pkg/connector"
)

// CreateInputModule creates a reader module instance from configuration.
// Uses the registry to look up the constructor by type.
func CreateInputModule(cfg *connector.ModuleConfig) (input.Module, error) {
	if cfg == nil {
		return nil, errhandling.NewConfigurationError("input module is required", nil)
	}

	constructor := registry.GetInputConstructor(cfg.Type)
	if constructor == nil {
		return nil, unknownType("input", cfg.Type, registry.ListInputTypes())
	}

	module, err := constructor(cfg)
	if err != nil {
		return nil, asConfigurationError(fmt.Sprintf("input module %q", cfg.Type), err)
	}
	return module, nil
}

// CreateFilterModules creates filter module instances from configuration,
// in pipeline order.
func CreateFilterModules(cfgs []connector.ModuleConfig) ([]filter.Module, error) {
	if len(cfgs) == 0 {
		return nil, nil
	}

	modules := make([]filter.Module, 0, len(cfgs))
	for i, cfg := range cfgs {
		module, err := createSingleFilterModule(cfg, i)
		if err != nil {
			return nil, err
		}
		modules = append(modules, module)
	}
	return modules, nil
}

// createSingleFilterModule creates a single filter module based on its type.
func createSingleFilterModule(cfg connector.ModuleConfig, index int) (filter.Module, error) {
	constructor := registry.GetFilterConstructor(cfg.Type)
	if constructor == nil {
		return nil, unknownType(fmt.Sprintf("filters[%d]", index), cfg.Type, registry.ListFilterTypes())
	}

	module, err := constructor(cfg, index)
	if err != nil {
		return nil, asConfigurationError(fmt.Sprintf("filter module %q", cfg.Type), err)
	}
	return module, nil
}

// CreateOutputModule creates a writer module instance from configuration.
// Uses the registry to look up the constructor by type.
func CreateOutputModule(cfg *connector.ModuleConfig) (output.Module, error) {
	if cfg == nil {
		return nil, errhandling.NewConfigurationError("output module is required", nil)
	}

	constructor := registry.GetOutputConstructor(cfg.Type)
	if constructor == nil {
		return nil, unknownType("output", cfg.Type, registry.ListOutputTypes())
	}

	module, err := constructor(cfg)
	if err != nil {
		return nil, asConfigurationError(fmt.Sprintf("output module %q", cfg.Type), err)
	}
	return module, nil
}

// CreateKeyHash builds the transformer and its selections. The hash key must
// already be resolved. Static path selections are compiled into cache, so an
// unsupported algorithm or a bad path fails here.
func CreateKeyHash(cfg *connector.KeyHashConfig, cache *recordpath.Cache) (*keyhash.Transformer, []keyhash.Selection, error) {
	if cfg == nil {
		return nil, nil, errhandling.NewConfigurationError("keyHash section is required", nil)
	}

	transformer, err := keyhash.NewTransformer(keyhash.ConfigFrom(cfg), cache)
	if err != nil {
		return nil, nil, err
	}
	selections, err := keyhash.SelectionsFromConfig(cfg.Properties)
	if err != nil {
		return nil, nil, err
	}
	if err := transformer.Precompile(selections); err != nil {
		return nil, nil, err
	}
	return transformer, selections, nil
}

func unknownType(stage, moduleType string, known []string) error {
	return errhandling.NewConfigurationError(
		fmt.Sprintf("%s: unknown module type %q (available: %v)", stage, moduleType, known), nil)
}

// asConfigurationError keeps configuration-time categories and classifies
// everything else as a configuration error.
func asConfigurationError(message string, err error) error {
	if errhandling.IsConfigurationTime(err) {
		return err
	}
	return errhandling.NewConfigurationError(message, err)
}

// Package config provides functionality for parsing and validating
// pipeline configuration files (JSON/YAML).
//
// Loading runs in four steps: parse, schema validation against the embedded
// JSON Schema, conversion to a connector.Pipeline, then semantic validation
// (module types registered, algorithm supported, static paths compile).
// The hash key is resolved separately so a configuration can be validated
// without access to the secret.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/canectors/keyhash/internal/errhandling"
	"github.com/canectors/keyhash/internal/keyhash"
	"github.com/canectors/keyhash/internal/recordpath"
	"github.com/canectors/keyhash/internal/registry"
	"github.com/canectors/keyhash/pkg/connector"
)

var (
	// ErrParse is returned when the configuration file cannot be read or parsed.
	ErrParse = errors.New("configuration parse failed")

	// ErrInvalid is returned when the configuration fails schema or semantic validation.
	ErrInvalid = errors.New("configuration invalid")
)

// LookupFunc resolves an environment reference. It has the signature of os.LookupEnv.
type LookupFunc func(name string) (string, bool)

// Loader loads pipeline configurations from files.
type Loader struct {
	lookup LookupFunc
}

// NewLoader creates a loader. A nil lookup resolves hashKeyRef from the
// process environment.
func NewLoader(lookup LookupFunc) *Loader {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Loader{lookup: lookup}
}

// Load parses and validates a configuration file and converts it to a
// Pipeline. The returned Result carries every parse and validation error for
// reporting; the error wraps ErrParse or ErrInvalid.
func (l *Loader) Load(path string) (*connector.Pipeline, *Result, error) {
	result := ParseConfig(path)
	if len(result.ParseErrors) > 0 {
		return nil, result, errhandling.NewConfigurationError(path,
			fmt.Errorf("%w: %w", ErrParse, joinErrors(result.ParseErrors)))
	}
	if len(result.ValidationErrors) > 0 {
		return nil, result, invalid(path, result.ValidationErrors)
	}

	pipeline, err := ConvertToPipeline(result.Data)
	if err != nil {
		result.ValidationErrors = append(result.ValidationErrors, ValidationError{
			Path:    "/connector",
			Type:    ErrorTypeSemantic,
			Message: err.Error(),
		})
		return nil, result, invalid(path, result.ValidationErrors)
	}

	if errs := ValidatePipeline(pipeline); len(errs) > 0 {
		result.ValidationErrors = append(result.ValidationErrors, errs...)
		return nil, result, invalid(path, result.ValidationErrors)
	}
	return pipeline, result, nil
}

// ResolveHashKey fills KeyHash.HashKey from the environment reference when
// no literal key is configured.
func (l *Loader) ResolveHashKey(pipeline *connector.Pipeline) error {
	if pipeline == nil || pipeline.KeyHash == nil {
		return errhandling.NewConfigurationError("keyHash section is missing", nil)
	}
	kh := pipeline.KeyHash
	if kh.HashKey != "" {
		return nil
	}
	if kh.HashKeyRef == "" {
		return errhandling.NewConfigurationError("hashKey or hashKeyRef is required", nil)
	}

	value, ok := l.lookup(kh.HashKeyRef)
	if !ok || value == "" {
		return errhandling.NewConfigurationError(
			fmt.Sprintf("environment variable %s referenced by hashKeyRef is not set", kh.HashKeyRef), nil)
	}
	kh.HashKey = value
	return nil
}

// validationKey stands in for an unresolved hash key while checking the rest
// of the key-hash settings.
const validationKey = "validation-key"

// ValidatePipeline performs the semantic checks the schema cannot express.
func ValidatePipeline(pipeline *connector.Pipeline) []ValidationError {
	if pipeline == nil {
		return []ValidationError{{Path: "/", Type: ErrorTypeSemantic, Message: "pipeline is nil"}}
	}

	var errs []ValidationError
	add := func(path, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Path: path, Type: ErrorTypeSemantic, Message: fmt.Sprintf(format, args...)})
	}

	if pipeline.Input == nil || registry.GetInputConstructor(pipeline.Input.Type) == nil {
		add("/connector/input/type", "unknown input type %q (available: %s)",
			moduleType(pipeline.Input), strings.Join(registry.ListInputTypes(), ", "))
	}
	for i, f := range pipeline.Filters {
		if registry.GetFilterConstructor(f.Type) == nil {
			add(fmt.Sprintf("/connector/filters/%d/type", i), "unknown filter type %q (available: %s)",
				f.Type, strings.Join(registry.ListFilterTypes(), ", "))
		}
	}
	if pipeline.Output == nil || registry.GetOutputConstructor(pipeline.Output.Type) == nil {
		add("/connector/output/type", "unknown output type %q (available: %s)",
			moduleType(pipeline.Output), strings.Join(registry.ListOutputTypes(), ", "))
	}

	if pipeline.KeyHash == nil {
		add("/connector/keyHash", "keyHash section is required")
		return errs
	}
	errs = append(errs, validateKeyHash(pipeline.KeyHash)...)

	if r := pipeline.Routing; r != nil && r.Success != "" && r.Success == r.Failure {
		add("/connector/routing", "success and failure must be different directories")
	}
	return errs
}

func validateKeyHash(kh *connector.KeyHashConfig) []ValidationError {
	var errs []ValidationError
	add := func(path string, err error) {
		errs = append(errs, ValidationError{Path: path, Type: ErrorTypeSemantic, Message: err.Error()})
	}

	cfg := keyhash.ConfigFrom(kh)
	switch {
	case cfg.Key == "" && kh.HashKeyRef == "":
		add("/connector/keyHash", errors.New("hashKey or hashKeyRef is required"))
		cfg.Key = validationKey
	case cfg.Key == "":
		cfg.Key = validationKey
	}
	if _, err := keyhash.NewTransformer(cfg, nil); err != nil {
		add("/connector/keyHash", err)
	}

	selections, err := keyhash.SelectionsFromConfig(kh.Properties)
	if err != nil {
		add("/connector/keyHash/properties", err)
		return errs
	}
	for i, s := range selections {
		if s.Value.Kind != keyhash.KindPath || !s.Value.IsStatic() {
			continue
		}
		if _, err := recordpath.Compile(s.Value.Text); err != nil {
			add(fmt.Sprintf("/connector/keyHash/properties/%d/value", i), err)
		}
	}
	return errs
}

func moduleType(m *connector.ModuleConfig) string {
	if m == nil {
		return ""
	}
	return m.Type
}

func invalid(path string, errs []ValidationError) error {
	return errhandling.NewConfigurationError(path, fmt.Errorf("%w: %w", ErrInvalid, joinErrors(errs)))
}

func joinErrors[E error](errs []E) error {
	joined := make([]error, len(errs))
	for i, e := range errs {
		joined[i] = e
	}
	return errors.Join(joined...)
}

package config

import (
	"fmt"
	"math"
	"time"

	"github.com/canectors/keyhash/pkg/connector"
)

// ConvertToPipeline converts a schema-valid configuration document to a
// Pipeline. The hash key is not resolved here; see ResolveHashKey.
//
// The document is expected to have this structure:
//
//	{
//	  "schemaVersion": "1.0.0",
//	  "connector": {
//	    "name": "...",
//	    "version": "...",
//	    "input": {...},
//	    "filters": [...],
//	    "keyHash": {...},
//	    "output": {...},
//	    "routing": {...}
//	  }
//	}
func ConvertToPipeline(data map[string]interface{}) (*connector.Pipeline, error) {
	if data == nil {
		return nil, fmt.Errorf("configuration data is nil")
	}

	connectorData, ok := data["connector"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'connector' section")
	}

	pipeline := &connector.Pipeline{CreatedAt: time.Now()}

	name, ok := connectorData["name"].(string)
	if !ok {
		return nil, fmt.Errorf("missing required field 'connector.name'")
	}
	pipeline.Name = name
	pipeline.ID = name

	version, ok := connectorData["version"].(string)
	if !ok {
		return nil, fmt.Errorf("missing required field 'connector.version'")
	}
	pipeline.Version = version

	if description, okDesc := connectorData["description"].(string); okDesc {
		pipeline.Description = description
	}
	if id, okID := connectorData["id"].(string); okID && id != "" {
		pipeline.ID = id
	}
	if raw, okWorkers := connectorData["workers"]; okWorkers {
		workers, err := toInt(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid 'connector.workers': %w", err)
		}
		pipeline.Workers = workers
	}

	inputData, ok := connectorData["input"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'connector.input' section")
	}
	inputConfig, err := convertModuleConfig(inputData)
	if err != nil {
		return nil, fmt.Errorf("invalid input config: %w", err)
	}
	pipeline.Input = inputConfig

	if filtersData, okFilters := connectorData["filters"].([]interface{}); okFilters {
		for i, filterData := range filtersData {
			filterMap, isMap := filterData.(map[string]interface{})
			if !isMap {
				return nil, fmt.Errorf("invalid filter at index %d", i)
			}
			filterConfig, convertErr := convertModuleConfig(filterMap)
			if convertErr != nil {
				return nil, fmt.Errorf("invalid filter at index %d: %w", i, convertErr)
			}
			pipeline.Filters = append(pipeline.Filters, *filterConfig)
		}
	}

	keyHashData, ok := connectorData["keyHash"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'connector.keyHash' section")
	}
	keyHash, err := convertKeyHashConfig(keyHashData)
	if err != nil {
		return nil, fmt.Errorf("invalid keyHash config: %w", err)
	}
	pipeline.KeyHash = keyHash

	outputData, ok := connectorData["output"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'connector.output' section")
	}
	outputConfig, err := convertModuleConfig(outputData)
	if err != nil {
		return nil, fmt.Errorf("invalid output config: %w", err)
	}
	pipeline.Output = outputConfig

	if routingData, okRouting := connectorData["routing"].(map[string]interface{}); okRouting {
		pipeline.Routing = &connector.RoutingConfig{
			Success: stringField(routingData, "success"),
			Failure: stringField(routingData, "failure"),
		}
	}

	return pipeline, nil
}

// convertModuleConfig converts a raw module map: "type" is lifted out and every
// other key becomes module configuration.
func convertModuleConfig(data map[string]interface{}) (*connector.ModuleConfig, error) {
	moduleType, ok := data["type"].(string)
	if !ok || moduleType == "" {
		return nil, fmt.Errorf("missing required field 'type'")
	}

	moduleConfig := &connector.ModuleConfig{
		Type:   moduleType,
		Config: make(map[string]interface{}, len(data)),
	}
	for key, value := range data {
		if key != "type" {
			moduleConfig.Config[key] = value
		}
	}
	return moduleConfig, nil
}

func convertKeyHashConfig(data map[string]interface{}) (*connector.KeyHashConfig, error) {
	kh := &connector.KeyHashConfig{
		HashKey:       stringField(data, "hashKey"),
		HashKeyRef:    stringField(data, "hashKeyRef"),
		HashName:      stringField(data, "hashName"),
		PlaintextName: stringField(data, "plaintextName"),
		HashAlgorithm: stringField(data, "hashAlgorithm"),
		Normalization: stringField(data, "normalization"),
	}

	props, ok := data["properties"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'properties'")
	}
	for i, raw := range props {
		prop, isMap := raw.(map[string]interface{})
		if !isMap {
			return nil, fmt.Errorf("invalid property at index %d", i)
		}
		name, okName := prop["name"].(string)
		value, okValue := prop["value"].(string)
		if !okName || !okValue {
			return nil, fmt.Errorf("property at index %d: 'name' and 'value' must be strings", i)
		}
		kh.Properties = append(kh.Properties, connector.PropertyConfig{
			Name:      name,
			Value:     value,
			ValueType: stringField(prop, "valueType"),
		})
	}
	return kh, nil
}

func stringField(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}

// toInt accepts JSON (float64) and YAML (int) numbers.
func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

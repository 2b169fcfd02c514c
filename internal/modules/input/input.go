// Package input provides implementations for input modules.
// Input modules are record readers: they turn the content of one unit of work
// into a stream of records.
package input

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/canectors/keyhash/internal/errhandling"
	"github.com/canectors/keyhash/pkg/connector"
)

// ErrNilConfig is returned when a constructor receives a nil configuration.
var ErrNilConfig = errors.New("input module configuration is nil")

// Source is the input of one unit of work.
type Source struct {
	// Content is the raw record data
	Content io.Reader
	// Attributes are the unit-of-work attributes (filename, mime.type, ...)
	Attributes map[string]string
}

// Reader yields the records of one unit of work in order.
type Reader interface {
	// Schema describes the records. It may be empty until the first record is read.
	Schema() connector.Schema
	// Next returns the next record, or io.EOF at end of stream.
	// Parse failures are malformed_input errors.
	Next(ctx context.Context) (map[string]interface{}, error)
	// Close releases any resources held by the reader.
	Close() error
}

// Module represents a configured reader type. It is built once per pipeline
// and opens one Reader per unit of work.
type Module interface {
	// Open starts reading src. The context can cancel long-running setup.
	Open(ctx context.Context, src Source) (Reader, error)
	// Close releases any resources held by the module.
	Close() error
}

// asRecord converts a decoded value into a record.
func asRecord(v interface{}, position string) (map[string]interface{}, error) {
	switch m := normalizeValue(v).(type) {
	case map[string]interface{}:
		return m, nil
	default:
		return nil, errhandling.NewMalformedInputError(
			fmt.Sprintf("%s: expected an object, got %T", position, v), nil)
	}
}

// normalizeValue converts maps with non-string keys, as produced by the YAML
// and msgpack decoders, into map[string]interface{}.
func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, item := range val {
			m[fmt.Sprint(k)] = normalizeValue(item)
		}
		return m
	case map[string]interface{}:
		for k, item := range val {
			val[k] = normalizeValue(item)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = normalizeValue(item)
		}
		return val
	default:
		return v
	}
}

// inferSchema derives a schema from one record, with fields in name order.
func inferSchema(record map[string]interface{}) connector.Schema {
	names := make([]string, 0, len(record))
	for name := range record {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]connector.SchemaField, len(names))
	for i, name := range names {
		fields[i] = connector.SchemaField{Name: name, Type: fieldType(record[name])}
	}
	return connector.Schema{Fields: fields}
}

func fieldType(v interface{}) connector.FieldType {
	switch v.(type) {
	case string, time.Time:
		return connector.FieldTypeString
	case bool:
		return connector.FieldTypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return connector.FieldTypeNumber
	case map[string]interface{}:
		return connector.FieldTypeRecord
	case []interface{}:
		return connector.FieldTypeArray
	default:
		return connector.FieldTypeAny
	}
}

// checkContext returns the context error, if any.
func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// sliceReader serves records that were decoded up front.
type sliceReader struct {
	records []map[string]interface{}
	pos     int
	schema  connector.Schema
}

func newSliceReader(records []map[string]interface{}) *sliceReader {
	r := &sliceReader{records: records}
	if len(records) > 0 {
		r.schema = inferSchema(records[0])
	}
	return r
}

func (r *sliceReader) Schema() connector.Schema {
	return r.schema
}

func (r *sliceReader) Next(ctx context.Context) (map[string]interface{}, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if r.pos >= len(r.records) {
		return nil, io.EOF
	}
	record := r.records[r.pos]
	r.pos++
	return record, nil
}

func (r *sliceReader) Close() error {
	r.records = nil
	return nil
}

// stringOption returns a string configuration value.
func stringOption(cfg map[string]interface{}, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

// boolOption returns a boolean configuration value or def when unset.
func boolOption(cfg map[string]interface{}, key string, def bool) bool {
	if v, ok := cfg[key].(bool); ok {
		return v
	}
	return def
}

// intOption returns an integer configuration value. JSON configuration
// decodes numbers as float64, YAML as int.
func intOption(cfg map[string]interface{}, key string) int {
	switch v := cfg[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

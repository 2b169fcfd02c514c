// Package output provides implementations for output modules.
// Output modules are record writers: they serialize the derived records of one
// unit of work.
package output

import (
	"context"
	"errors"
	"io"
	"sort"

	"github.com/canectors/keyhash/pkg/connector"
)

// MIME types reported by the built-in writers.
const (
	MimeTypeJSON    = "application/json"
	MimeTypeJSONL   = "application/x-ndjson"
	MimeTypeYAML    = "application/yaml"
	MimeTypeCSV     = "text/csv"
	MimeTypeMsgpack = "application/x-msgpack"
)

// Errors shared by the writers.
var (
	ErrNilConfig       = errors.New("output module configuration is nil")
	ErrNotBegun        = errors.New("writer used before Begin")
	ErrAlreadyFinished = errors.New("writer already finished or aborted")
)

// Destination is where one unit of work writes its output.
type Destination struct {
	// Content receives the serialized records
	Content io.Writer
	// Attributes are the unit-of-work attributes
	Attributes map[string]string
}

// WriteResult summarizes a finished write.
type WriteResult struct {
	// RecordCount is the number of records written
	RecordCount int
	// Attributes are writer-specific attributes added to the output
	Attributes map[string]string
}

// Writer serializes the records of one unit of work.
type Writer interface {
	// Begin starts the output with the record schema.
	Begin(schema connector.Schema) error
	// Write appends one record.
	Write(record map[string]interface{}) error
	// Finish completes the output.
	Finish() (WriteResult, error)
	// Abort discards the output. Safe to call after a failed Write.
	Abort() error
	// MimeType is the content type of the output; empty when the writer
	// produces no content.
	MimeType() string
}

// Module represents a configured writer type. It is built once per pipeline
// and opens one Writer per unit of work.
type Module interface {
	// Open creates a writer for dst.
	Open(ctx context.Context, dst Destination) (Writer, error)
	// Close releases any resources held by the module.
	Close() error
}

// orderedKeys returns the schema field names followed by any other record keys
// in name order.
func orderedKeys(schema []string, record map[string]interface{}) []string {
	keys := make([]string, 0, len(record))
	seen := make(map[string]bool, len(schema))
	for _, name := range schema {
		if _, ok := record[name]; ok {
			keys = append(keys, name)
			seen[name] = true
		}
	}

	var extra []string
	for name := range record {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}

// writerState tracks the Begin/Finish/Abort lifecycle shared by the writers.
type writerState struct {
	begun  bool
	closed bool
	count  int
	fields []string
}

func (s *writerState) begin(schema connector.Schema) error {
	if s.closed {
		return ErrAlreadyFinished
	}
	s.begun = true
	s.fields = schema.FieldNames()
	return nil
}

func (s *writerState) check() error {
	if s.closed {
		return ErrAlreadyFinished
	}
	if !s.begun {
		return ErrNotBegun
	}
	return nil
}

func (s *writerState) finish() error {
	if err := s.check(); err != nil {
		return err
	}
	s.closed = true
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

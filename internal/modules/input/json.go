package input

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/ohler55/ojg/oj"

	"github.com/canectors/keyhash/internal/errhandling"
	"github.com/canectors/keyhash/pkg/connector"
)

// JSONInput reads a JSON document holding one object or an array of objects.
// Empty content yields no records.
type JSONInput struct{}

// NewJSONInputFromConfig creates a JSON reader module.
func NewJSONInputFromConfig(cfg *connector.ModuleConfig) (*JSONInput, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	return &JSONInput{}, nil
}

// Open parses the whole document.
func (m *JSONInput) Open(_ context.Context, src Source) (Reader, error) {
	data, err := io.ReadAll(src.Content)
	if err != nil {
		return nil, errhandling.NewMalformedInputError("reading JSON content", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return newSliceReader(nil), nil
	}

	doc, err := oj.Parse(data)
	if err != nil {
		return nil, errhandling.NewMalformedInputError("parsing JSON content", err)
	}

	records, err := recordsFromDocument(doc)
	if err != nil {
		return nil, err
	}
	return newSliceReader(records), nil
}

// Close is a no-op.
func (m *JSONInput) Close() error {
	return nil
}

// recordsFromDocument accepts a single object or an array of objects.
func recordsFromDocument(doc interface{}) ([]map[string]interface{}, error) {
	if items, ok := doc.([]interface{}); ok {
		records := make([]map[string]interface{}, 0, len(items))
		for i, item := range items {
			record, err := asRecord(item, fmt.Sprintf("record %d", i+1))
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		}
		return records, nil
	}

	record, err := asRecord(doc, "document")
	if err != nil {
		return nil, err
	}
	return []map[string]interface{}{record}, nil
}

var _ Module = (*JSONInput)(nil)

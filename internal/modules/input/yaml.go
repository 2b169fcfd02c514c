package input

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/canectors/keyhash/internal/errhandling"
	"github.com/canectors/keyhash/pkg/connector"
)

// YAMLInput reads YAML documents. Each document is a mapping (one record) or
// a sequence of mappings. Multi-document streams are read in order.
type YAMLInput struct{}

// NewYAMLInputFromConfig creates a YAML reader module.
func NewYAMLInputFromConfig(cfg *connector.ModuleConfig) (*YAMLInput, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	return &YAMLInput{}, nil
}

// Open starts decoding src document by document.
func (m *YAMLInput) Open(_ context.Context, src Source) (Reader, error) {
	return &yamlReader{decoder: yaml.NewDecoder(src.Content)}, nil
}

// Close is a no-op.
func (m *YAMLInput) Close() error {
	return nil
}

type yamlReader struct {
	decoder *yaml.Decoder
	pending []map[string]interface{}
	doc     int
	schema  connector.Schema
	done    bool
}

func (r *yamlReader) Schema() connector.Schema {
	return r.schema
}

func (r *yamlReader) Next(ctx context.Context) (map[string]interface{}, error) {
	for len(r.pending) == 0 {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}
		if r.done {
			return nil, io.EOF
		}
		if err := r.decodeDocument(); err != nil {
			return nil, err
		}
	}

	record := r.pending[0]
	r.pending = r.pending[1:]
	if r.schema.Fields == nil {
		r.schema = inferSchema(record)
	}
	return record, nil
}

func (r *yamlReader) decodeDocument() error {
	var doc interface{}
	err := r.decoder.Decode(&doc)
	if errors.Is(err, io.EOF) {
		r.done = true
		return nil
	}
	r.doc++
	if err != nil {
		return errhandling.NewMalformedInputError(fmt.Sprintf("YAML document %d", r.doc), err)
	}
	if doc == nil {
		return nil
	}

	if items, ok := doc.([]interface{}); ok {
		for i, item := range items {
			record, recErr := asRecord(item, fmt.Sprintf("YAML document %d item %d", r.doc, i+1))
			if recErr != nil {
				return recErr
			}
			r.pending = append(r.pending, record)
		}
		return nil
	}

	record, err := asRecord(doc, fmt.Sprintf("YAML document %d", r.doc))
	if err != nil {
		return err
	}
	r.pending = append(r.pending, record)
	return nil
}

func (r *yamlReader) Close() error {
	r.pending = nil
	return nil
}

var _ Module = (*YAMLInput)(nil)

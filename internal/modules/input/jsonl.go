package input

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/ohler55/ojg/oj"

	"github.com/canectors/keyhash/internal/errhandling"
	"github.com/canectors/keyhash/pkg/connector"
)

const (
	defaultMaxLineBytes = 1024 * 1024
	initialLineBuffer   = 64 * 1024
)

// JSONLInput reads newline-delimited JSON objects. Blank lines are ignored.
type JSONLInput struct {
	maxLineBytes int
}

// NewJSONLInputFromConfig creates a JSON Lines reader module.
// Config: maxLineBytes (default 1 MiB).
func NewJSONLInputFromConfig(cfg *connector.ModuleConfig) (*JSONLInput, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	maxLine := intOption(cfg.Config, "maxLineBytes")
	if maxLine <= 0 {
		maxLine = defaultMaxLineBytes
	}
	return &JSONLInput{maxLineBytes: maxLine}, nil
}

// Open starts scanning src line by line.
func (m *JSONLInput) Open(_ context.Context, src Source) (Reader, error) {
	scanner := bufio.NewScanner(src.Content)
	scanner.Buffer(make([]byte, 0, min(initialLineBuffer, m.maxLineBytes)), m.maxLineBytes)
	return &jsonlReader{scanner: scanner}, nil
}

// Close is a no-op.
func (m *JSONLInput) Close() error {
	return nil
}

type jsonlReader struct {
	scanner *bufio.Scanner
	line    int
	schema  connector.Schema
}

func (r *jsonlReader) Schema() connector.Schema {
	return r.schema
}

func (r *jsonlReader) Next(ctx context.Context) (map[string]interface{}, error) {
	for {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return nil, errhandling.NewMalformedInputError(fmt.Sprintf("line %d", r.line+1), err)
			}
			return nil, io.EOF
		}
		r.line++

		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		doc, err := oj.Parse(line)
		if err != nil {
			return nil, errhandling.NewMalformedInputError(fmt.Sprintf("line %d", r.line), err)
		}
		record, err := asRecord(doc, fmt.Sprintf("line %d", r.line))
		if err != nil {
			return nil, err
		}
		if r.schema.Fields == nil {
			r.schema = inferSchema(record)
		}
		return record, nil
	}
}

func (r *jsonlReader) Close() error {
	return nil
}

var _ Module = (*JSONLInput)(nil)

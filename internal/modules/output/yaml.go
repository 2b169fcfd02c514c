package output

import (
	"context"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/canectors/keyhash/internal/errhandling"
	"github.com/canectors/keyhash/pkg/connector"
)

// YAMLOutput writes records as a single YAML sequence of mappings.
// Fields follow the schema order.
type YAMLOutput struct {
	indent int
}

// NewYAMLOutputFromConfig creates a YAML writer module.
func NewYAMLOutputFromConfig(cfg *connector.ModuleConfig) (*YAMLOutput, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	return &YAMLOutput{indent: 2}, nil
}

// Open creates a writer over dst.
func (m *YAMLOutput) Open(_ context.Context, dst Destination) (Writer, error) {
	return &yamlWriter{w: dst.Content, indent: m.indent}, nil
}

// Close is a no-op.
func (m *YAMLOutput) Close() error {
	return nil
}

type yamlWriter struct {
	writerState
	w      io.Writer
	indent int
	seq    yaml.Node
}

func (y *yamlWriter) MimeType() string {
	return MimeTypeYAML
}

func (y *yamlWriter) Begin(schema connector.Schema) error {
	if err := y.begin(schema); err != nil {
		return errhandling.NewWriteError("begin", err)
	}
	y.seq = yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	return nil
}

func (y *yamlWriter) Write(record map[string]interface{}) error {
	if err := y.check(); err != nil {
		return errhandling.NewWriteError("write", err)
	}

	mapping := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, key := range orderedKeys(y.fields, record) {
		value := &yaml.Node{}
		if err := value.Encode(record[key]); err != nil {
			return errhandling.NewWriteError("encoding field "+key, err)
		}
		mapping.Content = append(mapping.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
			value,
		)
	}
	y.seq.Content = append(y.seq.Content, mapping)
	y.count++
	return nil
}

func (y *yamlWriter) Finish() (WriteResult, error) {
	if err := y.finish(); err != nil {
		return WriteResult{}, errhandling.NewWriteError("finish", err)
	}

	enc := yaml.NewEncoder(y.w)
	enc.SetIndent(y.indent)
	if err := enc.Encode(&y.seq); err != nil {
		return WriteResult{}, errhandling.NewWriteError("encoding YAML", err)
	}
	if err := enc.Close(); err != nil {
		return WriteResult{}, errhandling.NewWriteError("flush", err)
	}
	return WriteResult{RecordCount: y.count}, nil
}

func (y *yamlWriter) Abort() error {
	y.closed = true
	y.seq = yaml.Node{}
	return nil
}

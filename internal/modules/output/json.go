package output

import (
	"bufio"
	"context"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"

	"github.com/canectors/keyhash/internal/errhandling"
	"github.com/canectors/keyhash/pkg/connector"
)

var jsonOptions = &ojg.Options{Sort: true}

// JSONOutput writes records as a JSON array, or as JSON Lines when lines is set.
// Fields follow the schema order.
type JSONOutput struct {
	lines bool
}

// NewJSONOutputFromConfig creates a JSON array writer module.
func NewJSONOutputFromConfig(cfg *connector.ModuleConfig) (*JSONOutput, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	return &JSONOutput{}, nil
}

// NewJSONLOutputFromConfig creates a JSON Lines writer module.
func NewJSONLOutputFromConfig(cfg *connector.ModuleConfig) (*JSONOutput, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	return &JSONOutput{lines: true}, nil
}

// Open creates a writer over dst.
func (m *JSONOutput) Open(_ context.Context, dst Destination) (Writer, error) {
	return &jsonWriter{w: bufio.NewWriter(dst.Content), lines: m.lines}, nil
}

// Close is a no-op.
func (m *JSONOutput) Close() error {
	return nil
}

type jsonWriter struct {
	writerState
	w     *bufio.Writer
	lines bool
}

func (j *jsonWriter) MimeType() string {
	if j.lines {
		return MimeTypeJSONL
	}
	return MimeTypeJSON
}

func (j *jsonWriter) Begin(schema connector.Schema) error {
	if err := j.begin(schema); err != nil {
		return errhandling.NewWriteError("begin", err)
	}
	if !j.lines {
		if err := j.w.WriteByte('['); err != nil {
			return errhandling.NewWriteError("begin", err)
		}
	}
	return nil
}

func (j *jsonWriter) Write(record map[string]interface{}) error {
	if err := j.check(); err != nil {
		return errhandling.NewWriteError("write", err)
	}

	if !j.lines && j.count > 0 {
		if err := j.w.WriteByte(','); err != nil {
			return errhandling.NewWriteError("write", err)
		}
	}
	if _, err := j.w.Write(encodeJSONRecord(j.fields, record)); err != nil {
		return errhandling.NewWriteError("write", err)
	}
	if j.lines {
		if err := j.w.WriteByte('\n'); err != nil {
			return errhandling.NewWriteError("write", err)
		}
	}
	j.count++
	return nil
}

func (j *jsonWriter) Finish() (WriteResult, error) {
	if err := j.finish(); err != nil {
		return WriteResult{}, errhandling.NewWriteError("finish", err)
	}
	if !j.lines {
		if err := j.w.WriteByte(']'); err != nil {
			return WriteResult{}, errhandling.NewWriteError("finish", err)
		}
	}
	if err := j.w.Flush(); err != nil {
		return WriteResult{}, errhandling.NewWriteError("flush", err)
	}
	return WriteResult{RecordCount: j.count}, nil
}

func (j *jsonWriter) Abort() error {
	j.closed = true
	j.w.Reset(nil)
	return nil
}

// encodeJSONRecord renders one record as a JSON object with keys in
// orderedKeys order.
func encodeJSONRecord(fields []string, record map[string]interface{}) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, '{')
	for i, key := range orderedKeys(fields, record) {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, oj.JSON(key, jsonOptions)...)
		buf = append(buf, ':')
		buf = append(buf, oj.JSON(record[key], jsonOptions)...)
	}
	return append(buf, '}')
}

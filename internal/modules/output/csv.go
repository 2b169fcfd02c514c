package output

import (
	"context"
	"encoding/csv"
	"fmt"
	"unicode/utf8"

	"github.com/canectors/keyhash/internal/errhandling"
	"github.com/canectors/keyhash/internal/recordpath"
	"github.com/canectors/keyhash/pkg/connector"
)

// CSVOutput writes records as delimited text. The header row comes from the
// schema; values are rendered as strings.
type CSVOutput struct {
	delimiter rune
	header    bool
}

// NewCSVOutputFromConfig creates a CSV writer module.
// Config: delimiter (default ","), header (default true).
func NewCSVOutputFromConfig(cfg *connector.ModuleConfig) (*CSVOutput, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	m := &CSVOutput{delimiter: ',', header: boolOption(cfg.Config, "header", true)}
	if d := stringOption(cfg.Config, "delimiter"); d != "" {
		r, size := utf8.DecodeRuneInString(d)
		if size != len(d) || r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
			return nil, errhandling.NewConfigurationError(fmt.Sprintf("invalid csv delimiter %q", d), nil)
		}
		m.delimiter = r
	}
	return m, nil
}

// Open creates a writer over dst.
func (m *CSVOutput) Open(_ context.Context, dst Destination) (Writer, error) {
	w := csv.NewWriter(dst.Content)
	w.Comma = m.delimiter
	return &csvWriter{w: w, header: m.header}, nil
}

// Close is a no-op.
func (m *CSVOutput) Close() error {
	return nil
}

type csvWriter struct {
	writerState
	w      *csv.Writer
	header bool
}

func (c *csvWriter) MimeType() string {
	return MimeTypeCSV
}

func (c *csvWriter) Begin(schema connector.Schema) error {
	if err := c.begin(schema); err != nil {
		return errhandling.NewWriteError("begin", err)
	}
	if len(c.fields) == 0 {
		return errhandling.NewWriteError("begin", fmt.Errorf("csv output requires a schema"))
	}
	if c.header {
		if err := c.w.Write(c.fields); err != nil {
			return errhandling.NewWriteError("writing header", err)
		}
	}
	return nil
}

func (c *csvWriter) Write(record map[string]interface{}) error {
	if err := c.check(); err != nil {
		return errhandling.NewWriteError("write", err)
	}

	row := make([]string, len(c.fields))
	for i, name := range c.fields {
		s, _, err := recordpath.StringValue(record[name])
		if err != nil {
			return errhandling.NewWriteError(fmt.Sprintf("field %q", name), err)
		}
		row[i] = s
	}
	if err := c.w.Write(row); err != nil {
		return errhandling.NewWriteError("write", err)
	}
	c.count++
	return nil
}

func (c *csvWriter) Finish() (WriteResult, error) {
	if err := c.finish(); err != nil {
		return WriteResult{}, errhandling.NewWriteError("finish", err)
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return WriteResult{}, errhandling.NewWriteError("flush", err)
	}
	return WriteResult{RecordCount: c.count}, nil
}

func (c *csvWriter) Abort() error {
	c.closed = true
	return nil
}

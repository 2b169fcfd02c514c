package input

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/canectors/keyhash/internal/errhandling"
	"github.com/canectors/keyhash/pkg/connector"
)

// CSVInputConfig holds configuration for the CSV reader.
type CSVInputConfig struct {
	// Delimiter is the field separator (default ",")
	Delimiter rune
	// Header reports whether the first row names the columns (default true).
	// Without a header, columns are named column1, column2, ...
	Header bool
	// TrimSpace trims leading and trailing whitespace of every value
	TrimSpace bool
}

// CSVInput reads delimited text. Every value is a string.
type CSVInput struct {
	config CSVInputConfig
}

// NewCSVInputFromConfig creates a CSV reader module.
func NewCSVInputFromConfig(cfg *connector.ModuleConfig) (*CSVInput, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	config := CSVInputConfig{
		Delimiter: ',',
		Header:    boolOption(cfg.Config, "header", true),
		TrimSpace: boolOption(cfg.Config, "trimSpace", false),
	}
	if d := stringOption(cfg.Config, "delimiter"); d != "" {
		r, size := utf8.DecodeRuneInString(d)
		if size != len(d) || r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
			return nil, errhandling.NewConfigurationError(fmt.Sprintf("invalid csv delimiter %q", d), nil)
		}
		config.Delimiter = r
	}
	return &CSVInput{config: config}, nil
}

// Open reads the header row, if any, so the schema is known up front.
func (m *CSVInput) Open(_ context.Context, src Source) (Reader, error) {
	cr := csv.NewReader(src.Content)
	cr.Comma = m.config.Delimiter
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	r := &csvReader{reader: cr, trim: m.config.TrimSpace}
	if !m.config.Header {
		return r, nil
	}

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return r, nil
	}
	if err != nil {
		return nil, errhandling.NewMalformedInputError("reading CSV header", err)
	}
	r.row = 1
	seen := make(map[string]bool, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if name == "" {
			name = fmt.Sprintf("column%d", i+1)
		}
		if seen[name] {
			return nil, errhandling.NewMalformedInputError(fmt.Sprintf("CSV header: duplicate column %q", name), nil)
		}
		seen[name] = true
		header[i] = name
	}
	r.columns = header
	return r, nil
}

// Close is a no-op.
func (m *CSVInput) Close() error {
	return nil
}

type csvReader struct {
	reader  *csv.Reader
	columns []string
	row     int
	trim    bool
}

func (r *csvReader) Schema() connector.Schema {
	fields := make([]connector.SchemaField, len(r.columns))
	for i, name := range r.columns {
		fields[i] = connector.SchemaField{Name: name, Type: connector.FieldTypeString}
	}
	return connector.Schema{Fields: fields}
}

func (r *csvReader) Next(ctx context.Context) (map[string]interface{}, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	row, err := r.reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	r.row++
	if err != nil {
		return nil, errhandling.NewMalformedInputError(fmt.Sprintf("CSV row %d", r.row), err)
	}

	if r.columns == nil {
		for i := range row {
			r.columns = append(r.columns, fmt.Sprintf("column%d", i+1))
		}
	}
	if len(row) > len(r.columns) {
		return nil, errhandling.NewMalformedInputError(
			fmt.Sprintf("CSV row %d: %d fields, header has %d", r.row, len(row), len(r.columns)), nil)
	}

	record := make(map[string]interface{}, len(r.columns))
	for i, name := range r.columns {
		if i >= len(row) {
			record[name] = nil
			continue
		}
		value := row[i]
		if r.trim {
			value = strings.TrimSpace(value)
		}
		record[name] = value
	}
	return record, nil
}

func (r *csvReader) Close() error {
	return nil
}

var _ Module = (*CSVInput)(nil)

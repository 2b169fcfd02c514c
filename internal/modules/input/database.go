package input

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/canectors/keyhash/internal/database"
	"github.com/canectors/keyhash/internal/errhandling"
	"github.com/canectors/keyhash/internal/logger"
	"github.com/canectors/keyhash/internal/template"
	"github.com/canectors/keyhash/pkg/connector"
)

// Default configuration values for database input
const (
	defaultDatabaseTimeout = 30 * time.Second
)

// Error types for database input module
var (
	ErrDatabaseMissingQuery = errors.New("query or queryFile is required for database input")
)

// DatabaseInputConfig holds configuration for the database input module.
type DatabaseInputConfig struct {
	// Path is the SQLite database file; PathRef names an environment variable holding it
	Path    string `json:"path"`
	PathRef string `json:"pathRef"`

	// Query is the SELECT statement. {{attribute}} placeholders are bound as
	// parameters, never spliced into the SQL text.
	Query     string `json:"query"`
	QueryFile string `json:"queryFile"`

	// TimeoutMs bounds the query of one unit of work
	TimeoutMs int `json:"timeoutMs"`
}

// DatabaseInput reads records from a SQLite query. The unit-of-work content is
// ignored; its attributes parameterize the query.
type DatabaseInput struct {
	config    DatabaseInputConfig
	db        *sql.DB
	timeout   time.Duration
	evaluator *template.Evaluator
}

// NewDatabaseInputFromConfig creates a new database input module from configuration.
func NewDatabaseInputFromConfig(cfg *connector.ModuleConfig) (*DatabaseInput, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	config := parseDatabaseInputConfig(cfg.Config)

	if config.QueryFile != "" && config.Query == "" {
		query, err := readQueryFile(config.QueryFile)
		if err != nil {
			return nil, err
		}
		config.Query = query
	}
	if strings.TrimSpace(config.Query) == "" {
		return nil, errhandling.NewConfigurationError("database input", ErrDatabaseMissingQuery)
	}
	if err := template.ValidateSyntax(config.Query); err != nil {
		return nil, errhandling.NewConfigurationError("database input query", err)
	}

	timeout := defaultDatabaseTimeout
	if config.TimeoutMs > 0 {
		timeout = time.Duration(config.TimeoutMs) * time.Millisecond
	}

	db, err := database.Open(database.Config{
		Path:    config.Path,
		PathRef: config.PathRef,
	})
	if err != nil {
		return nil, errhandling.NewConfigurationError("opening database input", err)
	}

	logger.Debug("database input module created",
		slog.String("timeout", timeout.String()),
		slog.Bool("parameterized", template.HasVariables(config.Query)),
	)

	return &DatabaseInput{
		config:    config,
		db:        db,
		timeout:   timeout,
		evaluator: template.NewEvaluator(),
	}, nil
}

// parseDatabaseInputConfig parses the raw configuration map into DatabaseInputConfig.
func parseDatabaseInputConfig(cfg map[string]interface{}) DatabaseInputConfig {
	return DatabaseInputConfig{
		Path:      stringOption(cfg, "path"),
		PathRef:   stringOption(cfg, "pathRef"),
		Query:     stringOption(cfg, "query"),
		QueryFile: stringOption(cfg, "queryFile"),
		TimeoutMs: intOption(cfg, "timeoutMs"),
	}
}

// readQueryFile loads a query, rejecting relative paths that climb out of the
// working directory.
func readQueryFile(path string) (string, error) {
	if !filepath.IsAbs(path) && strings.Contains(filepath.ToSlash(filepath.Clean(path)), "..") {
		return "", errhandling.NewConfigurationError(
			fmt.Sprintf("query file path contains invalid '..' component: %s", path), nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errhandling.NewConfigurationError(fmt.Sprintf("reading query file %s", path), err)
	}
	return string(data), nil
}

// Open runs the query with the unit-of-work attributes bound as parameters.
func (d *DatabaseInput) Open(ctx context.Context, src Source) (Reader, error) {
	query, args := d.evaluator.Bind(d.config.Query, "?", src.Attributes)

	qctx, cancel := context.WithTimeout(ctx, d.timeout)
	rows, err := d.db.QueryContext(qctx, query, args...)
	if err != nil {
		cancel()
		dbErr := database.ClassifyDatabaseError(err, "query", query, len(args))
		return nil, errhandling.NewMalformedInputError("database query", dbErr)
	}

	columns, err := rows.ColumnTypes()
	if err != nil {
		_ = rows.Close()
		cancel()
		return nil, errhandling.NewMalformedInputError("reading result columns", err)
	}

	return &databaseReader{rows: rows, columns: columns, cancel: cancel}, nil
}

// Close releases the database handle.
func (d *DatabaseInput) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

type databaseReader struct {
	rows    *sql.Rows
	columns []*sql.ColumnType
	cancel  context.CancelFunc
	row     int
}

func (r *databaseReader) Schema() connector.Schema {
	fields := make([]connector.SchemaField, len(r.columns))
	for i, col := range r.columns {
		fields[i] = connector.SchemaField{Name: col.Name(), Type: columnFieldType(col.DatabaseTypeName())}
	}
	return connector.Schema{Fields: fields}
}

func (r *databaseReader) Next(ctx context.Context) (map[string]interface{}, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return nil, errhandling.NewMalformedInputError("iterating rows",
				database.ClassifyDatabaseError(err, "query", "", 0))
		}
		return nil, io.EOF
	}
	r.row++

	values := make([]interface{}, len(r.columns))
	valuePtrs := make([]interface{}, len(r.columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := r.rows.Scan(valuePtrs...); err != nil {
		return nil, errhandling.NewMalformedInputError(fmt.Sprintf("scanning row %d", r.row), err)
	}

	record := make(map[string]interface{}, len(r.columns))
	for i, col := range r.columns {
		record[col.Name()] = convertDatabaseValue(values[i])
	}
	return record, nil
}

func (r *databaseReader) Close() error {
	defer r.cancel()
	return r.rows.Close()
}

// convertDatabaseValue converts database values to record values.
func convertDatabaseValue(val interface{}) interface{} {
	switch v := val.(type) {
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return val
	}
}

// columnFieldType maps a declared SQLite column type to a field type.
func columnFieldType(declared string) connector.FieldType {
	t := strings.ToUpper(declared)
	switch {
	case strings.Contains(t, "INT"), strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"),
		strings.Contains(t, "DOUB"), strings.Contains(t, "NUMERIC"), strings.Contains(t, "DECIMAL"):
		return connector.FieldTypeNumber
	case strings.Contains(t, "BOOL"):
		return connector.FieldTypeBoolean
	case strings.Contains(t, "CHAR"), strings.Contains(t, "TEXT"), strings.Contains(t, "CLOB"),
		strings.Contains(t, "DATE"), strings.Contains(t, "TIME"):
		return connector.FieldTypeString
	default:
		return connector.FieldTypeAny
	}
}

var _ Module = (*DatabaseInput)(nil)

package output

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/canectors/keyhash/internal/database"
	"github.com/canectors/keyhash/internal/errhandling"
	"github.com/canectors/keyhash/internal/logger"
	"github.com/canectors/keyhash/internal/recordpath"
	"github.com/canectors/keyhash/internal/template"
	"github.com/canectors/keyhash/pkg/connector"
)

// Default configuration values for database output
const (
	defaultDatabaseOutputTimeout = 30 * time.Second
)

// AttrDatabaseTable is the result attribute naming the table written to.
const AttrDatabaseTable = "database.table"

// Error types for database output module
var (
	ErrDatabaseOutputMissingTable = errors.New("table is required for database output")
)

// DatabaseOutputConfig holds configuration for the database output module.
type DatabaseOutputConfig struct {
	// Path is the SQLite database file; PathRef names an environment variable holding it
	Path    string `json:"path"`
	PathRef string `json:"pathRef"`

	// Table receives the records. It may contain {{attribute}} placeholders.
	Table string `json:"table"`

	// CreateTable creates the table from the schema when missing (default true)
	CreateTable bool `json:"createTable"`

	// TimeoutMs bounds the transaction of one unit of work
	TimeoutMs int `json:"timeoutMs"`
}

// DatabaseOutput writes records into a SQLite table. Each unit of work is one
// transaction: Begin opens it, Finish commits, Abort rolls back. The writer
// produces no content.
type DatabaseOutput struct {
	db        *sql.DB
	config    DatabaseOutputConfig
	timeout   time.Duration
	evaluator *template.Evaluator
}

// NewDatabaseOutputFromConfig creates a new database output module from configuration.
func NewDatabaseOutputFromConfig(cfg *connector.ModuleConfig) (*DatabaseOutput, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	config := parseDatabaseOutputConfig(cfg.Config)
	if strings.TrimSpace(config.Table) == "" {
		return nil, errhandling.NewConfigurationError("database output", ErrDatabaseOutputMissingTable)
	}
	if err := template.ValidateSyntax(config.Table); err != nil {
		return nil, errhandling.NewConfigurationError("database output table", err)
	}

	timeout := defaultDatabaseOutputTimeout
	if ms := intOption(cfg.Config, "timeoutMs"); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	db, err := database.Open(database.Config{Path: config.Path, PathRef: config.PathRef})
	if err != nil {
		return nil, errhandling.NewConfigurationError("opening database output", err)
	}

	logger.Debug("database output module created",
		slog.Bool("create_table", config.CreateTable),
		slog.String("timeout", timeout.String()),
	)

	return &DatabaseOutput{
		db:        db,
		config:    config,
		timeout:   timeout,
		evaluator: template.NewEvaluator(),
	}, nil
}

// parseDatabaseOutputConfig parses the raw configuration map.
func parseDatabaseOutputConfig(cfg map[string]interface{}) DatabaseOutputConfig {
	return DatabaseOutputConfig{
		Path:        stringOption(cfg, "path"),
		PathRef:     stringOption(cfg, "pathRef"),
		Table:       stringOption(cfg, "table"),
		CreateTable: boolOption(cfg, "createTable", true),
		TimeoutMs:   intOption(cfg, "timeoutMs"),
	}
}

// intOption returns an integer configuration value. JSON configuration
// decodes numbers as float64, YAML as int.
func intOption(cfg map[string]interface{}, key string) int {
	switch v := cfg[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// Open resolves the table name for dst. The transaction starts in Begin.
func (d *DatabaseOutput) Open(ctx context.Context, dst Destination) (Writer, error) {
	table := strings.TrimSpace(d.evaluator.Evaluate(d.config.Table, dst.Attributes))
	if table == "" {
		return nil, errhandling.NewWriteError("database output", ErrDatabaseOutputMissingTable)
	}
	return &databaseWriter{module: d, ctx: ctx, table: table}, nil
}

// Close releases the database handle.
func (d *DatabaseOutput) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

type databaseWriter struct {
	writerState
	module *DatabaseOutput
	ctx    context.Context
	cancel context.CancelFunc
	table  string
	tx     *sql.Tx
	insert *sql.Stmt
	query  string
}

func (w *databaseWriter) MimeType() string {
	return ""
}

func (w *databaseWriter) Begin(schema connector.Schema) error {
	if err := w.begin(schema); err != nil {
		return errhandling.NewWriteError("begin", err)
	}
	if len(w.fields) == 0 {
		return errhandling.NewWriteError("begin", fmt.Errorf("database output requires a schema"))
	}

	ctx, cancel := context.WithTimeout(w.ctx, w.module.timeout)
	w.cancel = cancel

	tx, err := w.module.db.BeginTx(ctx, nil)
	if err != nil {
		return errhandling.NewWriteError("begin transaction",
			database.ClassifyDatabaseError(err, "begin", "", 0))
	}
	w.tx = tx

	columns := make([]string, len(w.fields))
	placeholders := make([]string, len(w.fields))
	defs := make([]string, len(w.fields))
	for i, name := range w.fields {
		columns[i] = database.QuoteIdentifier(name)
		placeholders[i] = "?"
		defs[i] = columns[i] + " " + columnType(schema.Fields[i].Type)
	}
	table := database.QuoteIdentifier(w.table)

	if w.module.config.CreateTable {
		create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))
		if _, err := tx.ExecContext(ctx, create); err != nil {
			return errhandling.NewWriteError("creating table",
				database.ClassifyDatabaseError(err, "create", create, 0))
		}
	}

	w.query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	stmt, err := tx.PrepareContext(ctx, w.query)
	if err != nil {
		return errhandling.NewWriteError("preparing insert",
			database.ClassifyDatabaseError(err, "prepare", w.query, len(columns)))
	}
	w.insert = stmt
	return nil
}

func (w *databaseWriter) Write(record map[string]interface{}) error {
	if err := w.check(); err != nil {
		return errhandling.NewWriteError("write", err)
	}
	if w.insert == nil {
		return errhandling.NewWriteError("write", ErrNotBegun)
	}

	args := make([]interface{}, len(w.fields))
	for i, name := range w.fields {
		v, err := columnValue(record[name])
		if err != nil {
			return errhandling.NewWriteError(fmt.Sprintf("field %q", name), err)
		}
		args[i] = v
	}

	if _, err := w.insert.ExecContext(w.ctx, args...); err != nil {
		return errhandling.NewWriteError(fmt.Sprintf("inserting record %d", w.count+1),
			database.ClassifyDatabaseError(err, "insert", w.query, len(args)))
	}
	w.count++
	return nil
}

func (w *databaseWriter) Finish() (WriteResult, error) {
	if err := w.finish(); err != nil {
		return WriteResult{}, errhandling.NewWriteError("finish", err)
	}
	defer w.release()

	if w.tx == nil {
		return WriteResult{}, errhandling.NewWriteError("finish", ErrNotBegun)
	}
	if err := w.tx.Commit(); err != nil {
		return WriteResult{}, errhandling.NewWriteError("commit",
			database.NewTransactionError("commit failed", err))
	}
	w.tx = nil

	return WriteResult{
		RecordCount: w.count,
		Attributes:  map[string]string{AttrDatabaseTable: w.table},
	}, nil
}

func (w *databaseWriter) Abort() error {
	w.closed = true
	defer w.release()

	if w.tx == nil {
		return nil
	}
	err := w.tx.Rollback()
	w.tx = nil
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return errhandling.NewWriteError("rollback", database.NewTransactionError("rollback failed", err))
	}
	return nil
}

func (w *databaseWriter) release() {
	if w.insert != nil {
		_ = w.insert.Close()
		w.insert = nil
	}
	if w.cancel != nil {
		w.cancel()
	}
}

// columnType maps a field type to a SQLite column affinity.
func columnType(t connector.FieldType) string {
	switch t {
	case connector.FieldTypeNumber:
		return "NUMERIC"
	case connector.FieldTypeBoolean:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

// columnValue converts a record value to a driver value. Scalars pass through;
// records and arrays are stored as JSON text.
func columnValue(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case nil, string, bool, int, int64, float64, []byte, time.Time:
		return val, nil
	default:
		s, present, err := recordpath.StringValue(val)
		if err != nil {
			return nil, err
		}
		if !present {
			return nil, nil
		}
		return s, nil
	}
}

package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// Error categories for database operations
const (
	CategoryConnection  = "connection"
	CategoryQuery       = "query"
	CategoryConstraint  = "constraint"
	CategoryTransaction = "transaction"
	CategoryBusy        = "busy"
	CategoryTimeout     = "timeout"
	CategoryUnknown     = "unknown"
)

// DatabaseError represents a categorized database error with context.
//
//nolint:revive // DatabaseError is a clear, descriptive name that doesn't stutter in practice
type DatabaseError struct {
	Category    string // Error category (connection, query, constraint, etc.)
	Operation   string // Operation that failed (query, insert, commit, etc.)
	Message     string // User-friendly error message
	Query       string // The query that caused the error (truncated, no params)
	ParamCount  int    // Number of parameters (not the values)
	OriginalErr error  // The underlying database error
}

func (e *DatabaseError) Error() string {
	var msg string
	if e.Operation != "" {
		msg = fmt.Sprintf("database %s error in %s: %s", e.Category, e.Operation, e.Message)
	} else {
		msg = fmt.Sprintf("database %s error: %s", e.Category, e.Message)
	}
	if e.OriginalErr != nil {
		msg += fmt.Sprintf(" (original: %v)", e.OriginalErr)
	}
	return msg
}

func (e *DatabaseError) Unwrap() error {
	return e.OriginalErr
}

// NewDatabaseError creates a new database error with the given details.
func NewDatabaseError(category, operation, message string, originalErr error) *DatabaseError {
	return &DatabaseError{
		Category:    category,
		Operation:   operation,
		Message:     message,
		OriginalErr: originalErr,
	}
}

// NewConnectionError creates a connection error.
func NewConnectionError(message string, originalErr error) *DatabaseError {
	return NewDatabaseError(CategoryConnection, "connect", message, originalErr)
}

// NewQueryError creates a query error.
func NewQueryError(operation, message, query string, paramCount int, originalErr error) *DatabaseError {
	return &DatabaseError{
		Category:    CategoryQuery,
		Operation:   operation,
		Message:     message,
		Query:       sanitizeQuery(query),
		ParamCount:  paramCount,
		OriginalErr: originalErr,
	}
}

// NewConstraintError creates a constraint violation error.
func NewConstraintError(operation, message string, originalErr error) *DatabaseError {
	return NewDatabaseError(CategoryConstraint, operation, message, originalErr)
}

// NewTransactionError creates a transaction error.
func NewTransactionError(message string, originalErr error) *DatabaseError {
	return NewDatabaseError(CategoryTransaction, "transaction", message, originalErr)
}

// ClassifyDatabaseError classifies a raw database error into a DatabaseError.
// SQLite result codes are used when available; other errors fall back to
// message inspection.
func ClassifyDatabaseError(err error, operation, query string, paramCount int) *DatabaseError {
	if err == nil {
		return nil
	}

	var existing *DatabaseError
	if errors.As(err, &existing) {
		return existing
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewDatabaseError(CategoryTimeout, operation, "operation canceled or timed out", err)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return classifySQLiteError(sqliteErr, err, operation, query, paramCount)
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "unable to open") || strings.Contains(errMsg, "database is closed"):
		return NewConnectionError("database unavailable", err)
	case isSyntaxError(errMsg):
		return NewQueryError(operation, "SQL syntax error", query, paramCount, err)
	default:
		return NewQueryError(operation, err.Error(), query, paramCount, err)
	}
}

func classifySQLiteError(sqliteErr sqlite3.Error, err error, operation, query string, paramCount int) *DatabaseError {
	switch sqliteErr.Code {
	case sqlite3.ErrConstraint:
		return NewConstraintError(operation, constraintMessage(sqliteErr.ExtendedCode), err)
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return NewDatabaseError(CategoryBusy, operation, "database is locked", err)
	case sqlite3.ErrCantOpen, sqlite3.ErrNotADB, sqlite3.ErrPerm, sqlite3.ErrAuth:
		return NewConnectionError("cannot open database", err)
	case sqlite3.ErrReadonly:
		return NewQueryError(operation, "database is read-only", query, paramCount, err)
	}

	if isSyntaxError(strings.ToLower(sqliteErr.Error())) {
		return NewQueryError(operation, "SQL syntax error", query, paramCount, err)
	}
	return NewQueryError(operation, sqliteErr.Error(), query, paramCount, err)
}

// isSyntaxError checks if the error is a SQL syntax error.
func isSyntaxError(errMsg string) bool {
	for _, indicator := range []string{"syntax error", "incomplete input", "near \""} {
		if strings.Contains(errMsg, indicator) {
			return true
		}
	}
	return false
}

// constraintMessage describes a constraint violation from its extended code.
func constraintMessage(code sqlite3.ErrNoExtended) string {
	switch code {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return "unique constraint violation: duplicate value exists"
	case sqlite3.ErrConstraintForeignKey:
		return "foreign key constraint violation: referenced record not found or still referenced"
	case sqlite3.ErrConstraintNotNull:
		return "not-null constraint violation: required field is null"
	case sqlite3.ErrConstraintCheck:
		return "check constraint violation: value does not meet requirements"
	default:
		return "constraint violation"
	}
}

// sanitizeQuery truncates very long queries for logging.
func sanitizeQuery(query string) string {
	if len(query) > 500 {
		return query[:500] + "... (truncated)"
	}
	return query
}

// IsDatabaseError checks if the error is a DatabaseError.
func IsDatabaseError(err error) bool {
	var dbErr *DatabaseError
	return errors.As(err, &dbErr)
}

// GetDatabaseError extracts the DatabaseError from an error chain.
func GetDatabaseError(err error) *DatabaseError {
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return dbErr
	}
	return nil
}

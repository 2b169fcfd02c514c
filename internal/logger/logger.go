// Package logger provides structured logging functionality.
// It wraps the standard log/slog package for consistent logging across the runtime.
//
// Run context helpers give every unit-of-work log line the same snake_case
// fields (pipeline_id, unit_id, filename, stage). Hash keys and algorithm
// parameters are never passed to the logger.
//
// The package supports two output formats:
//   - JSON (default): Machine-readable structured logging
//   - Human: Human-readable console output with colors and prefixes
package logger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger is the default logger instance.
var Logger *slog.Logger

func init() {
	Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// SetLevel configures the logging level.
func SetLevel(level slog.Level) {
	SetLevelAndFormat(level, FormatJSON)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	Logger.Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	Logger.Error(msg, args...)
}

// WithPipeline returns a logger with pipeline context.
func WithPipeline(pipelineID string) *slog.Logger {
	return Logger.With("pipeline_id", pipelineID)
}

// WithModule returns a logger with module context.
func WithModule(stage string, moduleType string) *slog.Logger {
	return Logger.With("stage", stage, "module_type", moduleType)
}

// =============================================================================
// Run Context Types
// =============================================================================

// RunContext identifies one unit of work being processed by a pipeline.
type RunContext struct {
	// PipelineID is the unique identifier for the pipeline (required)
	PipelineID string
	// PipelineName is the human-readable name of the pipeline
	PipelineName string
	// UnitID is the FlowFile identifier
	UnitID string
	// Filename is the FlowFile filename attribute
	Filename string
	// Stage is the current stage (read, filter, transform, write, route)
	Stage string
	// ModuleType is the reader, filter or writer type
	ModuleType string
	// DryRun indicates output is discarded
	DryRun bool
}

// StageError contains structured error information for stage logging.
type StageError struct {
	// Category is the error category (path_syntax, write, ...)
	Category string
	// Message is the human-readable error message
	Message string
}

// ErrorContext contains structured context for error logging.
// Use this with LogError() for consistent, actionable error logs.
type ErrorContext struct {
	PipelineID string
	UnitID     string
	Filename   string
	Stage      string
	ModuleType string

	// Category is the classified error category
	Category string
	// Err is the underlying error; its chain is logged
	Err error

	// RecordNumber is the 1-based input record number, 0 when unknown
	RecordNumber int
	// Path is the selector text involved, if any
	Path     string
	Duration time.Duration

	// Extra holds additional key-value pairs
	Extra map[string]interface{}
}

// RunMetrics contains counters and timings of one unit of work.
type RunMetrics struct {
	TotalDuration  time.Duration
	RecordsRead    int
	RecordsDropped int
	RecordsWritten int
	MatchesSkipped int
}

// RecordsPerSecond returns the read throughput.
func (m RunMetrics) RecordsPerSecond() float64 {
	if m.TotalDuration <= 0 {
		return 0
	}
	return float64(m.RecordsRead) / m.TotalDuration.Seconds()
}

// =============================================================================
// Run Context Helpers
// =============================================================================

// WithRun returns a logger with the run context attached.
// Only non-empty fields are included.
func WithRun(ctx RunContext) *slog.Logger {
	return Logger.With(buildContextAttrs(ctx)...)
}

// LogRunStart logs the start of a unit of work.
func LogRunStart(ctx RunContext) {
	Logger.Info("unit started", buildContextAttrs(ctx)...)
}

// LogRunEnd logs the outcome of a unit of work.
func LogRunEnd(ctx RunContext, relationship string, recordCount int, duration time.Duration) {
	attrs := buildContextAttrs(ctx)
	attrs = append(attrs,
		slog.String("relationship", relationship),
		slog.Int("record_count", recordCount),
		slog.Duration("duration", duration),
	)
	if relationship == "failure" {
		Logger.Warn("unit routed to failure", attrs...)
		return
	}
	Logger.Info("unit completed", attrs...)
}

// LogStageStart logs the start of a stage.
func LogStageStart(ctx RunContext) {
	Logger.Debug("stage started", buildContextAttrs(ctx)...)
}

// LogStageEnd logs the completion of a stage.
// If err is non-nil, logs as an error with error details.
func LogStageEnd(ctx RunContext, recordCount int, duration time.Duration, err *StageError) {
	attrs := buildContextAttrs(ctx)
	attrs = append(attrs,
		slog.Int("record_count", recordCount),
		slog.Duration("duration", duration),
	)

	if err != nil {
		attrs = append(attrs,
			slog.String("error_category", err.Category),
			slog.String("error", err.Message),
		)
		Logger.Error("stage failed", attrs...)
		return
	}
	Logger.Debug("stage completed", attrs...)
}

// LogMetrics logs the counters of a unit of work.
func LogMetrics(ctx RunContext, metrics RunMetrics) {
	attrs := buildContextAttrs(ctx)
	attrs = append(attrs,
		slog.Duration("total_duration", metrics.TotalDuration),
		slog.Int("records_read", metrics.RecordsRead),
		slog.Int("records_dropped", metrics.RecordsDropped),
		slog.Int("records_written", metrics.RecordsWritten),
		slog.Int("matches_skipped", metrics.MatchesSkipped),
		slog.Float64("records_per_second", metrics.RecordsPerSecond()),
	)
	Logger.Info("unit metrics", attrs...)
}

// LogError logs an error with full run context.
func LogError(message string, errCtx ErrorContext) {
	attrs := make([]any, 0, 16)

	if errCtx.PipelineID != "" {
		attrs = append(attrs, slog.String("pipeline_id", errCtx.PipelineID))
	}
	if errCtx.UnitID != "" {
		attrs = append(attrs, slog.String("unit_id", errCtx.UnitID))
	}
	if errCtx.Filename != "" {
		attrs = append(attrs, slog.String("filename", errCtx.Filename))
	}
	if errCtx.Stage != "" {
		attrs = append(attrs, slog.String("stage", errCtx.Stage))
	}
	if errCtx.ModuleType != "" {
		attrs = append(attrs, slog.String("module_type", errCtx.ModuleType))
	}
	if errCtx.Category != "" {
		attrs = append(attrs, slog.String("error_category", errCtx.Category))
	}
	if errCtx.Err != nil {
		attrs = append(attrs,
			slog.String("error", errCtx.Err.Error()),
			slog.String("error_type", fmt.Sprintf("%T", errCtx.Err)),
		)
		if chain := errorChain(errCtx.Err); len(chain) > 1 {
			attrs = append(attrs, slog.String("error_chain", strings.Join(chain, " -> ")))
		}
	}
	if errCtx.RecordNumber > 0 {
		attrs = append(attrs, slog.Int("record_number", errCtx.RecordNumber))
	}
	if errCtx.Path != "" {
		attrs = append(attrs, slog.String("path", errCtx.Path))
	}
	if errCtx.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", errCtx.Duration))
	}
	for k, v := range errCtx.Extra {
		attrs = append(attrs, slog.Any(k, v))
	}

	Logger.Error(message, attrs...)
}

// errorChain follows single-error Unwrap links.
func errorChain(err error) []string {
	chain := []string{err.Error()}
	for current := errors.Unwrap(err); current != nil; current = errors.Unwrap(current) {
		chain = append(chain, current.Error())
	}
	return chain
}

func buildContextAttrs(ctx RunContext) []any {
	attrs := make([]any, 0, 8)

	attrs = append(attrs, slog.String("pipeline_id", ctx.PipelineID))
	if ctx.PipelineName != "" {
		attrs = append(attrs, slog.String("pipeline_name", ctx.PipelineName))
	}
	if ctx.UnitID != "" {
		attrs = append(attrs, slog.String("unit_id", ctx.UnitID))
	}
	if ctx.Filename != "" {
		attrs = append(attrs, slog.String("filename", ctx.Filename))
	}
	if ctx.Stage != "" {
		attrs = append(attrs, slog.String("stage", ctx.Stage))
	}
	if ctx.ModuleType != "" {
		attrs = append(attrs, slog.String("module_type", ctx.ModuleType))
	}
	if ctx.DryRun {
		attrs = append(attrs, slog.Bool("dry_run", true))
	}

	return attrs
}

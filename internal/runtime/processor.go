// Package runtime provides the unit-of-work processing engine.
//
// A Processor turns each FlowFile into exactly one outcome. It opens a reader
// over the FlowFile content and a writer over a fresh buffer, then lets a
// Driver stream the records through the filters and the key-hash transformer.
// Success yields a new FlowFile with the written content and the result
// attributes. Any failure yields the original FlowFile, unmodified.
package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
	"golang.org/x/sync/errgroup"

	"github.com/canectors/keyhash/internal/errhandling"
	"github.com/canectors/keyhash/internal/factory"
	"github.com/canectors/keyhash/internal/keyhash"
	"github.com/canectors/keyhash/internal/logger"
	"github.com/canectors/keyhash/internal/modules/filter"
	"github.com/canectors/keyhash/internal/modules/input"
	"github.com/canectors/keyhash/internal/modules/output"
	"github.com/canectors/keyhash/internal/recordpath"
	"github.com/canectors/keyhash/pkg/connector"
)

// Error codes for unit-of-work failures
const (
	ErrCodeInputFailed     = "INPUT_FAILED"
	ErrCodeFilterFailed    = "FILTER_FAILED"
	ErrCodeTransformFailed = "TRANSFORM_FAILED"
	ErrCodeOutputFailed    = "OUTPUT_FAILED"
	ErrCodeCanceled        = "CANCELED"
)

// Execution status values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Common errors
var (
	// ErrNilPipeline is returned when pipeline configuration is nil
	ErrNilPipeline = errors.New("pipeline configuration is nil")

	// ErrNilInputModule is returned when input module is nil
	ErrNilInputModule = errors.New("input module is nil")

	// ErrNilOutputModule is returned when output module is nil outside dry-run mode
	ErrNilOutputModule = errors.New("output module is nil")

	// ErrNilTransformer is returned when no transformer is configured
	ErrNilTransformer = errors.New("transformer is nil")
)

// Router transfers an outcome to the sink of its relationship.
type Router interface {
	Route(ctx context.Context, outcome *connector.Outcome) error
}

// Processor runs units of work through one configured pipeline.
// It is safe for concurrent use; each unit gets its own reader, writer and driver.
type Processor struct {
	pipeline    *connector.Pipeline
	input       input.Module
	filters     []filter.Module
	output      output.Module
	transformer Transformer
	selections  []keyhash.Selection
	dryRun      bool
	workers     int
	events      *capitan.Capitan

	recordsProcessed atomic.Int64
	unitsSucceeded   atomic.Int64
	unitsFailed      atomic.Int64
}

// NewProcessor builds every stage of pipeline through the factory. The hash
// key must already be resolved. In dry-run mode no writer module is built and
// output is discarded.
//
// Configuration problems, including an unsupported algorithm or a bad static
// path, are reported here, before any unit of work is read.
func NewProcessor(pipeline *connector.Pipeline, dryRun bool) (*Processor, error) {
	if pipeline == nil {
		return nil, ErrNilPipeline
	}

	transformer, selections, err := factory.CreateKeyHash(pipeline.KeyHash, recordpath.NewCache())
	if err != nil {
		return nil, err
	}

	in, err := factory.CreateInputModule(pipeline.Input)
	if err != nil {
		return nil, err
	}
	filters, err := factory.CreateFilterModules(pipeline.Filters)
	if err != nil {
		closeModule(pipeline.ID, "input", in)
		return nil, err
	}

	var out output.Module
	if !dryRun {
		out, err = factory.CreateOutputModule(pipeline.Output)
		if err != nil {
			closeModule(pipeline.ID, "input", in)
			return nil, err
		}
	}

	return NewProcessorWithModules(pipeline, in, filters, out, transformer, selections, dryRun)
}

// NewProcessorWithModules creates a processor from already built stages.
// This is the primary constructor for dependency injection.
func NewProcessorWithModules(
	pipeline *connector.Pipeline,
	in input.Module,
	filters []filter.Module,
	out output.Module,
	transformer Transformer,
	selections []keyhash.Selection,
	dryRun bool,
) (*Processor, error) {
	switch {
	case pipeline == nil:
		return nil, ErrNilPipeline
	case in == nil:
		return nil, ErrNilInputModule
	case out == nil && !dryRun:
		return nil, ErrNilOutputModule
	case transformer == nil:
		return nil, ErrNilTransformer
	}

	workers := pipeline.Workers
	if workers < 1 {
		workers = 1
	}

	logger.Debug("processor initialized",
		slog.String("pipeline_id", pipeline.ID),
		slog.Int("filter_count", len(filters)),
		slog.Int("property_count", len(selections)),
		slog.Int("workers", workers),
		slog.Bool("dry_run", dryRun),
	)

	return &Processor{
		pipeline:    pipeline,
		input:       in,
		filters:     filters,
		output:      out,
		transformer: transformer,
		selections:  selections,
		dryRun:      dryRun,
		workers:     workers,
		events:      capitan.Default(),
	}, nil
}

// SetEvents sets the instance lifecycle signals are emitted on. The default
// is the process-wide capitan instance.
func (p *Processor) SetEvents(c *capitan.Capitan) {
	if c != nil {
		p.events = c
	}
}

// SetWorkers overrides the number of units processed concurrently by ProcessAll.
func (p *Processor) SetWorkers(n int) {
	if n > 0 {
		p.workers = n
	}
}

// RecordsProcessed returns the total number of derived records written by
// successful units.
func (p *Processor) RecordsProcessed() int64 {
	return p.recordsProcessed.Load()
}

// NewFlowFile creates a unit of work with a fresh UUIDv7 identifier.
func NewFlowFile(content []byte, attributes map[string]string) (*connector.FlowFile, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating unit id: %w", err)
	}
	attrs := make(map[string]string, len(attributes)+1)
	for k, v := range attributes {
		attrs[k] = v
	}
	attrs[connector.AttrUUID] = id.String()
	return &connector.FlowFile{ID: id.String(), Attributes: attrs, Content: content}, nil
}

// Process runs one unit of work and returns its single outcome.
func (p *Processor) Process(ctx context.Context, ff *connector.FlowFile) *connector.Outcome {
	startedAt := time.Now()
	missing := ff == nil
	if missing {
		ff = &connector.FlowFile{}
	}
	if ff.ID == "" || ff.Attributes == nil {
		normalized := *ff
		if normalized.ID == "" {
			normalized.ID = uuid.NewString()
		}
		if normalized.Attributes == nil {
			normalized.Attributes = map[string]string{}
		}
		ff = &normalized
	}

	runCtx := logger.RunContext{
		PipelineID:   p.pipeline.ID,
		PipelineName: p.pipeline.Name,
		UnitID:       ff.ID,
		Filename:     ff.Filename(),
		DryRun:       p.dryRun,
	}
	logger.LogRunStart(runCtx)
	p.emitUnitStarted(ctx, ff.ID, ff.Filename())

	result := &connector.ExecutionResult{
		PipelineID: p.pipeline.ID,
		UnitID:     ff.ID,
		Status:     StatusError,
		StartedAt:  startedAt,
	}

	var (
		summary *Summary
		content []byte
		err     error
	)
	if missing {
		err = &DriverError{State: StateStart, Stage: StageRead,
			Err: errhandling.NewMalformedInputError("nil flow file", nil)}
	} else {
		summary, content, err = p.run(ctx, ff)
	}
	result.CompletedAt = time.Now()
	duration := result.CompletedAt.Sub(startedAt)

	if err != nil {
		return p.failure(ctx, ff, result, runCtx, duration, err)
	}

	out := ff.Clone()
	out.Content = content
	for k, v := range summary.Attributes {
		out.Attributes[k] = v
	}

	result.Status = StatusSuccess
	result.RecordsRead = summary.RecordsRead
	result.RecordsProcessed = summary.RecordCount
	result.Attributes = summary.Attributes

	p.recordsProcessed.Add(int64(summary.RecordCount))
	p.unitsSucceeded.Add(1)

	logger.LogRunEnd(runCtx, connector.RelationshipSuccess, summary.RecordCount, duration)
	logger.LogMetrics(runCtx, logger.RunMetrics{
		TotalDuration:  duration,
		RecordsRead:    summary.RecordsRead,
		RecordsDropped: summary.RecordsDropped,
		RecordsWritten: summary.RecordCount,
	})
	p.emitUnitCompleted(ctx, ff.ID, ff.Filename(), summary.RecordsRead, summary.RecordCount, duration)

	return &connector.Outcome{
		Relationship: connector.RelationshipSuccess,
		FlowFile:     out,
		Result:       result,
	}
}

// run streams one unit of work into a buffer.
func (p *Processor) run(ctx context.Context, ff *connector.FlowFile) (*Summary, []byte, error) {
	resolved := keyhash.Resolve(p.selections, ff.Attributes)

	reader, err := p.input.Open(ctx, input.Source{
		Content:    bytes.NewReader(ff.Content),
		Attributes: ff.Attributes,
	})
	if err != nil {
		return nil, nil, &DriverError{State: StateStart, Stage: StageRead, Err: asReadError(err)}
	}
	defer closeModule(p.pipeline.ID, "reader", reader)

	var buf bytes.Buffer
	var writer output.Writer
	if p.dryRun {
		writer = &discardWriter{}
	} else {
		writer, err = p.output.Open(ctx, output.Destination{Content: &buf, Attributes: ff.Attributes})
		if err != nil {
			return nil, nil, &DriverError{State: StateStart, Stage: StageWrite, Err: asWriteError(err)}
		}
	}

	driver := NewDriver(p.transformer, resolved, p.filters)
	summary, err := driver.Run(ctx, reader, writer)
	if err != nil {
		return nil, nil, err
	}
	if p.dryRun {
		return summary, nil, nil
	}
	return summary, buf.Bytes(), nil
}

// failure builds the failure outcome: the original FlowFile, unmodified.
func (p *Processor) failure(
	ctx context.Context,
	ff *connector.FlowFile,
	result *connector.ExecutionResult,
	runCtx logger.RunContext,
	duration time.Duration,
	err error,
) *connector.Outcome {
	stage, record := StageRead, 0
	var driverErr *DriverError
	if errors.As(err, &driverErr) {
		stage, record = driverErr.Stage, driverErr.Record
	}

	category := GetErrorCategory(err)
	result.Error = buildExecutionError(stage, category, err)
	if record > 0 {
		result.Error.Details = map[string]interface{}{"record": record}
	}
	p.unitsFailed.Add(1)

	logger.LogError("unit failed", logger.ErrorContext{
		PipelineID:   p.pipeline.ID,
		UnitID:       ff.ID,
		Filename:     ff.Filename(),
		Stage:        stage,
		ModuleType:   p.moduleType(stage),
		Category:     string(category),
		Err:          err,
		RecordNumber: record,
		Duration:     duration,
	})
	logger.LogRunEnd(runCtx, connector.RelationshipFailure, 0, duration)
	p.emitUnitFailed(ctx, ff.ID, ff.Filename(), string(category), duration, err)

	return &connector.Outcome{
		Relationship: connector.RelationshipFailure,
		FlowFile:     ff,
		Result:       result,
		Err:          err,
	}
}

// buildExecutionError creates an ExecutionError with the classified category.
func buildExecutionError(stage string, category ErrorCategory, err error) *connector.ExecutionError {
	code := ErrCodeInputFailed
	switch stage {
	case StageFilter:
		code = ErrCodeFilterFailed
	case StageTransform:
		code = ErrCodeTransformFailed
	case StageWrite:
		code = ErrCodeOutputFailed
	}
	if category == CategoryCanceled {
		code = ErrCodeCanceled
	}
	return &connector.ExecutionError{
		Code:          code,
		Message:       err.Error(),
		Module:        stage,
		ErrorCategory: string(category),
	}
}

func (p *Processor) moduleType(stage string) string {
	switch stage {
	case StageRead:
		if p.pipeline.Input != nil {
			return p.pipeline.Input.Type
		}
	case StageWrite:
		if p.pipeline.Output != nil {
			return p.pipeline.Output.Type
		}
	case StageTransform:
		return "keyHash"
	}
	return ""
}

// ProcessAll processes independent units concurrently, at most workers at a
// time. Records within a unit stay sequential. Outcomes are returned in input
// order and, when router is non-nil and not in dry-run mode, routed as each
// unit completes. The returned error is the first routing failure.
func (p *Processor) ProcessAll(ctx context.Context, ffs []*connector.FlowFile, router Router) ([]*connector.Outcome, error) {
	startedAt := time.Now()
	outcomes := make([]*connector.Outcome, len(ffs))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, ff := range ffs {
		g.Go(func() error {
			outcome := p.Process(ctx, ff)
			outcomes[i] = outcome
			if router == nil || p.dryRun {
				return nil
			}
			// Finished outcomes are routed even when ctx is canceled.
			return router.Route(context.WithoutCancel(ctx), outcome)
		})
	}
	err := g.Wait()

	p.logSummary(len(ffs), time.Since(startedAt))
	return outcomes, err
}

func (p *Processor) logSummary(units int, duration time.Duration) {
	attrs := []any{
		slog.String("pipeline_id", p.pipeline.ID),
		slog.Int("units", units),
		slog.Int64("units_succeeded", p.unitsSucceeded.Load()),
		slog.Int64("units_failed", p.unitsFailed.Load()),
		slog.Int64("records_processed", p.recordsProcessed.Load()),
		slog.Duration("duration", duration),
	}
	if s, ok := p.transformer.(interface{ Stats() keyhash.Stats }); ok {
		stats := s.Stats()
		attrs = append(attrs,
			slog.Int64("matches", stats.Matched),
			slog.Int64("matches_skipped", stats.Skipped),
		)
	}
	logger.Info("run completed", attrs...)
}

// Close releases the reader and writer modules.
func (p *Processor) Close() error {
	var errs []error
	if p.input != nil {
		if err := p.input.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing input module: %w", err))
		}
	}
	if p.output != nil {
		if err := p.output.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing output module: %w", err))
		}
	}
	return errors.Join(errs...)
}

// moduleCloser interface for modules that can be closed.
type moduleCloser interface {
	Close() error
}

// closeModule closes a module and logs any error.
func closeModule(pipelineID, moduleName string, m moduleCloser) {
	if err := m.Close(); err != nil {
		logger.Warn("failed to close module",
			slog.String("pipeline_id", pipelineID),
			slog.String("module", moduleName),
			slog.String("error", err.Error()),
		)
	}
}

// discardWriter counts records and keeps nothing. It stands in for the
// configured writer in dry-run mode.
type discardWriter struct {
	count int
}

func (w *discardWriter) Begin(connector.Schema) error { return nil }

func (w *discardWriter) Write(map[string]interface{}) error {
	w.count++
	return nil
}

func (w *discardWriter) Finish() (output.WriteResult, error) {
	return output.WriteResult{RecordCount: w.count}, nil
}

func (w *discardWriter) Abort() error { return nil }

func (w *discardWriter) MimeType() string { return "" }

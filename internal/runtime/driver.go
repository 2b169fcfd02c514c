package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/canectors/keyhash/internal/errhandling"
	"github.com/canectors/keyhash/internal/keyhash"
	"github.com/canectors/keyhash/internal/modules/filter"
	"github.com/canectors/keyhash/internal/modules/input"
	"github.com/canectors/keyhash/internal/modules/output"
	"github.com/canectors/keyhash/pkg/connector"
)

// State is a stream driver state.
type State string

// Driver states. DONE and FAILED are terminal.
const (
	StateStart        State = "START"
	StateReading      State = "READING"
	StateTransforming State = "TRANSFORMING"
	StateWriting      State = "WRITING"
	StateFinalizing   State = "FINALIZING"
	StateDone         State = "DONE"
	StateFailed       State = "FAILED"
)

// transitions lists the legal successors of each state, FAILED excepted:
// every non-terminal state may fail.
var transitions = map[State][]State{
	StateStart:        {StateReading},
	StateReading:      {StateTransforming, StateFinalizing},
	StateTransforming: {StateWriting},
	StateWriting:      {StateReading},
	StateFinalizing:   {StateDone},
}

// CanTransition reports whether the driver may move from one state to another.
func CanTransition(from, to State) bool {
	if from == StateDone || from == StateFailed {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transformer derives output records from one input record.
type Transformer interface {
	Transform(record map[string]interface{}, selections []keyhash.ResolvedSelection) ([]map[string]interface{}, error)
	OutputSchema() connector.Schema
}

// Pipeline stage names reported in driver errors.
const (
	StageRead      = "read"
	StageFilter    = "filter"
	StageTransform = "transform"
	StageWrite     = "write"
)

// DriverError records where a stream failed.
type DriverError struct {
	// State is the state the failure happened in
	State State
	// Stage is the pipeline stage (read, filter, transform, write)
	Stage string
	// Record is the 1-based input record number, 0 outside the record loop
	Record int
	Err    error
}

func (e *DriverError) Error() string {
	if e.Record > 0 {
		return fmt.Sprintf("%s failed at record %d: %v", e.Stage, e.Record, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// Summary holds the run accumulators of a finished stream.
type Summary struct {
	RecordsRead    int
	RecordsDropped int
	// RecordCount is the number of derived records written
	RecordCount int
	// Attributes are record.count, mime.type and the writer attributes
	Attributes map[string]string
}

// Driver runs one record stream through filters, the transformer and a writer.
// A Driver is used for a single stream; it is not safe for concurrent use.
type Driver struct {
	transformer Transformer
	selections  []keyhash.ResolvedSelection
	filters     []filter.Module
	state       State

	// OnTransition, if set, is called after every state change.
	OnTransition func(from, to State)
}

// NewDriver creates a driver in the START state.
func NewDriver(transformer Transformer, selections []keyhash.ResolvedSelection, filters []filter.Module) *Driver {
	return &Driver{
		transformer: transformer,
		selections:  selections,
		filters:     filters,
		state:       StateStart,
	}
}

// State returns the current state.
func (d *Driver) State() State {
	return d.state
}

func (d *Driver) transition(to State) {
	if !CanTransition(d.state, to) {
		panic(fmt.Sprintf("runtime: illegal driver transition %s -> %s", d.state, to))
	}
	from := d.state
	d.state = to
	if d.OnTransition != nil {
		d.OnTransition(from, to)
	}
}

// Run reads every record, writes the derived records in order and finalizes
// the writer. On any failure the writer is aborted and a *DriverError is
// returned; no output written so far is valid.
func (d *Driver) Run(ctx context.Context, reader input.Reader, writer output.Writer) (*Summary, error) {
	if d.state != StateStart {
		return nil, fmt.Errorf("driver already ran (state %s)", d.state)
	}

	summary := &Summary{}

	if err := writer.Begin(d.transformer.OutputSchema()); err != nil {
		return nil, d.fail(writer, &DriverError{State: StateStart, Stage: StageWrite, Err: asWriteError(err)})
	}

	for {
		d.transition(StateReading)
		if err := ctx.Err(); err != nil {
			return nil, d.fail(writer, &DriverError{State: StateReading, Stage: StageRead, Record: summary.RecordsRead + 1, Err: err})
		}

		record, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, d.fail(writer, &DriverError{State: StateReading, Stage: StageRead, Record: summary.RecordsRead + 1, Err: asReadError(err)})
		}
		summary.RecordsRead++
		n := summary.RecordsRead

		d.transition(StateTransforming)
		derived, dropped, stageErr := d.derive(ctx, record)
		if stageErr != nil {
			stageErr.Record = n
			return nil, d.fail(writer, stageErr)
		}
		if dropped {
			summary.RecordsDropped++
		}

		d.transition(StateWriting)
		for _, out := range derived {
			if err := writer.Write(out); err != nil {
				return nil, d.fail(writer, &DriverError{State: StateWriting, Stage: StageWrite, Record: n, Err: asWriteError(err)})
			}
		}
		summary.RecordCount += len(derived)
	}

	d.transition(StateFinalizing)
	result, err := writer.Finish()
	if err != nil {
		return nil, d.fail(writer, &DriverError{State: StateFinalizing, Stage: StageWrite, Err: asWriteError(err)})
	}

	summary.RecordCount = result.RecordCount
	summary.Attributes = make(map[string]string, len(result.Attributes)+2)
	for k, v := range result.Attributes {
		summary.Attributes[k] = v
	}
	summary.Attributes[connector.AttrRecordCount] = strconv.Itoa(result.RecordCount)
	if mime := writer.MimeType(); mime != "" {
		summary.Attributes[connector.AttrMimeType] = mime
	}

	d.transition(StateDone)
	return summary, nil
}

// derive runs the filters then the transformer on one record.
func (d *Driver) derive(ctx context.Context, record map[string]interface{}) ([]map[string]interface{}, bool, *DriverError) {
	kept, err := filter.Apply(ctx, d.filters, record)
	if err != nil {
		return nil, false, &DriverError{State: StateTransforming, Stage: StageFilter, Err: err}
	}
	if kept == nil {
		return nil, true, nil
	}

	derived, err := d.transformer.Transform(kept, d.selections)
	if err != nil {
		return nil, false, &DriverError{State: StateTransforming, Stage: StageTransform, Err: err}
	}
	return derived, false, nil
}

func (d *Driver) fail(writer output.Writer, err *DriverError) error {
	d.transition(StateFailed)
	_ = writer.Abort()
	return err
}

// asReadError classifies unclassified reader failures as malformed input.
func asReadError(err error) error {
	if isClassifiedOrCanceled(err) {
		return err
	}
	return errhandling.NewMalformedInputError("reading record", err)
}

// asWriteError classifies unclassified writer failures as write errors.
func asWriteError(err error) error {
	if isClassifiedOrCanceled(err) {
		return err
	}
	return errhandling.NewWriteError("writing record", err)
}

func isClassifiedOrCanceled(err error) bool {
	var classified *errhandling.ClassifiedError
	return errors.As(err, &classified) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

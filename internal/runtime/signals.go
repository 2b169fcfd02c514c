package runtime

import (
	"context"
	"time"

	"github.com/zoobzio/capitan"
)

// Signals for unit-of-work lifecycle events.
var (
	SignalUnitStarted   = capitan.NewSignal("keyhash.unit.started", "Unit of work processing beginning")
	SignalUnitCompleted = capitan.NewSignal("keyhash.unit.completed", "Unit of work routed to success")
	SignalUnitFailed    = capitan.NewSignal("keyhash.unit.failed", "Unit of work routed to failure")
)

// Keys for typed event data.
var (
	KeyPipelineID    = capitan.NewStringKey("pipeline_id")
	KeyUnitID        = capitan.NewStringKey("unit_id")
	KeyFilename      = capitan.NewStringKey("filename")
	KeyRecordsRead   = capitan.NewIntKey("records_read")
	KeyRecordCount   = capitan.NewIntKey("record_count")
	KeyDuration      = capitan.NewDurationKey("duration")
	KeyErrorCategory = capitan.NewStringKey("error_category")
	KeyError         = capitan.NewErrorKey("error")
)

// UnitEvent is the typed form of a unit lifecycle signal.
type UnitEvent struct {
	Signal      capitan.Signal
	PipelineID  string
	UnitID      string
	Filename    string
	RecordsRead int
	RecordCount int
	Category    string
	Err         error
	Duration    time.Duration
}

// Finished reports whether the event ends a unit of work.
func (e UnitEvent) Finished() bool {
	return e.Signal == SignalUnitCompleted || e.Signal == SignalUnitFailed
}

// ObserveUnits calls fn for every unit lifecycle event emitted on c. Close the
// returned observer when the run ends. With an asynchronous instance fn may
// run concurrently for different signals.
func ObserveUnits(c *capitan.Capitan, fn func(UnitEvent)) *capitan.Observer {
	return c.Observe(func(_ context.Context, e *capitan.Event) {
		fn(unitEventFrom(e))
	}, SignalUnitStarted, SignalUnitCompleted, SignalUnitFailed)
}

func unitEventFrom(e *capitan.Event) UnitEvent {
	ev := UnitEvent{Signal: e.Signal()}
	ev.PipelineID, _ = KeyPipelineID.From(e)
	ev.UnitID, _ = KeyUnitID.From(e)
	ev.Filename, _ = KeyFilename.From(e)
	ev.RecordsRead, _ = KeyRecordsRead.From(e)
	ev.RecordCount, _ = KeyRecordCount.From(e)
	ev.Category, _ = KeyErrorCategory.From(e)
	ev.Err, _ = KeyError.From(e)
	ev.Duration, _ = KeyDuration.From(e)
	return ev
}

// Lifecycle events are emitted detached from cancellation so the failure of a
// canceled unit is still delivered.

func (p *Processor) emitUnitStarted(ctx context.Context, unitID, filename string) {
	p.events.Emit(context.WithoutCancel(ctx), SignalUnitStarted,
		KeyPipelineID.Field(p.pipeline.ID),
		KeyUnitID.Field(unitID),
		KeyFilename.Field(filename),
	)
}

func (p *Processor) emitUnitCompleted(ctx context.Context, unitID, filename string, recordsRead, recordCount int, duration time.Duration) {
	p.events.Emit(context.WithoutCancel(ctx), SignalUnitCompleted,
		KeyPipelineID.Field(p.pipeline.ID),
		KeyUnitID.Field(unitID),
		KeyFilename.Field(filename),
		KeyRecordsRead.Field(recordsRead),
		KeyRecordCount.Field(recordCount),
		KeyDuration.Field(duration),
	)
}

func (p *Processor) emitUnitFailed(ctx context.Context, unitID, filename, category string, duration time.Duration, err error) {
	p.events.Error(context.WithoutCancel(ctx), SignalUnitFailed,
		KeyPipelineID.Field(p.pipeline.ID),
		KeyUnitID.Field(unitID),
		KeyFilename.Field(filename),
		KeyErrorCategory.Field(category),
		KeyDuration.Field(duration),
		KeyError.Field(err),
	)
}

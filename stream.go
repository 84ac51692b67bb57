package cmdstream

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/gogpu/cmdstream/backend"
	"github.com/gogpu/cmdstream/command"
	"github.com/gogpu/cmdstream/internal/engine"
	"github.com/gogpu/cmdstream/resource"
	"github.com/gogpu/gpucontext"
)

// Mode selects where recorded commands execute.
type Mode = engine.Mode

const (
	// ModeThreaded executes on a dedicated worker goroutine.
	ModeThreaded = engine.ModeThreaded

	// ModeInline executes each command on the caller's goroutine before the
	// encoding method returns.
	ModeInline = engine.ModeInline
)

// State is the executor state reported in Stats.
type State = engine.State

// Executor states.
const (
	StateIdle             = engine.StateIdle
	StateDrainingPriority = engine.StateDrainingPriority
	StateDrainingNormal   = engine.StateDrainingNormal
	StateStopped          = engine.StateStopped
)

// Stats is a snapshot of stream counters.
type Stats = engine.Stats

// Stream records commands for a backend and executes them asynchronously,
// in order, against the backend.
//
// A Stream is owned by one goroutine: all methods except Stats, Err and ID
// must be called from the goroutine that created it, or with external
// synchronization. Callbacks run on the executor and may only use the
// stream in inline mode.
type Stream struct {
	id     uuid.UUID
	eng    *engine.Engine
	be     backend.Backend
	device gpucontext.DeviceProvider
	log    *streamLogger
	chunk  int
	mapped map[resource.ID]struct{}
}

// New creates a stream executing against be and initializes be. A nil be
// selects backend.Default().
func New(be backend.Backend, opts ...Option) (*Stream, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if be == nil {
		be = backend.Default()
		if be == nil {
			return nil, fmt.Errorf("cmdstream: %w", backend.ErrBackendNotAvailable)
		}
	}

	s := &Stream{
		id:     uuid.New(),
		be:     be,
		device: o.device,
		mapped: make(map[resource.ID]struct{}),
	}
	s.log = newStreamLogger("stream", s.id.String())
	if ls, ok := be.(loggerSetter); ok {
		ls.SetLogger(s.log.get())
	}

	eng, err := engine.New(engine.Config{
		Mode:                 o.mode,
		LaneCapacity:         o.laneCapacity,
		PriorityLaneCapacity: o.priorityLaneCapacity,
		MaxLaneCapacity:      o.maxLaneCapacity,
		SpinCount:            o.spinCount,
		PollInterval:         o.pollInterval,
		MaxObjects:           o.maxObjects,
		Device:               o.device,
		Logger:               s.log.get,
	}, be)
	if err != nil {
		return nil, fmt.Errorf("cmdstream: %w", err)
	}
	s.eng = eng
	s.chunk = uploadChunk(eng.Stats().Normal.Capacity)
	return s, nil
}

// uploadChunk returns the largest UpdateBuffer payload per record for a
// lane of the given capacity. A record never takes more than a quarter of
// the lane, so uploads stream through it instead of stalling on one record.
func uploadChunk(capacity int) int {
	const header = 20
	return max(capacity/4-header, 4) &^ 3
}

// ID returns the stream's unique id. It appears as the "stream" attribute
// in every log record the stream emits.
func (s *Stream) ID() uuid.UUID { return s.id }

// Mode returns the execution strategy.
func (s *Stream) Mode() Mode { return s.eng.Mode() }

// Backend returns the backend the stream executes against.
func (s *Stream) Backend() backend.Backend { return s.be }

// Stats returns a snapshot of the stream counters. It may be called from
// any goroutine; in inline mode counters read off the producer goroutine
// can lag behind a concurrent submit.
func (s *Stream) Stats() Stats { return s.eng.Stats() }

// Err returns the first error a backend call reported during deferred
// execution, or nil. Every such error is also logged.
func (s *Stream) Err() error { return s.eng.Executor().Err() }

// Closed reports whether Close was called.
func (s *Stream) Closed() bool { return s.eng.Closed() }

func (s *Stream) submit(rec command.Record) error {
	return s.submitTo(engine.LaneNormal, rec)
}

func (s *Stream) submitTo(l engine.Lane, rec command.Record) error {
	if s.eng.Closed() {
		return ErrStreamClosed
	}
	if err := s.eng.Submit(l, rec); err != nil {
		return fmt.Errorf("cmdstream: %w", err)
	}
	return nil
}

// Finish blocks until every command recorded on the normal lane before the
// call has executed, including the backend calls it caused. Results written
// by those commands are visible afterwards.
//
// It returns ErrReentrantFinish when ctx was handed to a callback by the
// executor, and ctx.Err() when ctx ends first.
func (s *Stream) Finish(ctx context.Context) error {
	return s.finish(ctx, engine.LaneNormal)
}

// FinishPriority is Finish for the priority lane. It does not wait for
// normal-lane commands.
func (s *Stream) FinishPriority(ctx context.Context) error {
	return s.finish(ctx, engine.LanePriority)
}

func (s *Stream) finish(ctx context.Context, l engine.Lane) error {
	if s.eng.Closed() {
		return ErrStreamClosed
	}
	if err := s.eng.Finish(ctx, l); err != nil {
		return fmt.Errorf("cmdstream: finish %v lane: %w", l, err)
	}
	return nil
}

// Poll runs one round of housekeeping: issued queries are polled and the
// attached device, if any, is polled. A threaded stream does this on its
// own while queries are pending; Poll only makes it happen sooner.
func (s *Stream) Poll() {
	if !s.eng.Closed() {
		s.eng.Poll()
	}
}

// Callback records fn on the normal lane. fn runs on the executor after
// every earlier command. Its ctx marks executor code: Finish with it fails
// with ErrReentrantFinish instead of deadlocking.
func (s *Stream) Callback(fn func(ctx context.Context)) error {
	return s.callback(engine.LaneNormal, fn)
}

// PriorityCallback records fn on the priority lane, ahead of any normal
// command the executor has not started yet.
func (s *Stream) PriorityCallback(fn func(ctx context.Context)) error {
	return s.callback(engine.LanePriority, fn)
}

func (s *Stream) callback(l engine.Lane, fn func(ctx context.Context)) error {
	if fn == nil {
		return fmt.Errorf("cmdstream: callback: %w: nil func", ErrInvalidUsage)
	}
	if s.eng.Closed() {
		return ErrStreamClosed
	}
	x := s.eng.Executor()
	id, err := x.AddCallback(fn)
	if err != nil {
		return fmt.Errorf("cmdstream: callback: %w", err)
	}
	if err := s.submitTo(l, command.Callback{Callback: id}); err != nil {
		x.Cancel(command.OpCallback, id)
		return err
	}
	return nil
}

// Close records the terminal Stop command, waits until everything recorded
// before it has executed, and closes the backend. Resources still alive are
// left to the garbage collector. Later calls return ErrStreamClosed.
func (s *Stream) Close() error {
	if s.eng.Closed() {
		return ErrStreamClosed
	}
	if err := s.eng.Close(); err != nil {
		return fmt.Errorf("cmdstream: close: %w", err)
	}
	return nil
}

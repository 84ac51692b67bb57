// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package engine executes command records published to a pair of ring lanes.
//
// The producer side (Engine.Submit, Engine.Finish) encodes records, takes
// references on the resources they name and publishes them. The consumer
// side (Executor) decodes each record, runs it through the dispatch table
// against the state shadow and the backend, and releases the references.
//
// Where the consumer runs is decided by a Strategy. Inline executes on the
// producer's goroutine right after each publish; Threaded runs one worker
// goroutine that owns both lane tails. Both share the Executor and its
// dispatch table, so they produce identical results.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/cmdstream/backend"
	"github.com/gogpu/cmdstream/command"
	"github.com/gogpu/cmdstream/internal/handle"
	"github.com/gogpu/cmdstream/internal/ring"
	"github.com/gogpu/cmdstream/resource"
)

// Engine errors.
var (
	// ErrStopped is returned when submitting after Close.
	ErrStopped = errors.New("engine: stopped")

	// ErrReentrantFinish is returned when Finish is called from code running
	// on the executor, where waiting would never return.
	ErrReentrantFinish = errors.New("engine: finish called from the executor")

	// ErrUnknownResource is returned when a record names an id that is not
	// in the resource table.
	ErrUnknownResource = errors.New("engine: unknown resource")

	// ErrResourceDestroyed is returned when a record names a resource whose
	// destruction is already queued.
	ErrResourceDestroyed = errors.New("engine: resource destroyed")
)

// Default tuning values.
const (
	DefaultLaneCapacity         = 1 << 20
	DefaultPriorityLaneCapacity = 1 << 14
	DefaultMaxLaneCapacity      = 1 << 26
	DefaultSpinCount            = 64
	DefaultPollInterval         = time.Millisecond
)

// Mode selects the execution strategy.
type Mode uint8

const (
	// ModeThreaded runs a dedicated worker goroutine.
	ModeThreaded Mode = iota

	// ModeInline executes each record on the producer's goroutine.
	ModeInline
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeThreaded:
		return "threaded"
	case ModeInline:
		return "inline"
	default:
		return fmt.Sprintf("Mode(%d)", m)
	}
}

// Lane selects one of the two queues.
type Lane uint8

const (
	LaneNormal Lane = iota
	LanePriority

	laneCount = 2
)

// String returns the lane name.
func (l Lane) String() string {
	switch l {
	case LaneNormal:
		return "normal"
	case LanePriority:
		return "priority"
	default:
		return fmt.Sprintf("Lane(%d)", l)
	}
}

// State is the executor state.
type State uint32

const (
	StateIdle State = iota
	StateDrainingPriority
	StateDrainingNormal
	StateStopped
)

var stateNames = [...]string{
	StateIdle:             "Idle",
	StateDrainingPriority: "DrainingPriority",
	StateDrainingNormal:   "DrainingNormal",
	StateStopped:          "Stopped",
}

// String returns the state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// Config configures an Engine. Zero fields take the defaults above.
type Config struct {
	Mode                 Mode
	LaneCapacity         int
	PriorityLaneCapacity int
	MaxLaneCapacity      int
	SpinCount            int
	PollInterval         time.Duration
	MaxObjects           int

	// Device, when set, is polled between drains so asynchronous device
	// work (buffer maps, fences) makes progress.
	Device gpucontext.DeviceProvider

	// Logger returns the logger to use. It is called on every log site so
	// a logger swapped at runtime takes effect. Nil disables logging.
	Logger func() *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.LaneCapacity <= 0 {
		c.LaneCapacity = DefaultLaneCapacity
	}
	if c.PriorityLaneCapacity <= 0 {
		c.PriorityLaneCapacity = DefaultPriorityLaneCapacity
	}
	if c.MaxLaneCapacity <= 0 {
		c.MaxLaneCapacity = DefaultMaxLaneCapacity
	}
	if c.SpinCount < 0 {
		c.SpinCount = 0
	} else if c.SpinCount == 0 {
		c.SpinCount = DefaultSpinCount
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Strategy decides where and when published records execute.
type Strategy interface {
	// Mode identifies the strategy.
	Mode() Mode

	// Published is called on the producer goroutine after every publish.
	Published(l Lane)

	// CanFinish returns ErrReentrantFinish when waiting on a fence from
	// ctx would deadlock.
	CanFinish(ctx context.Context) error

	// Poll runs or requests one round of housekeeping.
	Poll()

	// Wait blocks until the Stop record has executed.
	Wait()
}

// Engine is the producer-facing half of a command stream executor.
// Submit, Finish, Poll and Close must be called from one goroutine.
type Engine struct {
	cfg      Config
	x        *Executor
	strategy Strategy

	refs   []resource.ID
	closed atomic.Bool
}

// New creates an engine that executes against be and initializes be.
func New(cfg Config, be backend.Backend) (*Engine, error) {
	if be == nil {
		return nil, fmt.Errorf("engine: %w", backend.ErrBackendNotAvailable)
	}
	cfg = cfg.withDefaults()
	x := newExecutor(cfg, be)

	var waker ring.Waker
	var maxCap int
	var inline bool
	var strategy Strategy
	switch cfg.Mode {
	case ModeInline:
		maxCap = cfg.MaxLaneCapacity
		inline = true
		strategy = &Inline{x: x}
	case ModeThreaded:
		t := newThreaded(x, cfg)
		waker = t.idle
		strategy = t
	default:
		return nil, fmt.Errorf("engine: unknown mode %v", cfg.Mode)
	}
	x.lanes[LaneNormal] = ring.New(ring.Options{
		Capacity:    cfg.LaneCapacity,
		MaxCapacity: maxCap,
		Inline:      inline,
		SpinCount:   cfg.SpinCount,
		Waker:       waker,
	})
	x.lanes[LanePriority] = ring.New(ring.Options{
		Capacity:    cfg.PriorityLaneCapacity,
		MaxCapacity: maxCap,
		Inline:      inline,
		SpinCount:   cfg.SpinCount,
		Waker:       waker,
	})

	if err := be.Init(x); err != nil {
		return nil, fmt.Errorf("engine: init backend %s: %w", be.Name(), err)
	}
	if t, ok := strategy.(*Threaded); ok {
		t.start()
	}
	x.logger().Debug("cmdstream: engine started",
		"mode", cfg.Mode,
		"backend", be.Name(),
		"lane", x.lanes[LaneNormal].Capacity(),
		"priorityLane", x.lanes[LanePriority].Capacity())

	return &Engine{cfg: cfg, x: x, strategy: strategy}, nil
}

// Mode returns the execution strategy in use.
func (e *Engine) Mode() Mode { return e.strategy.Mode() }

// Executor returns the consumer half. Its tables are how the producer
// registers objects that records refer to by id.
func (e *Engine) Executor() *Executor { return e.x }

// State returns the executor state.
func (e *Engine) State() State { return e.x.State() }

// Submit encodes rec and publishes it to lane l. Every resource the record
// references is acquired first and released by the executor after the
// record ran. On failure nothing is published and nothing stays acquired.
func (e *Engine) Submit(l Lane, rec command.Record) error {
	if e.closed.Load() {
		return ErrStopped
	}
	return e.submit(l, rec)
}

func (e *Engine) submit(l Lane, rec command.Record) error {
	if l >= laneCount {
		return fmt.Errorf("engine: submit %v: unknown %v", rec.Opcode(), l)
	}
	e.refs = rec.AppendRefs(e.refs[:0])
	for i, id := range e.refs {
		obj, ok := e.x.resources.Get(uint32(id))
		if ok && obj.Destroyed() {
			e.releaseRefs(e.refs[:i])
			return fmt.Errorf("%v: %w: %v", rec.Opcode(), ErrResourceDestroyed, obj)
		}
		if !ok {
			e.releaseRefs(e.refs[:i])
			return fmt.Errorf("%v: %w: id %d", rec.Opcode(), ErrUnknownResource, id)
		}
		obj.Acquire()
	}

	lane := e.x.lanes[l]
	buf, err := lane.Reserve(rec.Size())
	if err != nil {
		e.releaseRefs(e.refs)
		return fmt.Errorf("%v on %v lane: %w", rec.Opcode(), l, err)
	}
	command.Encode(buf, rec)
	lane.Publish(len(buf))
	e.strategy.Published(l)
	return nil
}

func (e *Engine) releaseRefs(ids []resource.ID) {
	for _, id := range ids {
		if obj, ok := e.x.resources.Get(uint32(id)); ok {
			obj.Release()
		}
	}
}

// Finish blocks until every record published to lane l before the call
// has executed. It returns ErrReentrantFinish when called from executor
// code and ctx.Err() when ctx ends first; the fence still executes later.
func (e *Engine) Finish(ctx context.Context, l Lane) error {
	if err := e.strategy.CanFinish(ctx); err != nil {
		return err
	}
	if e.closed.Load() {
		return ErrStopped
	}
	f := NewFence()
	id, err := e.x.fences.Insert(f)
	if err != nil {
		return fmt.Errorf("engine: finish: %w", err)
	}
	if err := e.submit(l, command.Fence{Fence: id}); err != nil {
		e.x.fences.Remove(id)
		return err
	}
	return f.Wait(ctx, e.cfg.SpinCount)
}

// Poll runs one round of housekeeping: pending queries are polled and the
// configured device is polled. In threaded mode it only wakes the worker.
func (e *Engine) Poll() {
	e.strategy.Poll()
}

// Close publishes the terminal Stop record, waits until it executed and
// closes the backend. Later calls return ErrStopped.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrStopped
	}
	if err := e.submit(LaneNormal, command.Stop{}); err != nil {
		return err
	}
	e.strategy.Wait()
	e.x.leaks()
	e.x.backend.Close()
	e.x.logger().Debug("cmdstream: engine stopped", "stats", e.Stats())
	return nil
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool { return e.closed.Load() }

// Stats is a snapshot of engine counters.
type Stats struct {
	Mode             Mode
	State            State
	Executed         uint64
	ExecutedPriority uint64
	BackendErrors    uint64
	PendingQueries   int
	Normal           ring.Stats
	Priority         ring.Stats
	Resources        handle.Stats
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Mode:             e.Mode(),
		State:            e.x.State(),
		Executed:         e.x.executed[LaneNormal].Load(),
		ExecutedPriority: e.x.executed[LanePriority].Load(),
		BackendErrors:    e.x.backendErrors.Load(),
		PendingQueries:   int(e.x.pendingQueries.Load()),
		Normal:           e.x.lanes[LaneNormal].Stats(),
		Priority:         e.x.lanes[LanePriority].Stats(),
		Resources:        e.x.resources.Stats(),
	}
}

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu"

	"github.com/gogpu/cmdstream/backend"
	"github.com/gogpu/cmdstream/command"
	"github.com/gogpu/cmdstream/internal/handle"
	"github.com/gogpu/cmdstream/internal/ring"
	"github.com/gogpu/cmdstream/resource"
	"github.com/gogpu/cmdstream/state"
)

// MapResult receives the outcome of a Map record. The producer reads it
// after the fence that follows the record.
type MapResult struct {
	Data []byte
	Err  error
}

// DestroyFunc frees an object queued with a DestroyObject record.
type DestroyFunc func(obj any)

type destroyEntry struct {
	obj     any
	destroy DestroyFunc
}

func (e destroyEntry) run() {
	switch {
	case e.destroy != nil:
		e.destroy(e.obj)
	default:
		if d, ok := e.obj.(interface{ Destroy() }); ok {
			d.Destroy()
		}
	}
}

// devicePoller is the polling method of *wgpu.Device.
type devicePoller interface {
	Poll(wgpu.PollType) bool
}

// Executor is the consumer half: it owns the lane tails, the state shadow
// and every call into the backend. Only the strategy's executing goroutine
// runs its drain loop; the tables and counters are safe to use from the
// producer.
type Executor struct {
	lanes   [laneCount]*ring.Lane
	shadow  *state.Shadow
	backend backend.Backend
	device  gpucontext.DeviceProvider
	log     func() *slog.Logger

	// ctx carries the executor token into callbacks.
	ctx context.Context

	resources *handle.Table[resource.Object]
	fences    *handle.Table[*Fence]
	callbacks *handle.Table[func(context.Context)]
	maps      *handle.Table[*MapResult]
	destroys  *handle.Table[destroyEntry]

	queries []*resource.Query
	refs    []resource.ID

	// deferred holds destroy entries whose resource still had references
	// when its DestroyObject record ran. The last release runs them.
	deferred map[resource.ID]destroyEntry

	state          atomic.Uint32
	executed       [laneCount]atomic.Uint64
	backendErrors  atomic.Uint64
	pendingQueries atomic.Int64
	firstErr       atomic.Pointer[error]
}

func newExecutor(cfg Config, be backend.Backend) *Executor {
	x := &Executor{
		shadow:    state.New(),
		backend:   be,
		device:    cfg.Device,
		log:       cfg.Logger,
		resources: handle.New[resource.Object](cfg.MaxObjects),
		fences:    handle.New[*Fence](cfg.MaxObjects),
		callbacks: handle.New[func(context.Context)](cfg.MaxObjects),
		maps:      handle.New[*MapResult](cfg.MaxObjects),
		destroys:  handle.New[destroyEntry](cfg.MaxObjects),
		deferred:  make(map[resource.ID]destroyEntry),
	}
	x.ctx = withToken(context.Background(), x)
	return x
}

var nopLogger = slog.New(slog.DiscardHandler)

func (x *Executor) logger() *slog.Logger {
	if x.log == nil {
		return nopLogger
	}
	if l := x.log(); l != nil {
		return l
	}
	return nopLogger
}

// Resources returns the resource table. Ids handed out by it are the ids
// records carry.
func (x *Executor) Resources() *handle.Table[resource.Object] { return x.resources }

// AddCallback registers fn to run once on the executor and returns the id
// for a Callback record.
func (x *Executor) AddCallback(fn func(context.Context)) (uint32, error) {
	return x.callbacks.Insert(fn)
}

// AddMapResult registers a result slot for a Map record.
func (x *Executor) AddMapResult(r *MapResult) (uint32, error) {
	return x.maps.Insert(r)
}

// AddDestroy registers obj for a DestroyObject record. A nil destroy
// calls obj's Destroy method.
func (x *Executor) AddDestroy(obj any, destroy DestroyFunc) (uint32, error) {
	return x.destroys.Insert(destroyEntry{obj: obj, destroy: destroy})
}

// Cancel drops a one-shot entry whose record could not be published.
func (x *Executor) Cancel(op command.Opcode, id uint32) {
	switch op {
	case command.OpCallback:
		x.callbacks.Remove(id)
	case command.OpMap:
		x.maps.Remove(id)
	case command.OpDestroyObject:
		x.destroys.Remove(id)
	case command.OpFence:
		x.fences.Remove(id)
	}
}

func (x *Executor) lookup(id resource.ID) resource.Object {
	if id == 0 {
		return nil
	}
	obj, _ := x.resources.Get(uint32(id))
	return obj
}

// Buffer implements backend.Resolver.
func (x *Executor) Buffer(id resource.ID) *resource.Buffer {
	b, _ := x.lookup(id).(*resource.Buffer)
	return b
}

// Texture implements backend.Resolver.
func (x *Executor) Texture(id resource.ID) *resource.Texture {
	t, _ := x.lookup(id).(*resource.Texture)
	return t
}

// Shader implements backend.Resolver.
func (x *Executor) Shader(id resource.ID) *resource.Shader {
	s, _ := x.lookup(id).(*resource.Shader)
	return s
}

// State returns the executor state.
func (x *Executor) State() State { return State(x.state.Load()) }

func (x *Executor) setState(s State) {
	if old := State(x.state.Swap(uint32(s))); old != s {
		x.logger().Debug("cmdstream: executor state", "from", old, "to", s)
	}
}

// Shadow returns the executor's state shadow. Only executor code may
// touch it while the engine runs.
func (x *Executor) Shadow() *state.Shadow { return x.shadow }

// Err returns the first error a backend call reported.
func (x *Executor) Err() error {
	if p := x.firstErr.Load(); p != nil {
		return *p
	}
	return nil
}

// ready reports whether either lane holds unread records.
func (x *Executor) ready() bool {
	return !x.lanes[LanePriority].Empty() || !x.lanes[LaneNormal].Empty()
}

// drain executes records until both lanes are empty or Stop ran. The
// priority lane is checked before every normal record. It returns true
// once Stop executed.
func (x *Executor) drain() bool {
	if x.State() == StateStopped {
		return true
	}
	for {
		switch {
		case !x.lanes[LanePriority].Empty():
			x.setState(StateDrainingPriority)
			if x.step(LanePriority) {
				return true
			}
		case !x.lanes[LaneNormal].Empty():
			x.setState(StateDrainingNormal)
			if x.step(LaneNormal) {
				return true
			}
		default:
			x.setState(StateIdle)
			return false
		}
	}
}

// step executes the record at the tail of lane l and reports whether it
// was Stop.
func (x *Executor) step(l Lane) bool {
	lane := x.lanes[l]
	b := lane.Readable()
	rec, n, err := command.Decode(b)
	if err != nil {
		st := lane.Stats()
		x.logger().Error("cmdstream: corrupt lane", "lane", l, "tail", st.Tail, "head", st.Head, "err", err)
		panic(fmt.Sprintf("cmdstream: corrupt %v lane at %d: %v", l, st.Tail, err))
	}
	op := rec.Opcode()
	if !op.Padding() {
		x.executed[l].Add(1)
		handlers[op](x, rec)
		x.release(rec)
	}
	lane.Consume(n)
	if op == command.OpStop {
		x.setState(StateStopped)
		return true
	}
	return false
}

// release drops the references the encoder took for rec.
func (x *Executor) release(rec command.Record) {
	x.refs = rec.AppendRefs(x.refs[:0])
	for _, id := range x.refs {
		obj, ok := x.resources.Get(uint32(id))
		if !ok {
			x.logger().Error("cmdstream: release of unknown resource", "op", rec.Opcode(), "id", id)
			continue
		}
		n := obj.Release()
		switch {
		case n < 0:
			x.logger().Error("cmdstream: reference count below zero", "resource", obj, "refs", n)
		case n == 0:
			if e, ok := x.deferred[id]; ok {
				delete(x.deferred, id)
				x.resources.Remove(uint32(id))
				x.logger().Debug("cmdstream: running deferred destroy", "resource", obj)
				e.run()
			}
		}
	}
}

// leaks logs every resource that is still referenced or still waiting for
// a deferred destroy. It must only run after the executor stopped.
func (x *Executor) leaks() {
	x.resources.Range(func(_ uint32, obj resource.Object) bool {
		if refs := obj.Refs(); refs != 0 {
			x.logger().Warn("cmdstream: resource referenced at close", "resource", obj, "refs", refs)
		}
		return true
	})
	for _, e := range x.deferred {
		x.logger().Warn("cmdstream: destroy never ran", "resource", e.obj)
	}
}

// fail records a backend error. Deferred work has no caller to return to,
// so the first error is kept for Err and every error is logged.
func (x *Executor) fail(op command.Opcode, err error) {
	x.backendErrors.Add(1)
	x.firstErr.CompareAndSwap(nil, &err)
	x.logger().Warn("cmdstream: backend call failed", "op", op, "backend", x.backend.Name(), "err", err)
}

// housekeeping polls issued queries and the device. It reports whether
// queries are still pending.
func (x *Executor) housekeeping() bool {
	if len(x.queries) > 0 {
		x.queries = slices.DeleteFunc(x.queries, func(q *resource.Query) bool {
			return q.Poll()
		})
		x.pendingQueries.Store(int64(len(x.queries)))
	}
	if x.device != nil {
		if d, ok := x.device.Device().(devicePoller); ok {
			d.Poll(wgpu.PollPoll)
		}
	}
	return len(x.queries) > 0
}

// forgetQuery drops q from the pending list.
func (x *Executor) forgetQuery(q *resource.Query) {
	x.queries = slices.DeleteFunc(x.queries, func(p *resource.Query) bool { return p == q })
	x.pendingQueries.Store(int64(len(x.queries)))
}

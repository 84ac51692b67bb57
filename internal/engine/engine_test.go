// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package engine

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"

	"github.com/gogpu/cmdstream/backend"
	"github.com/gogpu/cmdstream/command"
	"github.com/gogpu/cmdstream/internal/ring"
	"github.com/gogpu/cmdstream/resource"
	"github.com/gogpu/cmdstream/state"
)

var modes = []Mode{ModeInline, ModeThreaded}

func newEngine(t *testing.T, cfg Config, be backend.Backend) *Engine {
	t.Helper()
	e, err := New(cfg, be)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if !e.Closed() {
			if err := e.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}
		}
	})
	return e
}

func addTexture(t *testing.T, e *Engine, label string) *resource.Texture {
	t.Helper()
	res := e.Executor().Resources()
	id, err := res.Allocate()
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	tex, err := resource.NewTexture(resource.ID(id), resource.TextureDescriptor{
		Label:  label,
		Width:  4,
		Height: 4,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageRenderAttachment,
	})
	if err != nil {
		t.Fatalf("NewTexture() error = %v", err)
	}
	res.Store(id, tex)
	return tex
}

func addBuffer(t *testing.T, e *Engine, size int) *resource.Buffer {
	t.Helper()
	res := e.Executor().Resources()
	id, err := res.Allocate()
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	buf, err := resource.NewBuffer(resource.ID(id), resource.BufferDescriptor{Size: size})
	if err != nil {
		t.Fatalf("NewBuffer() error = %v", err)
	}
	res.Store(id, buf)
	return buf
}

func submit(t *testing.T, e *Engine, l Lane, recs ...command.Record) {
	t.Helper()
	for _, rec := range recs {
		if err := e.Submit(l, rec); err != nil {
			t.Fatalf("Submit(%v) error = %v", rec.Opcode(), err)
		}
	}
}

func finish(t *testing.T, e *Engine, l Lane) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Finish(ctx, l); err != nil {
		t.Fatalf("Finish(%v) error = %v", l, err)
	}
}

// blocker parks the executor inside a callback until release is called.
type blocker struct {
	entered chan struct{}
	release chan struct{}
}

func block(t *testing.T, e *Engine) *blocker {
	t.Helper()
	b := &blocker{entered: make(chan struct{}), release: make(chan struct{})}
	id, err := e.Executor().AddCallback(func(context.Context) {
		close(b.entered)
		<-b.release
	})
	if err != nil {
		t.Fatalf("AddCallback() error = %v", err)
	}
	submit(t, e, LaneNormal, command.Callback{Callback: id})
	<-b.entered
	return b
}

func (b *blocker) unblock() { close(b.release) }

func TestNew_NilBackend(t *testing.T) {
	if _, err := New(Config{}, nil); !errors.Is(err, backend.ErrBackendNotAvailable) {
		t.Errorf("New(nil) error = %v, want ErrBackendNotAvailable", err)
	}
}

func TestNew_InitError(t *testing.T) {
	rec := backend.NewRecorder()
	rec.FailOn = map[backend.CallType]error{backend.CallInit: backend.ErrNotInitialized}
	if _, err := New(Config{Mode: ModeInline}, rec); !errors.Is(err, backend.ErrNotInitialized) {
		t.Errorf("New() error = %v, want ErrNotInitialized", err)
	}
}

func TestEngine_LazyStateApply(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			rec := backend.NewRecorder()
			e := newEngine(t, Config{Mode: mode}, rec)

			submit(t, e, LaneNormal,
				command.SetRenderState{Key: state.RenderStateDepthBias, Value: 1},
				command.Draw{VertexCount: 10, InstanceCount: 1},
				command.SetRenderState{Key: state.RenderStateDepthBias, Value: 2},
				command.Draw{VertexCount: 5, InstanceCount: 1},
			)
			finish(t, e, LaneNormal)

			calls := rec.Calls()
			want := []backend.CallType{
				backend.CallInit,
				backend.CallApplyState, backend.CallDraw,
				backend.CallApplyState, backend.CallDraw,
			}
			if len(calls) != len(want) {
				t.Fatalf("recorded %d calls, want %d: %v", len(calls), len(want), calls)
			}
			for i, c := range calls {
				if c.Type != want[i] {
					t.Errorf("call %d = %v, want %v", i, c.Type, want[i])
				}
			}
			if got := calls[1].State.RenderStates[state.RenderStateDepthBias]; got != 1 {
				t.Errorf("first ApplyState DepthBias = %d, want 1", got)
			}
			if calls[1].Dirty != state.DirtyAll {
				t.Errorf("first ApplyState dirty = %v, want %v", calls[1].Dirty, state.DirtyAll)
			}
			if got := calls[3].State.RenderStates[state.RenderStateDepthBias]; got != 2 {
				t.Errorf("second ApplyState DepthBias = %d, want 2", got)
			}
			if calls[3].Dirty != state.DirtyRenderStates {
				t.Errorf("second ApplyState dirty = %v, want %v", calls[3].Dirty, state.DirtyRenderStates)
			}
			if got := calls[4].Record.(command.Draw).VertexCount; got != 5 {
				t.Errorf("second Draw VertexCount = %d, want 5", got)
			}
		})
	}
}

func TestEngine_NoApplyWithoutChanges(t *testing.T) {
	rec := backend.NewRecorder()
	e := newEngine(t, Config{Mode: ModeInline}, rec)
	submit(t, e, LaneNormal,
		command.Draw{VertexCount: 3},
		command.Draw{VertexCount: 3},
		command.Dispatch{X: 1, Y: 1, Z: 1},
	)
	if got := rec.Count(backend.CallApplyState); got != 1 {
		t.Errorf("ApplyState calls = %d, want 1", got)
	}
}

func TestEngine_InlineThreadedEquivalence(t *testing.T) {
	tex := func(e *Engine) resource.ID { return addTexture(t, e, "target").ID() }
	script := func(target resource.ID) []command.Record {
		return []command.Record{
			command.SetRenderTarget{Index: 0, Texture: target},
			command.SetViewport{Viewport: state.Viewport{Width: 4, Height: 4, MaxDepth: 1}},
			command.Clear{Flags: command.ClearColor, Color: state.Color{R: 1, A: 1}},
			command.SetBlendState{State: state.BlendState{Enabled: true}},
			command.Draw{VertexCount: 3, InstanceCount: 2},
			command.SetConstants{Stage: resource.StageVertex, Start: 2, Values: []state.Vec4{{1, 2, 3, 4}}},
			command.DrawIndexed{IndexCount: 6, InstanceCount: 1, BaseVertex: -1},
			command.ResetState{},
			command.Dispatch{X: 8, Y: 8, Z: 1},
			command.Present{Texture: target},
		}
	}

	var logs [][]backend.Call
	var shadows []state.Shadow
	for _, mode := range modes {
		rec := backend.NewRecorder()
		e := newEngine(t, Config{Mode: mode}, rec)
		submit(t, e, LaneNormal, script(tex(e))...)
		finish(t, e, LaneNormal)
		logs = append(logs, rec.Calls())
		shadows = append(shadows, e.Executor().Shadow().Snapshot())
	}
	if !reflect.DeepEqual(logs[0], logs[1]) {
		t.Errorf("backend call logs differ:\ninline   %v\nthreaded %v", logs[0], logs[1])
	}
	if !reflect.DeepEqual(shadows[0], shadows[1]) {
		t.Errorf("final shadows differ:\ninline   %+v\nthreaded %+v", shadows[0], shadows[1])
	}
}

func TestEngine_PriorityPrecedence(t *testing.T) {
	var mu sync.Mutex
	var order []string
	note := func(s string) func(context.Context) {
		return func(context.Context) {
			mu.Lock()
			order = append(order, s)
			mu.Unlock()
		}
	}
	want := []string{"first", "priority", "normal"}

	t.Run("inline", func(t *testing.T) {
		order = nil
		e := newEngine(t, Config{Mode: ModeInline}, backend.NewRecorder())
		x := e.Executor()
		normal, _ := x.AddCallback(note("normal"))
		prio, _ := x.AddCallback(note("priority"))
		first, _ := x.AddCallback(func(ctx context.Context) {
			note("first")(ctx)
			submit(t, e, LaneNormal, command.Callback{Callback: normal})
			submit(t, e, LanePriority, command.Callback{Callback: prio})
		})
		submit(t, e, LaneNormal, command.Callback{Callback: first})
		if !reflect.DeepEqual(order, want) {
			t.Errorf("order = %v, want %v", order, want)
		}
	})

	t.Run("threaded", func(t *testing.T) {
		order = nil
		e := newEngine(t, Config{Mode: ModeThreaded}, backend.NewRecorder())
		x := e.Executor()
		first, _ := x.AddCallback(note("first"))
		submit(t, e, LaneNormal, command.Callback{Callback: first})
		b := block(t, e)
		normal, _ := x.AddCallback(note("normal"))
		prio, _ := x.AddCallback(note("priority"))
		submit(t, e, LaneNormal, command.Callback{Callback: normal})
		submit(t, e, LanePriority, command.Callback{Callback: prio})
		b.unblock()
		finish(t, e, LaneNormal)

		mu.Lock()
		defer mu.Unlock()
		if !reflect.DeepEqual(order, want) {
			t.Errorf("order = %v, want %v", order, want)
		}
	})
}

func TestEngine_FinishIsReentrantSafe(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newEngine(t, Config{Mode: mode}, backend.NewRecorder())
			got := make(chan error, 1)
			id, _ := e.Executor().AddCallback(func(ctx context.Context) {
				got <- e.Finish(ctx, LaneNormal)
			})
			submit(t, e, LaneNormal, command.Callback{Callback: id})
			if err := <-got; !errors.Is(err, ErrReentrantFinish) {
				t.Errorf("Finish() from callback = %v, want ErrReentrantFinish", err)
			}
			finish(t, e, LaneNormal)
		})
	}
}

func TestEngine_FinishContextDone(t *testing.T) {
	e := newEngine(t, Config{Mode: ModeThreaded}, backend.NewRecorder())
	b := block(t, e)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := e.Finish(ctx, LaneNormal); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Finish() = %v, want DeadlineExceeded", err)
	}

	b.unblock()
	finish(t, e, LaneNormal)
	if n := e.Executor().fences.Len(); n != 0 {
		t.Errorf("fences left = %d, want 0", n)
	}
}

func TestEngine_FinishObservesEarlierWork(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newEngine(t, Config{Mode: mode}, backend.NewRecorder())
			buf := addBuffer(t, e, 16)
			for i := range 100 {
				submit(t, e, LaneNormal, command.UpdateBuffer{
					Buffer: buf.ID(),
					Offset: uint64(i % 16),
					Data:   []byte{byte(i)},
				})
			}
			finish(t, e, LaneNormal)
			if got := buf.Bytes()[99%16]; got != 99 {
				t.Errorf("byte %d = %d, want 99", 99%16, got)
			}
			if got := e.Stats().Executed; got != 101 {
				t.Errorf("Executed = %d, want 101", got)
			}
		})
	}
}

func TestEngine_Wraparound(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			rec := backend.NewRecorder()
			e := newEngine(t, Config{
				Mode:                 mode,
				LaneCapacity:         ring.MinCapacity,
				PriorityLaneCapacity: ring.MinCapacity,
			}, rec)
			for i := range 200 {
				submit(t, e, LaneNormal, command.Draw{VertexCount: uint32(i)})
			}
			finish(t, e, LaneNormal)

			calls := rec.Calls()
			n := 0
			for _, c := range calls {
				if c.Type != backend.CallDraw {
					continue
				}
				if got := c.Record.(command.Draw).VertexCount; got != uint32(n) {
					t.Fatalf("draw %d VertexCount = %d, want %d", n, got, n)
				}
				n++
			}
			if n != 200 {
				t.Errorf("draws = %d, want 200", n)
			}
			st := e.Stats().Normal
			if st.Wraps == 0 {
				t.Error("lane never wrapped")
			}
			if st.Capacity != ring.MinCapacity {
				t.Errorf("lane capacity = %d, want %d", st.Capacity, ring.MinCapacity)
			}
		})
	}
}

func TestEngine_InlineGrowth(t *testing.T) {
	rec := backend.NewRecorder()
	e := newEngine(t, Config{
		Mode:            ModeInline,
		LaneCapacity:    ring.MinCapacity,
		MaxLaneCapacity: 2 * ring.MinCapacity,
	}, rec)

	var submitted int
	var overflow error
	id, _ := e.Executor().AddCallback(func(context.Context) {
		for range 32 {
			if err := e.Submit(LaneNormal, command.Draw{VertexCount: 1}); err != nil {
				overflow = err
				return
			}
			submitted++
		}
	})
	submit(t, e, LaneNormal, command.Callback{Callback: id})

	if !errors.Is(overflow, ring.ErrOutOfMemory) {
		t.Fatalf("Submit() past max capacity = %v, want ErrOutOfMemory", overflow)
	}
	if submitted == 0 {
		t.Fatal("no draw fit before overflow")
	}
	if got := rec.Count(backend.CallDraw); got != submitted {
		t.Errorf("draws executed = %d, want %d", got, submitted)
	}
	if got := e.Stats().Normal.Grows; got != 1 {
		t.Errorf("Grows = %d, want 1", got)
	}
}

func TestEngine_ResourceLifetime(t *testing.T) {
	e := newEngine(t, Config{Mode: ModeThreaded}, backend.NewRecorder())
	x := e.Executor()
	tex := addTexture(t, e, "rt")

	b := block(t, e)
	submit(t, e, LaneNormal,
		command.SetRenderTarget{Index: 0, Texture: tex.ID()},
		command.Present{Texture: tex.ID()},
	)
	if got := tex.Refs(); got != 2 {
		t.Errorf("Refs() while queued = %d, want 2", got)
	}

	destroyed := make(chan int64, 1)
	tex.OnDestroy(func() { destroyed <- tex.Refs() })
	entry, err := x.AddDestroy(tex, nil)
	if err != nil {
		t.Fatalf("AddDestroy() error = %v", err)
	}
	tex.MarkDestroyed()
	submit(t, e, LaneNormal, command.DestroyObject{Entry: entry})

	err = e.Submit(LaneNormal, command.Present{Texture: tex.ID()})
	if !errors.Is(err, ErrResourceDestroyed) {
		t.Errorf("Submit() after destroy = %v, want ErrResourceDestroyed", err)
	}
	if got := tex.Refs(); got != 2 {
		t.Errorf("Refs() after rejected submit = %d, want 2", got)
	}
	select {
	case <-destroyed:
		t.Fatal("texture destroyed while uses were queued")
	default:
	}

	b.unblock()
	finish(t, e, LaneNormal)

	if refs := <-destroyed; refs != 0 {
		t.Errorf("Refs() at destroy = %d, want 0", refs)
	}
	if tex.Pix() != nil {
		t.Error("texture storage not freed")
	}
	if x.Texture(tex.ID()) != nil {
		t.Error("texture still resolvable after destroy")
	}
	if got := x.Shadow().RenderTargets[0]; got != 0 {
		t.Errorf("render target 0 = %d after destroy, want 0", got)
	}
}

// publishRaw publishes rec without notifying the strategy, so an inline
// engine leaves it queued until the test steps the executor itself.
func publishRaw(t *testing.T, e *Engine, l Lane, rec command.Record) {
	t.Helper()
	for _, id := range rec.AppendRefs(nil) {
		obj, ok := e.x.resources.Get(uint32(id))
		if !ok {
			t.Fatalf("unknown resource %d", id)
		}
		obj.Acquire()
	}
	lane := e.x.lanes[l]
	buf, err := lane.Reserve(rec.Size())
	if err != nil {
		t.Fatalf("Reserve(%v) error = %v", rec.Opcode(), err)
	}
	command.Encode(buf, rec)
	lane.Publish(len(buf))
}

// A priority record published before a normal-lane destroy may still be
// queued when the destroy is read. It runs before the resource is freed.
func TestEngine_DestroyWaitsForPriorityLane(t *testing.T) {
	e := newEngine(t, Config{Mode: ModeInline}, backend.NewRecorder())
	x := e.Executor()
	buf := addBuffer(t, e, 16)
	buf.SetMapped(true)

	publishRaw(t, e, LanePriority, command.Unmap{Buffer: buf.ID()})
	var refs int64 = -1
	var mapped bool
	entry, err := x.AddDestroy(buf, func(any) {
		refs = buf.Refs()
		mapped = buf.Mapped()
	})
	if err != nil {
		t.Fatalf("AddDestroy() error = %v", err)
	}
	buf.MarkDestroyed()
	publishRaw(t, e, LaneNormal, command.DestroyObject{Entry: entry})

	x.step(LaneNormal)

	if refs != 0 {
		t.Errorf("Refs() at destroy = %d, want 0", refs)
	}
	if mapped {
		t.Error("destroyed before the queued Unmap ran")
	}
	if !x.lanes[LanePriority].Empty() {
		t.Error("priority lane not drained")
	}
	if x.Buffer(buf.ID()) != nil {
		t.Error("buffer still resolvable after destroy")
	}
	if err := x.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

// A resource still referenced when its destroy record runs is freed by the
// release that drops the count to zero, never earlier.
func TestEngine_DestroyDeferredUntilReleased(t *testing.T) {
	e := newEngine(t, Config{Mode: ModeInline}, backend.NewRecorder())
	x := e.Executor()
	buf := addBuffer(t, e, 4)

	var calls int
	var refs int64 = -1
	var data []byte
	entry, _ := x.AddDestroy(buf, func(any) {
		calls++
		refs = buf.Refs()
		data = append([]byte(nil), buf.Bytes()...)
	})
	publishRaw(t, e, LaneNormal, command.DestroyObject{Entry: entry})
	publishRaw(t, e, LaneNormal, command.UpdateBuffer{Buffer: buf.ID(), Data: []byte{1, 2, 3, 4}})

	x.step(LaneNormal)
	if calls != 0 {
		t.Fatal("destroy ran while a use was queued")
	}
	if !buf.Destroyed() {
		t.Error("buffer not marked destroyed")
	}
	if err := e.Submit(LaneNormal, command.UpdateBuffer{Buffer: buf.ID(), Data: []byte{9}}); !errors.Is(err, ErrResourceDestroyed) {
		t.Errorf("Submit() after destroy ran = %v, want ErrResourceDestroyed", err)
	}

	x.drain()
	if calls != 1 || refs != 0 {
		t.Fatalf("destroy calls = %d with Refs() = %d, want 1 with 0", calls, refs)
	}
	if !reflect.DeepEqual(data, []byte{1, 2, 3, 4}) {
		t.Errorf("buffer at destroy = %v, want [1 2 3 4]", data)
	}
	if x.Buffer(buf.ID()) != nil {
		t.Error("buffer still resolvable after deferred destroy")
	}
	if err := x.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

func TestEngine_CloseReportsLeaks(t *testing.T) {
	var out strings.Builder
	log := slog.New(slog.NewTextHandler(&out, nil))
	e, err := New(Config{Mode: ModeInline, Logger: func() *slog.Logger { return log }}, backend.NewRecorder())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	held := addBuffer(t, e, 4)
	addBuffer(t, e, 4)
	held.Acquire()

	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if n := strings.Count(out.String(), "resource referenced at close"); n != 1 {
		t.Errorf("leak warnings = %d, want 1:\n%s", n, out.String())
	}
}

func TestEngine_DestroyPlainObject(t *testing.T) {
	e := newEngine(t, Config{Mode: ModeInline}, backend.NewRecorder())
	var got any
	obj := struct{ name string }{"payload"}
	entry, _ := e.Executor().AddDestroy(obj, func(o any) { got = o })
	submit(t, e, LaneNormal, command.DestroyObject{Entry: entry})
	if got != obj {
		t.Errorf("destroy func got %v, want %v", got, obj)
	}
}

func TestEngine_UnknownResource(t *testing.T) {
	e := newEngine(t, Config{Mode: ModeInline}, backend.NewRecorder())
	tex := addTexture(t, e, "a")
	err := e.Submit(LaneNormal, command.Blit{Src: tex.ID(), Dst: 999})
	if !errors.Is(err, ErrUnknownResource) {
		t.Errorf("Submit() = %v, want ErrUnknownResource", err)
	}
	if got := tex.Refs(); got != 0 {
		t.Errorf("Refs() after failed submit = %d, want 0", got)
	}
}

func TestEngine_MapUnmap(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newEngine(t, Config{Mode: mode}, backend.NewRecorder())
			x := e.Executor()
			buf := addBuffer(t, e, 32)
			submit(t, e, LaneNormal, command.UpdateBuffer{Buffer: buf.ID(), Offset: 4, Data: []byte{1, 2, 3, 4}})
			finish(t, e, LaneNormal)

			res := &MapResult{}
			slot, _ := x.AddMapResult(res)
			submit(t, e, LanePriority, command.Map{Buffer: buf.ID(), Offset: 4, Length: 4, Result: slot})
			finish(t, e, LanePriority)
			if res.Err != nil {
				t.Fatalf("Map error = %v", res.Err)
			}
			if !reflect.DeepEqual(res.Data, []byte{1, 2, 3, 4}) {
				t.Errorf("mapped data = %v, want [1 2 3 4]", res.Data)
			}
			if !buf.Mapped() {
				t.Error("buffer not mapped")
			}

			again := &MapResult{}
			slot, _ = x.AddMapResult(again)
			submit(t, e, LanePriority, command.Map{Buffer: buf.ID(), Result: slot})
			finish(t, e, LanePriority)
			if !errors.Is(again.Err, ErrAlreadyMapped) {
				t.Errorf("second Map error = %v, want ErrAlreadyMapped", again.Err)
			}

			submit(t, e, LaneNormal, command.UpdateBuffer{Buffer: buf.ID(), Data: []byte{9}})
			finish(t, e, LaneNormal)
			if !errors.Is(x.Err(), ErrBufferMapped) {
				t.Errorf("Err() = %v, want ErrBufferMapped", x.Err())
			}

			submit(t, e, LanePriority, command.Unmap{Buffer: buf.ID()})
			finish(t, e, LanePriority)
			if buf.Mapped() {
				t.Error("buffer still mapped after Unmap")
			}
		})
	}
}

func TestEngine_MapRange(t *testing.T) {
	e := newEngine(t, Config{Mode: ModeInline}, backend.NewRecorder())
	buf := addBuffer(t, e, 8)
	res := &MapResult{}
	slot, _ := e.Executor().AddMapResult(res)
	submit(t, e, LanePriority, command.Map{Buffer: buf.ID(), Offset: 4, Length: 8, Result: slot})
	if !errors.Is(res.Err, ErrMapRange) {
		t.Errorf("Map error = %v, want ErrMapRange", res.Err)
	}
	if buf.Mapped() {
		t.Error("buffer mapped after failed Map")
	}
}

func TestEngine_BackendErrors(t *testing.T) {
	rec := backend.NewRecorder()
	failure := errors.New("device lost")
	rec.FailOn = map[backend.CallType]error{backend.CallDraw: failure}
	e := newEngine(t, Config{Mode: ModeInline}, rec)

	submit(t, e, LaneNormal, command.Draw{VertexCount: 3}, command.Draw{VertexCount: 3})
	if got := e.Stats().BackendErrors; got != 2 {
		t.Errorf("BackendErrors = %d, want 2", got)
	}
	if !errors.Is(e.Executor().Err(), failure) {
		t.Errorf("Err() = %v, want %v", e.Executor().Err(), failure)
	}
}

func TestEngine_ApplyStateFailureRetries(t *testing.T) {
	rec := backend.NewRecorder()
	rec.FailOn = map[backend.CallType]error{backend.CallApplyState: errors.New("bad state")}
	e := newEngine(t, Config{Mode: ModeInline}, rec)

	submit(t, e, LaneNormal, command.Draw{VertexCount: 3})
	if got := rec.Count(backend.CallDraw); got != 0 {
		t.Errorf("Draw calls after failed ApplyState = %d, want 0", got)
	}
	rec.FailOn = nil
	submit(t, e, LaneNormal, command.Draw{VertexCount: 3})
	calls := rec.Calls()
	last := calls[len(calls)-2]
	if last.Type != backend.CallApplyState || last.Dirty != state.DirtyAll {
		t.Errorf("retry call = %v %v, want ApplyState %v", last.Type, last.Dirty, state.DirtyAll)
	}
}

func TestEngine_Queries(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			e := newEngine(t, Config{Mode: mode, PollInterval: time.Millisecond}, backend.NewRecorder())
			res := e.Executor().Resources()
			var polls atomic.Int32
			id, _ := res.Allocate()
			q := resource.NewQuery(resource.ID(id), "q", resource.PollerFunc(func() (bool, error) {
				return polls.Add(1) >= 3, nil
			}))
			res.Store(id, q)

			submit(t, e, LaneNormal, command.IssueQuery{Query: q.ID()})
			deadline := time.After(5 * time.Second)
			for !q.Done() {
				e.Poll()
				select {
				case <-deadline:
					t.Fatalf("query not done after %d polls", polls.Load())
				default:
					time.Sleep(time.Millisecond)
				}
			}
			finish(t, e, LaneNormal)
			if got := e.Stats().PendingQueries; got != 0 {
				t.Errorf("PendingQueries = %d, want 0", got)
			}
			if q.Err() != nil {
				t.Errorf("query Err() = %v", q.Err())
			}
		})
	}
}

type fakeDevice struct {
	polls atomic.Int32
}

func (d *fakeDevice) Poll(wgpu.PollType) bool {
	d.polls.Add(1)
	return true
}

type fakeProvider struct {
	dev *fakeDevice
}

func (p fakeProvider) Device() gpucontext.Device             { return p.dev }
func (p fakeProvider) Queue() gpucontext.Queue               { return nil }
func (p fakeProvider) Adapter() gpucontext.Adapter           { return nil }
func (p fakeProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatUndefined }
func (p fakeProvider) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: "fake", Type: gpucontext.AdapterTypeSoftware}
}

func TestEngine_PollsDevice(t *testing.T) {
	dev := &fakeDevice{}
	e := newEngine(t, Config{Mode: ModeInline, Device: fakeProvider{dev: dev}}, backend.NewRecorder())
	submit(t, e, LaneNormal, command.Draw{VertexCount: 1})
	e.Poll()
	if got := dev.polls.Load(); got != 2 {
		t.Errorf("device polls = %d, want 2", got)
	}
}

func TestEngine_Close(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			rec := backend.NewRecorder()
			e := newEngine(t, Config{Mode: mode}, rec)
			submit(t, e, LaneNormal, command.Draw{VertexCount: 1})
			if err := e.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}
			if e.State() != StateStopped {
				t.Errorf("State() = %v, want %v", e.State(), StateStopped)
			}
			if got := rec.Count(backend.CallDraw); got != 1 {
				t.Errorf("draws before stop = %d, want 1", got)
			}
			if got := rec.Count(backend.CallClose); got != 1 {
				t.Errorf("backend Close calls = %d, want 1", got)
			}
			if err := e.Close(); !errors.Is(err, ErrStopped) {
				t.Errorf("second Close() = %v, want ErrStopped", err)
			}
			if err := e.Submit(LaneNormal, command.Draw{}); !errors.Is(err, ErrStopped) {
				t.Errorf("Submit() after Close = %v, want ErrStopped", err)
			}
			if err := e.Finish(context.Background(), LaneNormal); !errors.Is(err, ErrStopped) {
				t.Errorf("Finish() after Close = %v, want ErrStopped", err)
			}
		})
	}
}

func TestFence_Wait(t *testing.T) {
	f := NewFence()
	go f.Signal()
	if err := f.Wait(context.Background(), 4); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
	f.Signal()
	if !f.Signalled() {
		t.Error("Signalled() = false after Signal")
	}
}

func TestOnExecutor(t *testing.T) {
	e := newEngine(t, Config{Mode: ModeInline}, backend.NewRecorder())
	other := newEngine(t, Config{Mode: ModeInline}, backend.NewRecorder())
	ctx := withToken(context.Background(), e.Executor())
	if !OnExecutor(ctx, e.Executor()) {
		t.Error("OnExecutor(token, owner) = false")
	}
	if OnExecutor(ctx, other.Executor()) {
		t.Error("OnExecutor(token, other) = true")
	}
	if OnExecutor(context.Background(), e.Executor()) {
		t.Error("OnExecutor(background) = true")
	}
}

func TestStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{ModeInline.String(), "inline"},
		{ModeThreaded.String(), "threaded"},
		{Mode(9).String(), "Mode(9)"},
		{LanePriority.String(), "priority"},
		{Lane(5).String(), "Lane(5)"},
		{StateDrainingNormal.String(), "DrainingNormal"},
		{State(7).String(), "State(7)"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("String() = %q, want %q", tt.got, tt.want)
		}
	}
}

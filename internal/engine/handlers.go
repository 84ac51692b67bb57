// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package engine

import (
	"errors"
	"fmt"

	"github.com/gogpu/cmdstream/command"
	"github.com/gogpu/cmdstream/resource"
)

// Executor errors reported through MapResult and the backend error count.
var (
	// ErrAlreadyMapped is reported when mapping a buffer that is mapped.
	ErrAlreadyMapped = errors.New("engine: buffer already mapped")

	// ErrMapRange is reported when a map or update range exceeds the buffer.
	ErrMapRange = errors.New("engine: range exceeds buffer size")

	// ErrBufferMapped is reported when an update targets a mapped buffer.
	ErrBufferMapped = errors.New("engine: buffer is mapped")
)

// handler executes one decoded record on the executor.
type handler func(x *Executor, rec command.Record)

// handlers is the dispatch table. Padding opcodes never reach it.
var handlers [command.OpCount]handler

func init() {
	handlers = [command.OpCount]handler{
		command.OpStop:     func(*Executor, command.Record) {},
		command.OpFence:    execFence,
		command.OpCallback: execCallback,

		command.OpSetViewport: func(x *Executor, rec command.Record) {
			x.shadow.SetViewport(rec.(command.SetViewport).Viewport)
		},
		command.OpSetScissor: func(x *Executor, rec command.Record) {
			x.shadow.SetScissor(rec.(command.SetScissor).Rect)
		},
		command.OpSetRenderState: func(x *Executor, rec command.Record) {
			s := rec.(command.SetRenderState)
			x.check(rec, x.shadow.SetRenderState(s.Key, s.Value))
		},
		command.OpSetPrimitiveState: func(x *Executor, rec command.Record) {
			x.shadow.SetPrimitive(rec.(command.SetPrimitiveState).State)
		},
		command.OpSetDepthStencilState: func(x *Executor, rec command.Record) {
			x.shadow.SetDepthStencil(rec.(command.SetDepthStencilState).State)
		},
		command.OpSetBlendState: func(x *Executor, rec command.Record) {
			x.shadow.SetBlend(rec.(command.SetBlendState).State)
		},
		command.OpSetBlendConstant: func(x *Executor, rec command.Record) {
			x.shadow.SetBlendConstant(rec.(command.SetBlendConstant).Color)
		},
		command.OpSetRenderTarget: func(x *Executor, rec command.Record) {
			s := rec.(command.SetRenderTarget)
			x.check(rec, x.shadow.SetRenderTarget(int(s.Index), s.Texture))
		},
		command.OpSetDepthStencilTarget: func(x *Executor, rec command.Record) {
			x.shadow.SetDepthStencilTarget(rec.(command.SetDepthStencilTarget).Texture)
		},
		command.OpSetVertexBuffer: func(x *Executor, rec command.Record) {
			s := rec.(command.SetVertexBuffer)
			x.check(rec, x.shadow.SetVertexBuffer(int(s.Slot), s.Binding))
		},
		command.OpSetIndexBuffer: func(x *Executor, rec command.Record) {
			x.shadow.SetIndexBuffer(rec.(command.SetIndexBuffer).Binding)
		},
		command.OpSetShader: func(x *Executor, rec command.Record) {
			s := rec.(command.SetShader)
			x.check(rec, x.shadow.SetShader(s.Stage, s.Shader))
		},
		command.OpSetTexture: func(x *Executor, rec command.Record) {
			s := rec.(command.SetTexture)
			x.check(rec, x.shadow.SetTexture(s.Stage, int(s.Slot), s.Texture))
		},
		command.OpSetConstants: func(x *Executor, rec command.Record) {
			s := rec.(command.SetConstants)
			x.check(rec, x.shadow.SetConstants(s.Stage, int(s.Start), s.Values))
		},
		command.OpResetState: func(x *Executor, _ command.Record) {
			x.shadow.Reset()
		},

		command.OpClear: func(x *Executor, rec command.Record) {
			if x.applyState(rec) {
				x.call(rec, x.backend.Clear(rec.(command.Clear)))
			}
		},
		command.OpDraw: func(x *Executor, rec command.Record) {
			if x.applyState(rec) {
				x.call(rec, x.backend.Draw(rec.(command.Draw)))
			}
		},
		command.OpDrawIndexed: func(x *Executor, rec command.Record) {
			if x.applyState(rec) {
				x.call(rec, x.backend.DrawIndexed(rec.(command.DrawIndexed)))
			}
		},
		command.OpDispatch: func(x *Executor, rec command.Record) {
			if x.applyState(rec) {
				x.call(rec, x.backend.Dispatch(rec.(command.Dispatch)))
			}
		},
		command.OpBlit: func(x *Executor, rec command.Record) {
			x.call(rec, x.backend.Blit(rec.(command.Blit)))
		},
		command.OpPresent: func(x *Executor, rec command.Record) {
			x.call(rec, x.backend.Present(rec.(command.Present)))
		},

		command.OpUpdateBuffer:  execUpdateBuffer,
		command.OpIssueQuery:    execIssueQuery,
		command.OpMap:           execMap,
		command.OpUnmap:         execUnmap,
		command.OpDestroyObject: execDestroyObject,
	}
}

// check logs a state record the shadow rejected. The encoder validates
// ranges, so this only fires for hand-built records.
func (x *Executor) check(rec command.Record, ok bool) {
	if !ok {
		x.logger().Warn("cmdstream: state record out of range", "op", rec.Opcode(), "record", rec)
	}
}

// applyState hands the dirty groups to the backend before a work record.
// It reports whether the work record should still run.
func (x *Executor) applyState(rec command.Record) bool {
	d := x.shadow.TakeDirty()
	if d == 0 {
		return true
	}
	if err := x.backend.ApplyState(x.shadow, d); err != nil {
		x.shadow.MarkDirty(d)
		x.fail(rec.Opcode(), fmt.Errorf("apply state %v: %w", d, err))
		return false
	}
	return true
}

func (x *Executor) call(rec command.Record, err error) {
	if err != nil {
		x.fail(rec.Opcode(), err)
	}
}

func execFence(x *Executor, rec command.Record) {
	id := rec.(command.Fence).Fence
	f, ok := x.fences.Remove(id)
	if !ok {
		x.logger().Error("cmdstream: unknown fence", "id", id)
		return
	}
	f.Signal()
}

func execCallback(x *Executor, rec command.Record) {
	id := rec.(command.Callback).Callback
	fn, ok := x.callbacks.Remove(id)
	if !ok {
		x.logger().Error("cmdstream: unknown callback", "id", id)
		return
	}
	fn(x.ctx)
}

func execUpdateBuffer(x *Executor, rec command.Record) {
	u := rec.(command.UpdateBuffer)
	buf := x.Buffer(u.Buffer)
	switch {
	case buf == nil:
		x.fail(rec.Opcode(), fmt.Errorf("update buffer %d: %w", u.Buffer, ErrUnknownResource))
	case buf.Mapped():
		x.fail(rec.Opcode(), fmt.Errorf("update %v: %w", buf, ErrBufferMapped))
	case u.Offset > uint64(buf.Size()) || uint64(len(u.Data)) > uint64(buf.Size())-u.Offset:
		x.fail(rec.Opcode(), fmt.Errorf("update %v [%d:+%d]: %w", buf, u.Offset, len(u.Data), ErrMapRange))
	default:
		copy(buf.Bytes()[u.Offset:], u.Data)
	}
}

func execIssueQuery(x *Executor, rec command.Record) {
	id := rec.(command.IssueQuery).Query
	q, ok := x.lookup(id).(*resource.Query)
	if !ok {
		x.fail(rec.Opcode(), fmt.Errorf("issue query %d: %w", id, ErrUnknownResource))
		return
	}
	if !q.Issued() {
		x.queries = append(x.queries, q)
		x.pendingQueries.Store(int64(len(x.queries)))
	}
	q.Issue()
}

func execMap(x *Executor, rec command.Record) {
	m := rec.(command.Map)
	res, ok := x.maps.Remove(m.Result)
	if !ok {
		x.logger().Error("cmdstream: unknown map result", "id", m.Result)
		return
	}
	buf := x.Buffer(m.Buffer)
	if buf == nil {
		res.Err = fmt.Errorf("map buffer %d: %w", m.Buffer, ErrUnknownResource)
		return
	}
	size := uint64(buf.Size())
	length := m.Length
	if length == 0 && m.Offset <= size {
		length = size - m.Offset
	}
	switch {
	case buf.Mapped():
		res.Err = fmt.Errorf("map %v: %w", buf, ErrAlreadyMapped)
	case m.Offset > size || length > size-m.Offset:
		res.Err = fmt.Errorf("map %v [%d:+%d]: %w", buf, m.Offset, length, ErrMapRange)
	default:
		buf.SetMapped(true)
		res.Data = buf.Bytes()[m.Offset : m.Offset+length : m.Offset+length]
	}
}

func execUnmap(x *Executor, rec command.Record) {
	id := rec.(command.Unmap).Buffer
	if buf := x.Buffer(id); buf != nil {
		buf.SetMapped(false)
	}
}

// execDestroyObject runs a destroy entry. Resources are unbound from the
// shadow and dropped from the table before their storage is freed.
//
// Normal-lane uses all executed earlier, but priority-lane records published
// before this one may still be queued; they run first. A count that is still
// non-zero defers the destroy to the release that drops it to zero.
func execDestroyObject(x *Executor, rec command.Record) {
	id := rec.(command.DestroyObject).Entry
	e, ok := x.destroys.Remove(id)
	if !ok {
		x.logger().Error("cmdstream: unknown destroy entry", "id", id)
		return
	}
	obj, ok := e.obj.(resource.Object)
	if !ok {
		e.run()
		return
	}
	obj.MarkDestroyed()
	for obj.Refs() > 0 && !x.lanes[LanePriority].Empty() {
		x.step(LanePriority)
	}
	if x.shadow.IsBound(obj.ID()) {
		x.shadow.Unbind(obj.ID())
	}
	if q, ok := obj.(*resource.Query); ok {
		x.forgetQuery(q)
	}
	if n := obj.Refs(); n > 0 {
		x.logger().Error("cmdstream: destroy deferred, resource has pending uses", "resource", obj, "refs", n)
		x.deferred[obj.ID()] = e
		return
	}
	x.resources.Remove(uint32(obj.ID()))
	e.run()
}

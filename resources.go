package cmdstream

import (
	"context"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/cmdstream/command"
	"github.com/gogpu/cmdstream/internal/engine"
	"github.com/gogpu/cmdstream/resource"
)

// create allocates an id, builds the object under it and registers it.
func create[T resource.Object](s *Stream, build func(id resource.ID) (T, error)) (T, error) {
	var zero T
	if s.eng.Closed() {
		return zero, ErrStreamClosed
	}
	res := s.eng.Executor().Resources()
	id, err := res.Allocate()
	if err != nil {
		return zero, fmt.Errorf("cmdstream: %w", err)
	}
	obj, err := build(resource.ID(id))
	if err != nil {
		res.Cancel(id)
		return zero, fmt.Errorf("cmdstream: %w", err)
	}
	res.Store(id, obj)
	return obj, nil
}

// CreateBuffer creates a zeroed buffer owned by the stream.
func (s *Stream) CreateBuffer(desc resource.BufferDescriptor) (*resource.Buffer, error) {
	return create(s, func(id resource.ID) (*resource.Buffer, error) {
		return resource.NewBuffer(id, desc)
	})
}

// CreateTexture creates a zeroed texture owned by the stream. An undefined
// format takes the device provider's surface format, or RGBA8Unorm.
func (s *Stream) CreateTexture(desc resource.TextureDescriptor) (*resource.Texture, error) {
	if desc.Format == gputypes.TextureFormatUndefined {
		if s.device != nil {
			desc.Format = s.device.SurfaceFormat()
		}
		if desc.Format == gputypes.TextureFormatUndefined {
			desc.Format = gputypes.TextureFormatRGBA8Unorm
		}
	}
	return create(s, func(id resource.ID) (*resource.Texture, error) {
		return resource.NewTexture(id, desc)
	})
}

// CreateShader compiles WGSL source into a shader owned by the stream.
// Compilation happens here, on the caller's goroutine.
func (s *Stream) CreateShader(desc resource.ShaderDescriptor) (*resource.Shader, error) {
	return create(s, func(id resource.ID) (*resource.Shader, error) {
		return resource.NewShader(id, desc)
	})
}

// CreateQuery creates a query backed by poller. Record it with IssueQuery;
// the executor polls it until it signals.
func (s *Stream) CreateQuery(label string, poller resource.Poller) (*resource.Query, error) {
	if poller == nil {
		return nil, fmt.Errorf("cmdstream: query %q: %w: nil poller", label, ErrInvalidUsage)
	}
	return create(s, func(id resource.ID) (*resource.Query, error) {
		return resource.NewQuery(id, label, poller), nil
	})
}

// CreateFenceQuery creates a HAL fence on dev and a query that signals once
// the fence reaches value. The fence is destroyed with the query.
func (s *Stream) CreateFenceQuery(label string, dev resource.FenceDevice, value uint64) (*resource.Query, hal.Fence, error) {
	var fence hal.Fence
	q, err := create(s, func(id resource.ID) (*resource.Query, error) {
		q, f, err := resource.NewFenceQuery(id, label, dev, value)
		fence = f
		return q, err
	})
	if err != nil {
		return nil, nil, err
	}
	return q, fence, nil
}

// IssueQuery records the start of q. Done and Err on q report the result
// once the executor observed it.
func (s *Stream) IssueQuery(q *resource.Query) error {
	if q == nil {
		return fmt.Errorf("cmdstream: issue query: %w: nil query", ErrInvalidUsage)
	}
	if err := s.owns(q); err != nil {
		return err
	}
	return s.submit(command.IssueQuery{Query: q.ID()})
}

// UpdateBuffer records a copy of data into b at offset. data is copied
// into the stream before UpdateBuffer returns. Large uploads are split into
// several records.
func (s *Stream) UpdateBuffer(b *resource.Buffer, offset uint64, data []byte) error {
	if b == nil {
		return fmt.Errorf("cmdstream: update buffer: %w: nil buffer", ErrInvalidUsage)
	}
	if _, err := s.buffer(b, gputypes.BufferUsageCopyDst); err != nil {
		return err
	}
	if _, ok := s.mapped[b.ID()]; ok {
		return fmt.Errorf("cmdstream: update %v: %w: buffer is mapped", b, ErrInvalidUsage)
	}
	size := uint64(b.Size())
	if offset > size || uint64(len(data)) > size-offset {
		return fmt.Errorf("cmdstream: update %v [%d:+%d]: %w", b, offset, len(data), ErrOutOfRange)
	}
	for len(data) > 0 {
		n := min(len(data), s.chunk)
		if err := s.submit(command.UpdateBuffer{Buffer: b.ID(), Offset: offset, Data: data[:n]}); err != nil {
			return err
		}
		data = data[n:]
		offset += uint64(n)
	}
	return nil
}

// MapBuffer maps length bytes of b at offset and returns them. A zero
// length maps to the end of the buffer. Normal-lane commands still using b
// are finished first; the map itself runs on the priority lane. The
// returned slice stays valid until UnmapBuffer.
func (s *Stream) MapBuffer(ctx context.Context, b *resource.Buffer, offset, length uint64) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("cmdstream: map buffer: %w: nil buffer", ErrInvalidUsage)
	}
	if err := s.owns(b); err != nil {
		return nil, err
	}
	if !b.HasUsage(gputypes.BufferUsageMapRead) && !b.HasUsage(gputypes.BufferUsageMapWrite) {
		return nil, fmt.Errorf("cmdstream: map %v: %w: usage %v", b, ErrInvalidUsage, b.Usage())
	}
	if _, ok := s.mapped[b.ID()]; ok {
		return nil, fmt.Errorf("cmdstream: map %v: %w: already mapped", b, ErrInvalidUsage)
	}
	if b.Refs() > 0 {
		if err := s.Finish(ctx); err != nil {
			return nil, err
		}
	}

	x := s.eng.Executor()
	res := &engine.MapResult{}
	slot, err := x.AddMapResult(res)
	if err != nil {
		return nil, fmt.Errorf("cmdstream: map %v: %w", b, err)
	}
	if err := s.submitTo(engine.LanePriority, command.Map{
		Buffer: b.ID(),
		Offset: offset,
		Length: length,
		Result: slot,
	}); err != nil {
		x.Cancel(command.OpMap, slot)
		return nil, err
	}
	s.mapped[b.ID()] = struct{}{}
	if err := s.FinishPriority(ctx); err != nil {
		return nil, err
	}
	if res.Err != nil {
		delete(s.mapped, b.ID())
		return nil, fmt.Errorf("cmdstream: %w", res.Err)
	}
	return res.Data, nil
}

// UnmapBuffer ends a mapping started by MapBuffer. The mapped slice must
// not be used afterwards.
func (s *Stream) UnmapBuffer(b *resource.Buffer) error {
	if b == nil {
		return fmt.Errorf("cmdstream: unmap buffer: %w: nil buffer", ErrInvalidUsage)
	}
	if _, ok := s.mapped[b.ID()]; !ok {
		return fmt.Errorf("cmdstream: unmap %v: %w: not mapped", b, ErrInvalidUsage)
	}
	if err := s.submitTo(engine.LanePriority, command.Unmap{Buffer: b.ID()}); err != nil {
		return err
	}
	delete(s.mapped, b.ID())
	return nil
}

// DestroyResource queues obj for destruction behind every command already
// recorded. Commands recorded afterwards must not use obj; they fail with
// ErrResourceDestroyed.
func (s *Stream) DestroyResource(obj resource.Object) error {
	if obj == nil {
		return fmt.Errorf("cmdstream: destroy: %w: nil resource", ErrInvalidUsage)
	}
	return s.destroyResource(obj, nil)
}

// DestroyObject queues fn(obj) to run on the executor behind every command
// already recorded. It is how objects used by deferred work outside the
// stream's resource types are freed. A nil fn calls obj's Destroy method.
//
// A resource.Object passed here is retired exactly like DestroyResource
// does, and fn runs in place of its Destroy method.
func (s *Stream) DestroyObject(obj any, fn func(obj any)) error {
	if r, ok := obj.(resource.Object); ok {
		return s.destroyResource(r, fn)
	}
	if fn == nil {
		if _, ok := obj.(interface{ Destroy() }); !ok {
			return fmt.Errorf("cmdstream: destroy %T: %w: no destroy func", obj, ErrInvalidUsage)
		}
	}
	if s.eng.Closed() {
		return ErrStreamClosed
	}
	return s.destroy(obj, fn)
}

func (s *Stream) destroyResource(obj resource.Object, fn func(any)) error {
	if s.eng.Closed() {
		return ErrStreamClosed
	}
	if err := s.owns(obj); err != nil {
		return err
	}
	if !obj.MarkDestroyed() {
		return fmt.Errorf("cmdstream: destroy %v: %w", obj, ErrResourceDestroyed)
	}
	delete(s.mapped, obj.ID())
	return s.destroy(obj, fn)
}

func (s *Stream) destroy(obj any, fn func(any)) error {
	x := s.eng.Executor()
	entry, err := x.AddDestroy(obj, fn)
	if err != nil {
		return fmt.Errorf("cmdstream: destroy: %w", err)
	}
	if err := s.submit(command.DestroyObject{Entry: entry}); err != nil {
		x.Cancel(command.OpDestroyObject, entry)
		return err
	}
	return nil
}

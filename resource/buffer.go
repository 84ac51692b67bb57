package resource

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"
)

// BufferDescriptor describes a buffer to create.
type BufferDescriptor struct {
	// Label is an optional debug name.
	Label string

	// Size is the buffer size in bytes.
	Size int

	// Usage specifies how the buffer may be bound.
	Usage gputypes.BufferUsage
}

// Buffer is a linear block of memory. Its contents are only touched by the
// executor, except between a Map and the matching Unmap where the caller
// owns the mapped range.
type Buffer struct {
	Resource

	size   int
	usage  gputypes.BufferUsage
	data   []byte
	mapped atomic.Bool
}

// NewBuffer allocates a zeroed buffer.
func NewBuffer(id ID, desc BufferDescriptor) (*Buffer, error) {
	if desc.Size <= 0 {
		return nil, fmt.Errorf("buffer %q: %w", desc.Label, ErrInvalidSize)
	}
	b := &Buffer{
		size:  desc.Size,
		usage: desc.Usage,
		data:  make([]byte, desc.Size),
	}
	b.init(id, KindBuffer, desc.Label)
	return b, nil
}

// Size returns the buffer size in bytes.
func (b *Buffer) Size() int { return b.size }

// Usage returns the usage flags the buffer was created with.
func (b *Buffer) Usage() gputypes.BufferUsage { return b.usage }

// HasUsage reports whether all bits of u are set.
func (b *Buffer) HasUsage(u gputypes.BufferUsage) bool { return b.usage&u == u }

// Bytes returns the backing storage. Executor only.
func (b *Buffer) Bytes() []byte { return b.data }

// Mapped reports whether the buffer is currently mapped.
func (b *Buffer) Mapped() bool { return b.mapped.Load() }

// SetMapped records the map state. Executor only.
func (b *Buffer) SetMapped(v bool) { b.mapped.Store(v) }

// Destroy implements Object.
func (b *Buffer) Destroy() {
	b.data = nil
	b.mapped.Store(false)
	b.runDestroyCallbacks()
}

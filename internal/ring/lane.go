// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package ring implements the byte lanes that carry encoded command records
// from the producer to the executor.
//
// A Lane is a single-producer/single-consumer circular buffer. Positions are
// monotonically increasing uint64 counters; the physical offset is pos&mask.
// Only the producer stores head and only the consumer stores tail, so the
// storage itself needs no lock. Records never straddle the physical end of
// the buffer: when a record does not fit contiguously, Reserve pads the
// remainder with a Skip (or Nop) record and restarts at offset 0.
package ring

import (
	"encoding/binary"
	"errors"
	"math/bits"
	"sync/atomic"
)

// Reserved padding opcodes. Every record starts with a little-endian
// uint32 opcode; these two values are owned by the lane.
const (
	OpNop  uint32 = 0
	OpSkip uint32 = 1
)

// Record layout constants.
const (
	// HeaderSize is the size of the opcode header that starts every record.
	HeaderSize = 4

	// SkipSize is the size of a Skip record: opcode plus covered length.
	SkipSize = 8

	// Align is the alignment of every record size.
	Align = 4

	// MinCapacity is the smallest lane capacity accepted by New.
	MinCapacity = 64
)

// Lane errors.
var (
	// ErrRecordTooLarge is returned when a record can never fit in the lane.
	ErrRecordTooLarge = errors.New("ring: record larger than lane capacity")

	// ErrOutOfMemory is returned when a growable lane reached its maximum size.
	ErrOutOfMemory = errors.New("ring: lane cannot grow beyond its maximum capacity")

	// ErrBadSize is returned for sizes that are not a positive multiple of Align.
	ErrBadSize = errors.New("ring: record size must be a positive multiple of 4")
)

// Waker is notified after every Publish. The executor's parker implements it.
type Waker interface {
	Wake()
}

// Options configures a Lane.
type Options struct {
	// Capacity is the initial capacity in bytes, rounded up to a power of two.
	Capacity int

	// MaxCapacity enables growth when larger than Capacity. A growable lane
	// must only be used when producer and consumer share one goroutine.
	MaxCapacity int

	// Inline marks a lane whose consumer runs on the producer's goroutine.
	// Such a lane never parks the producer: when it is full and cannot grow,
	// Reserve fails with ErrOutOfMemory.
	Inline bool

	// SpinCount is the number of yields before a full lane parks the producer.
	SpinCount int

	// Waker is woken after each Publish. May be nil.
	Waker Waker
}

// Lane is a fixed-capacity (or, in inline mode, growable) circular byte queue.
type Lane struct {
	head atomic.Uint64
	//lint:ignore U1000 keeps head and tail on separate cache lines
	_pad1 [56]byte
	tail atomic.Uint64
	//lint:ignore U1000 keeps the indices away from the read-mostly fields
	_pad2 [56]byte

	buf  []byte
	mask uint64

	// capacity mirrors len(buf) for readers off the producer goroutine.
	capacity atomic.Int64

	maxCap int
	inline bool
	spin   int

	space *Parker
	waker Waker

	wraps     atomic.Uint64
	fullWaits atomic.Uint64
	grows     atomic.Uint64
}

// Stats is a snapshot of lane counters for diagnostics.
type Stats struct {
	Capacity  int
	Used      uint64
	Head      uint64
	Tail      uint64
	Wraps     uint64
	FullWaits uint64
	Grows     uint64
}

// New creates a lane. Capacity is rounded up to a power of two no smaller
// than MinCapacity.
func New(opts Options) *Lane {
	size := roundPow2(max(opts.Capacity, MinCapacity))
	maxCap := 0
	if opts.MaxCapacity > size {
		maxCap = roundPow2(opts.MaxCapacity)
	}
	l := &Lane{
		buf:    make([]byte, size),
		mask:   uint64(size - 1),
		maxCap: maxCap,
		inline: opts.Inline,
		spin:   opts.SpinCount,
		space:  NewParker(),
		waker:  opts.Waker,
	}
	l.capacity.Store(int64(size))
	return l
}

func roundPow2(n int) int {
	if n&(n-1) == 0 {
		return n
	}
	return 1 << bits.Len(uint(n))
}

// Capacity returns the current capacity in bytes. Safe from any goroutine.
func (l *Lane) Capacity() int {
	return int(l.capacity.Load())
}

// Growable reports whether the lane grows instead of waiting when full.
func (l *Lane) Growable() bool {
	return l.maxCap > 0
}

// Used returns the number of published but unconsumed bytes.
func (l *Lane) Used() uint64 {
	return l.head.Load() - l.tail.Load()
}

// Empty reports whether every published byte has been consumed.
func (l *Lane) Empty() bool {
	return l.head.Load() == l.tail.Load()
}

func (l *Lane) free() uint64 {
	return uint64(len(l.buf)) - l.Used()
}

// Reserve returns a writable region of exactly n contiguous bytes. The
// region becomes visible to the consumer only after Publish(n).
//
// When n bytes do not fit before the physical end of the buffer, the
// remainder is covered by a Skip record (or a Nop when only 4 bytes remain)
// which is published immediately. When the lane is full the producer spins
// and then parks until the consumer frees space; a growable lane doubles
// instead, failing with ErrOutOfMemory past its maximum capacity. An inline
// lane that cannot grow fails with ErrOutOfMemory rather than waiting.
//
// Reserve must only be called by the producer.
func (l *Lane) Reserve(n int) ([]byte, error) {
	if n <= 0 || n%Align != 0 {
		return nil, ErrBadSize
	}
	need := uint64(n)
	for {
		size := uint64(len(l.buf))
		if need > size {
			if err := l.grow(); err != nil {
				if errors.Is(err, ErrOutOfMemory) && !l.Growable() {
					return nil, ErrRecordTooLarge
				}
				return nil, err
			}
			continue
		}

		head := l.head.Load()
		pos := head & l.mask
		if rem := size - pos; need > rem {
			if l.free() < rem {
				if err := l.makeRoom(rem); err != nil {
					return nil, err
				}
				continue
			}
			putPadding(l.buf[pos:size], rem)
			l.wraps.Add(1)
			l.Publish(int(rem))
			continue
		}

		if l.free() < need {
			if err := l.makeRoom(need); err != nil {
				return nil, err
			}
			continue
		}
		return l.buf[pos : pos+need : pos+need], nil
	}
}

// Publish makes the last n reserved bytes visible to the consumer and wakes
// it if it is parked. The atomic store orders the record bytes before the
// index update.
func (l *Lane) Publish(n int) {
	l.head.Store(l.head.Load() + uint64(n))
	if l.waker != nil {
		l.waker.Wake()
	}
}

// makeRoom waits until need bytes are free, or grows a growable lane.
// An inline lane has nobody to wait for.
func (l *Lane) makeRoom(need uint64) error {
	if l.Growable() || l.inline {
		return l.grow()
	}
	l.fullWaits.Add(1)
	ready := func() bool { return l.free() >= need }
	if Spin(l.spin, ready) {
		return nil
	}
	l.space.Park(ready, 0)
	return nil
}

// grow doubles the buffer, copying unread bytes to offset 0 in order.
// Padding records keep their lengths, so the copied sequence decodes the same.
func (l *Lane) grow() error {
	size := len(l.buf)
	if l.maxCap == 0 || size*2 > l.maxCap {
		return ErrOutOfMemory
	}
	head, tail := l.head.Load(), l.tail.Load()
	used := head - tail
	next := make([]byte, size*2)
	pos := tail & l.mask
	first := min(used, uint64(size)-pos)
	copy(next, l.buf[pos:pos+first])
	copy(next[first:], l.buf[:used-first])

	l.buf = next
	l.mask = uint64(len(next) - 1)
	l.capacity.Store(int64(len(next)))
	l.tail.Store(0)
	l.head.Store(used)
	l.grows.Add(1)
	return nil
}

// Readable returns the unread bytes that are contiguous from tail, up to
// the physical end of the buffer. It returns nil when the lane is empty.
// Records never straddle the end, so the slice always starts at a record
// boundary and holds at least one complete record.
//
// Readable must only be called by the consumer.
func (l *Lane) Readable() []byte {
	tail := l.tail.Load()
	head := l.head.Load()
	if head == tail {
		return nil
	}
	pos := tail & l.mask
	end := pos + (head - tail)
	if size := uint64(len(l.buf)); end > size {
		end = size
	}
	return l.buf[pos:end:end]
}

// Consume releases n bytes at tail back to the producer.
//
// Consume must only be called by the consumer.
func (l *Lane) Consume(n int) {
	l.tail.Store(l.tail.Load() + uint64(n))
	l.space.Wake()
}

// Stats returns a snapshot of the lane counters. Safe from any goroutine.
func (l *Lane) Stats() Stats {
	head, tail := l.head.Load(), l.tail.Load()
	return Stats{
		Capacity:  l.Capacity(),
		Used:      head - tail,
		Head:      head,
		Tail:      tail,
		Wraps:     l.wraps.Load(),
		FullWaits: l.fullWaits.Load(),
		Grows:     l.grows.Load(),
	}
}

// putPadding writes a Nop (n == 4) or a Skip record covering n bytes.
func putPadding(b []byte, n uint64) {
	if n < SkipSize {
		binary.LittleEndian.PutUint32(b, OpNop)
		return
	}
	binary.LittleEndian.PutUint32(b, OpSkip)
	binary.LittleEndian.PutUint32(b[HeaderSize:], uint32(n))
}

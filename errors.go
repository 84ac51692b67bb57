package cmdstream

import (
	"errors"

	"github.com/gogpu/cmdstream/internal/engine"
	"github.com/gogpu/cmdstream/internal/handle"
	"github.com/gogpu/cmdstream/internal/ring"
)

// Errors returned by Stream methods.
var (
	// ErrStreamClosed is returned by every method after Close.
	ErrStreamClosed = errors.New("cmdstream: stream closed")

	// ErrInvalidUsage is returned when a resource is used in a way its
	// usage flags or current state do not allow.
	ErrInvalidUsage = errors.New("cmdstream: invalid resource usage")

	// ErrOutOfRange is returned for slots, stages, keys or byte ranges
	// outside their limits.
	ErrOutOfRange = errors.New("cmdstream: argument out of range")

	// ErrReentrantFinish is returned when Finish or MapBuffer is called
	// from a callback running on the executor.
	ErrReentrantFinish = engine.ErrReentrantFinish

	// ErrResourceDestroyed is returned when a record names a resource
	// whose destruction is already queued.
	ErrResourceDestroyed = engine.ErrResourceDestroyed

	// ErrUnknownResource is returned for resources that do not belong to
	// the stream.
	ErrUnknownResource = engine.ErrUnknownResource

	// ErrOutOfMemory is returned when an inline lane reached its maximum
	// capacity.
	ErrOutOfMemory = ring.ErrOutOfMemory

	// ErrRecordTooLarge is returned when a record can never fit in a lane.
	ErrRecordTooLarge = ring.ErrRecordTooLarge

	// ErrTooManyObjects is returned when the stream already tracks its
	// maximum number of objects of one kind.
	ErrTooManyObjects = handle.ErrTableFull
)

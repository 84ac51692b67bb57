package cmdstream

import (
	"time"

	"github.com/gogpu/gpucontext"
)

// Option configures a Stream during creation.
// Use functional options to customize Stream behavior.
//
// Example:
//
//	// Threaded stream with the default lane sizes
//	s, err := cmdstream.New(backend.NewSoftwareBackend())
//
//	// Inline stream for single-goroutine use
//	s, err := cmdstream.New(be, cmdstream.WithMode(cmdstream.ModeInline))
type Option func(*options)

// options holds optional configuration for Stream creation.
type options struct {
	mode                 Mode
	laneCapacity         int
	priorityLaneCapacity int
	maxLaneCapacity      int
	spinCount            int
	pollInterval         time.Duration
	maxObjects           int
	device               gpucontext.DeviceProvider
}

// defaultOptions returns the default stream options. Zero sizes are
// replaced by the engine defaults.
func defaultOptions() options {
	return options{
		mode: ModeThreaded,
	}
}

// WithMode selects the execution strategy. The default is ModeThreaded.
func WithMode(m Mode) Option {
	return func(o *options) {
		o.mode = m
	}
}

// WithLaneCapacity sets the normal lane size in bytes, rounded up to a
// power of two. In inline mode it is the initial size of a growable lane.
func WithLaneCapacity(n int) Option {
	return func(o *options) {
		o.laneCapacity = n
	}
}

// WithPriorityLaneCapacity sets the priority lane size in bytes.
func WithPriorityLaneCapacity(n int) Option {
	return func(o *options) {
		o.priorityLaneCapacity = n
	}
}

// WithMaxLaneCapacity caps how far inline lanes may grow. Past it, submits
// fail with ErrOutOfMemory. Threaded lanes never grow.
func WithMaxLaneCapacity(n int) Option {
	return func(o *options) {
		o.maxLaneCapacity = n
	}
}

// WithSpinCount sets how many times a waiter yields before it blocks. This
// applies to a producer facing a full lane, to Finish, and to an idle
// worker. A negative value disables spinning.
func WithSpinCount(n int) Option {
	return func(o *options) {
		o.spinCount = n
	}
}

// WithPollInterval sets how often an idle worker polls pending queries.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.pollInterval = d
	}
}

// WithMaxObjects limits how many objects of each kind (resources, pending
// fences, callbacks, destroy entries) a stream tracks at once.
func WithMaxObjects(n int) Option {
	return func(o *options) {
		o.maxObjects = n
	}
}

// WithDeviceProvider attaches a GPU device. The executor polls the device
// between drains so asynchronous device work makes progress, and
// CreateTexture uses the provider's surface format when none is given.
//
// Example:
//
//	s, err := cmdstream.New(be, cmdstream.WithDeviceProvider(app))
func WithDeviceProvider(p gpucontext.DeviceProvider) Option {
	return func(o *options) {
		o.device = p
	}
}

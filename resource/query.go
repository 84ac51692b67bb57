package resource

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gogpu/wgpu/hal"
)

// Poller reports whether the asynchronous work a query tracks has finished.
// Poll must not block.
type Poller interface {
	Poll() (bool, error)
}

// PollerFunc adapts a function to Poller.
type PollerFunc func() (bool, error)

// Poll implements Poller.
func (f PollerFunc) Poll() (bool, error) { return f() }

// Query tracks an asynchronous completion object. It is issued through the
// command stream and then polled by the executor's housekeeping until it
// signals; the producer observes the result through Done and Err.
type Query struct {
	Resource

	poller    Poller
	issued    atomic.Bool
	signalled atomic.Bool
	err       atomic.Pointer[error]
}

// NewQuery creates a query backed by poller.
func NewQuery(id ID, label string, poller Poller) *Query {
	q := &Query{poller: poller}
	q.init(id, KindQuery, label)
	return q
}

// Issue marks the query as in flight and clears any previous result.
// Executor only.
func (q *Query) Issue() {
	q.signalled.Store(false)
	q.err.Store(nil)
	q.issued.Store(true)
}

// Issued reports whether the query is in flight.
func (q *Query) Issued() bool { return q.issued.Load() }

// Poll polls the underlying object once and records the result. It returns
// true once the query has signalled or failed. Executor only.
func (q *Query) Poll() bool {
	if !q.issued.Load() {
		return true
	}
	done, err := q.poller.Poll()
	if err != nil {
		q.err.Store(&err)
		done = true
	}
	if done {
		q.issued.Store(false)
		q.signalled.Store(true)
	}
	return done
}

// Done reports whether the query signalled since it was last issued.
func (q *Query) Done() bool { return q.signalled.Load() }

// Err returns the polling error, if any.
func (q *Query) Err() error {
	if p := q.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Destroy implements Object.
func (q *Query) Destroy() {
	if c, ok := q.poller.(interface{ Close() }); ok {
		c.Close()
	}
	q.issued.Store(false)
	q.runDestroyCallbacks()
}

// FenceWaiter is the part of hal.Device a FencePoller needs.
type FenceWaiter interface {
	Wait(fence hal.Fence, value uint64, timeout time.Duration) (bool, error)
	DestroyFence(fence hal.Fence)
}

// FenceDevice is the part of hal.Device a fence query needs.
type FenceDevice interface {
	FenceWaiter
	CreateFence() (hal.Fence, error)
}

// NewFenceQuery creates a fence on dev and a query that signals once the
// fence reaches value. The fence is returned so the caller can hand it to
// the GPU work that signals it.
func NewFenceQuery(id ID, label string, dev FenceDevice, value uint64) (*Query, hal.Fence, error) {
	fence, err := dev.CreateFence()
	if err != nil {
		return nil, nil, fmt.Errorf("query %q: create fence: %w", label, err)
	}
	return NewQuery(id, label, NewFencePoller(dev, fence, value)), fence, nil
}

// FencePoller polls a HAL fence for a target value without blocking.
type FencePoller struct {
	device FenceWaiter
	fence  hal.Fence
	value  uint64
}

// NewFencePoller returns a poller that signals once fence reaches value.
// The fence is destroyed when the owning query is destroyed.
func NewFencePoller(device FenceWaiter, fence hal.Fence, value uint64) *FencePoller {
	return &FencePoller{device: device, fence: fence, value: value}
}

// Poll implements Poller.
func (p *FencePoller) Poll() (bool, error) {
	return p.device.Wait(p.fence, p.value, 0)
}

// Close destroys the fence.
func (p *FencePoller) Close() {
	p.device.DestroyFence(p.fence)
}

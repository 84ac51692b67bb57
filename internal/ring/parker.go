// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ring

import (
	"runtime"
	"sync/atomic"
	"time"
)

// Parker is the blocking half of the spin-then-block wait used by both the
// full-lane producer and the idle executor.
//
// The waiter announces itself by setting parked and then re-checks its
// condition; the waker publishes its state change and then checks parked.
// Both are sequentially consistent atomics, so at least one side observes
// the other and no wakeup is lost. Wake tokens may be stale; Park always
// re-evaluates the condition.
type Parker struct {
	parked atomic.Bool
	ch     chan struct{}
}

// NewParker creates a parker with no pending wakeup.
func NewParker() *Parker {
	return &Parker{ch: make(chan struct{}, 1)}
}

// Wake unparks the waiter if there is one. It never blocks.
func (p *Parker) Wake() {
	if !p.parked.Load() {
		return
	}
	select {
	case p.ch <- struct{}{}:
	default:
	}
}

// Park blocks until ready reports true or, when timeout > 0, the timeout
// elapses. It returns the final value of ready.
func (p *Parker) Park(ready func() bool, timeout time.Duration) bool {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		p.parked.Store(true)
		if ready() {
			p.parked.Store(false)
			return true
		}
		select {
		case <-p.ch:
		case <-expired:
			p.parked.Store(false)
			return ready()
		}
		p.parked.Store(false)
	}
}

// Spin polls ready up to n times, yielding the processor between polls.
// It returns true as soon as ready does.
func Spin(n int, ready func() bool) bool {
	for range n {
		if ready() {
			return true
		}
		runtime.Gosched()
	}
	return ready()
}

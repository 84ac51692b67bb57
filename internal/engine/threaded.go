// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gogpu/cmdstream/internal/ring"
)

// Threaded runs the executor on one worker goroutine that owns both lane
// tails. When both lanes are empty the worker spins briefly and then parks;
// every publish wakes it. While queries are pending it parks with a timeout
// so they keep being polled.
//
// Callbacks run on the worker. They must not submit records or call Finish
// or Close on the stream.
type Threaded struct {
	x    *Executor
	idle *ring.Parker
	done chan struct{}

	spin          int
	pollInterval  time.Duration
	pollRequested atomic.Bool
}

func newThreaded(x *Executor, cfg Config) *Threaded {
	return &Threaded{
		x:            x,
		idle:         ring.NewParker(),
		done:         make(chan struct{}),
		spin:         cfg.SpinCount,
		pollInterval: cfg.PollInterval,
	}
}

func (t *Threaded) start() {
	go t.run()
}

func (t *Threaded) ready() bool {
	return t.pollRequested.Load() || t.x.ready()
}

func (t *Threaded) run() {
	defer close(t.done)
	t.x.logger().Debug("cmdstream: worker started")
	for {
		if t.x.drain() {
			t.x.logger().Debug("cmdstream: worker stopped")
			return
		}
		t.pollRequested.Store(false)
		pending := t.x.housekeeping()
		if ring.Spin(t.spin, t.x.ready) {
			continue
		}
		var timeout time.Duration
		if pending {
			timeout = t.pollInterval
		}
		t.idle.Park(t.ready, timeout)
	}
}

// Mode implements Strategy.
func (t *Threaded) Mode() Mode { return ModeThreaded }

// Published implements Strategy. The lane already woke the worker.
func (t *Threaded) Published(Lane) {}

// CanFinish implements Strategy.
func (t *Threaded) CanFinish(ctx context.Context) error {
	if OnExecutor(ctx, t.x) {
		return ErrReentrantFinish
	}
	return nil
}

// Poll implements Strategy.
func (t *Threaded) Poll() {
	t.pollRequested.Store(true)
	t.idle.Wake()
}

// Wait implements Strategy.
func (t *Threaded) Wait() {
	<-t.done
}

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package engine

import "context"

// Inline executes records on the producer's goroutine. Every publish drains
// both lanes before Submit returns, so a fence has always executed by the
// time Finish waits on it.
//
// Records published while a drain is in progress (from a callback) stay
// queued and run later in the same drain.
type Inline struct {
	x        *Executor
	draining bool
}

// Mode implements Strategy.
func (s *Inline) Mode() Mode { return ModeInline }

// Published implements Strategy.
func (s *Inline) Published(Lane) {
	if s.draining {
		return
	}
	s.draining = true
	defer func() { s.draining = false }()
	s.x.drain()
	s.x.housekeeping()
}

// CanFinish implements Strategy. Waiting from inside a drain would wait on
// a fence queued behind the record that is running.
func (s *Inline) CanFinish(ctx context.Context) error {
	if s.draining || OnExecutor(ctx, s.x) {
		return ErrReentrantFinish
	}
	return nil
}

// Poll implements Strategy.
func (s *Inline) Poll() {
	if !s.draining {
		s.x.housekeeping()
	}
}

// Wait implements Strategy. Stop has already executed in Published.
func (s *Inline) Wait() {}

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package engine

import (
	"context"
	"sync/atomic"

	"github.com/gogpu/cmdstream/internal/ring"
)

// Fence is a one-shot completion flag. The producer waits on it; the
// executor signals it when the matching Fence record runs. Everything the
// executor did before signalling is visible to the waiter afterwards.
type Fence struct {
	signalled atomic.Bool
	done      chan struct{}
}

// NewFence creates an unsignalled fence.
func NewFence() *Fence {
	return &Fence{done: make(chan struct{})}
}

// Signal marks the fence and releases all waiters. Extra calls are no-ops.
func (f *Fence) Signal() {
	if f.signalled.CompareAndSwap(false, true) {
		close(f.done)
	}
}

// Signalled reports whether Signal was called.
func (f *Fence) Signalled() bool {
	return f.signalled.Load()
}

// Wait spins up to spin times and then blocks until the fence is signalled
// or ctx is done.
func (f *Fence) Wait(ctx context.Context, spin int) error {
	if ring.Spin(spin, f.Signalled) {
		return nil
	}
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		if f.Signalled() {
			return nil
		}
		return ctx.Err()
	}
}

// tokenKey is the context key for the executor token.
type tokenKey struct{}

// withToken returns a context marking code that runs on x's executor.
func withToken(ctx context.Context, x *Executor) context.Context {
	return context.WithValue(ctx, tokenKey{}, x)
}

// OnExecutor reports whether ctx was handed out by x to code running on its
// executor, such as a callback.
func OnExecutor(ctx context.Context, x *Executor) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(tokenKey{}).(*Executor)
	return v == x
}

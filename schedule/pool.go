// Package schedule implements the two execution tiers of the runtime: a
// cooperative tier where async ops run as goroutines collected in per-op
// task groups, and a bounded worker pool that hosts blocking ops and any
// synchronous function submitted from a cooperative op.
package schedule

import (
	"context"
	"sync/atomic"

	"github.com/flowllm-ai/flowllm/core"
)

// DefaultMaxWorkers bounds the pool when no size is configured.
const DefaultMaxWorkers = 128

// WorkerPool is a bounded pool for blocking calls. Saturation blocks the
// submitter; that is the backpressure mechanism for sync submissions from
// cooperative ops.
type WorkerPool struct {
	sem chan struct{}
}

func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = DefaultMaxWorkers
	}
	return &WorkerPool{sem: make(chan struct{}, size)}
}

// Size returns the pool capacity.
func (p *WorkerPool) Size() int { return cap(p.sem) }

// Future is the pending result of a pool submission.
type Future struct {
	done   chan struct{}
	result any
	err    error
}

// Await blocks until the function finished or ctx is done.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, core.FromContextErr(ctx.Err())
	}
}

// Submit acquires a pool slot and starts fn on it. When the pool is
// saturated, Submit blocks the caller until a slot frees up; cancellation
// of ctx unblocks it with CANCELLED.
func (p *WorkerPool) Submit(ctx context.Context, fn func() (any, error)) (*Future, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, core.FromContextErr(ctx.Err())
	}
	f := &Future{done: make(chan struct{})}
	go func() {
		defer func() { <-p.sem }()
		defer close(f.done)
		f.result, f.err = fn()
	}()
	return f, nil
}

// Run submits fn and awaits its result, the explicit cross-tier hand-off
// for async ops that need a blocking call.
func (p *WorkerPool) Run(ctx context.Context, fn func() (any, error)) (any, error) {
	f, err := p.Submit(ctx, fn)
	if err != nil {
		return nil, err
	}
	return f.Await(ctx)
}

var defaultPool atomic.Pointer[WorkerPool]

// Init sizes the process-wide pool from service config. Calling Init after
// serving has started replaces the pool for new submissions only.
func Init(size int) {
	defaultPool.Store(NewWorkerPool(size))
}

// Default returns the process-wide pool, creating a DefaultMaxWorkers-sized
// one on first use.
func Default() *WorkerPool {
	if p := defaultPool.Load(); p != nil {
		return p
	}
	p := NewWorkerPool(DefaultMaxWorkers)
	if defaultPool.CompareAndSwap(nil, p) {
		return p
	}
	return defaultPool.Load()
}

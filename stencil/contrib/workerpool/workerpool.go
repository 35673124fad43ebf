// Copyright 2025 The go-stencil Authors. SPDX-License-Identifier: Apache-2.0

// Package workerpool provides a persistent worker pool for running the
// interior of a stencil across goroutines. A Pool is created once, shared
// by every specialization of a CPU-parallel backend, and reused on every
// call, so a call costs a handful of channel sends instead of a goroutine
// per chunk.
//
// Work functions return an error. A panic inside a work function is
// recovered on the worker and reported as a *PanicError, so a faulty
// kernel fails its call instead of the process.
//
// Usage:
//
//	pool := workerpool.New(runtime.GOMAXPROCS(0))
//	defer pool.Close()
//
//	err := pool.ParallelFor(numPoints, func(start, end int) error {
//	    return runPoints(start, end)
//	})
package workerpool

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Pool is a persistent worker pool. Workers are spawned once at creation
// and reused.
type Pool struct {
	numWorkers int
	workC      chan workItem
	closeOnce  sync.Once
	closed     atomic.Bool
}

type workItem struct {
	fn      func()
	barrier *sync.WaitGroup
}

// PanicError wraps a value recovered from a work function.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("workerpool: work function panicked: %v", e.Value)
}

// New creates a pool with numWorkers workers, or GOMAXPROCS workers if
// numWorkers <= 0. Workers persist until Close is called.
func New(numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}

	p := &Pool{
		numWorkers: numWorkers,
		workC:      make(chan workItem, numWorkers*2),
	}
	for range numWorkers {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for item := range p.workC {
		item.fn()
		item.barrier.Done()
	}
}

// NumWorkers returns the number of workers in the pool.
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// Close shuts down the pool after pending work completes. Calling Close
// more than once is safe. A closed pool runs work on the caller.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.workC)
	})
}

// firstError keeps the first error reported by any worker.
type firstError struct {
	once sync.Once
	err  error
	set  atomic.Bool
}

func (f *firstError) store(err error) {
	if err == nil {
		return
	}
	f.once.Do(func() {
		f.err = err
		f.set.Store(true)
	})
}

// call runs fn, converting a panic into a *PanicError.
func call(fn func(start, end int) error, start, end int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(start, end)
}

// ParallelFor splits [0, n) into one contiguous chunk per worker and runs
// fn on each. It blocks until every chunk finished and returns the first
// error.
func (p *Pool) ParallelFor(n int, fn func(start, end int) error) error {
	if n <= 0 {
		return nil
	}
	workers := min(p.numWorkers, n)
	if p.closed.Load() || workers == 1 {
		return call(fn, 0, n)
	}

	chunkSize := (n + workers - 1) / workers
	var first firstError
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := range workers {
		start := i * chunkSize
		end := min(start+chunkSize, n)
		if start >= n {
			wg.Done()
			continue
		}
		p.workC <- workItem{
			fn: func() {
				first.store(call(fn, start, end))
			},
			barrier: &wg,
		}
	}
	wg.Wait()
	return first.err
}

// ParallelForBatched runs fn over batches of batchSize indices that
// workers claim one at a time, which balances uneven work. Once a batch
// fails no new batches are claimed. It returns the first error.
func (p *Pool) ParallelForBatched(n, batchSize int, fn func(start, end int) error) error {
	if n <= 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	numBatches := (n + batchSize - 1) / batchSize
	workers := min(p.numWorkers, numBatches)
	if p.closed.Load() || workers == 1 {
		return call(fn, 0, n)
	}

	var first firstError
	var nextBatch atomic.Int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		p.workC <- workItem{
			fn: func() {
				for !first.set.Load() {
					batch := int(nextBatch.Add(1)) - 1
					start := batch * batchSize
					if start >= n {
						return
					}
					first.store(call(fn, start, min(start+batchSize, n)))
				}
			},
			barrier: &wg,
		}
	}
	wg.Wait()
	return first.err
}

// Copyright 2025 The go-stencil Authors. SPDX-License-Identifier: Apache-2.0

package workerpool

import (
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
)

func TestNew(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	if pool.NumWorkers() != 4 {
		t.Errorf("NumWorkers() = %d, want 4", pool.NumWorkers())
	}
}

func TestNewDefault(t *testing.T) {
	pool := New(0)
	defer pool.Close()

	if pool.NumWorkers() != runtime.GOMAXPROCS(0) {
		t.Errorf("NumWorkers() = %d, want %d", pool.NumWorkers(), runtime.GOMAXPROCS(0))
	}
}

// double is the shared work function of the coverage tests.
func double(results []int) func(start, end int) error {
	return func(start, end int) error {
		for i := start; i < end; i++ {
			results[i] = i * 2
		}
		return nil
	}
}

func checkDoubled(t *testing.T, results []int) {
	t.Helper()
	for i, v := range results {
		if v != i*2 {
			t.Errorf("results[%d] = %d, want %d", i, v, i*2)
		}
	}
}

func TestParallelFor(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	results := make([]int, 100)
	if err := pool.ParallelFor(len(results), double(results)); err != nil {
		t.Fatal(err)
	}
	checkDoubled(t, results)
}

func TestParallelForBatched(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	for _, batch := range []int{0, 1, 7, 10, 1000} {
		results := make([]int, 100)
		if err := pool.ParallelForBatched(len(results), batch, double(results)); err != nil {
			t.Fatal(err)
		}
		checkDoubled(t, results)
	}
}

func TestParallelForSmallN(t *testing.T) {
	pool := New(8)
	defer pool.Close()

	n := 3
	var count atomic.Int32
	err := pool.ParallelFor(n, func(start, end int) error {
		count.Add(int32(end - start))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if count.Load() != int32(n) {
		t.Errorf("count = %d, want %d", count.Load(), n)
	}
}

func TestParallelForZeroN(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	var called bool
	pool.ParallelFor(0, func(start, end int) error {
		called = true
		return nil
	})
	if called {
		t.Error("ParallelFor with n=0 should not call fn")
	}
}

func TestParallelForError(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	boom := errors.New("boom")
	err := pool.ParallelFor(100, func(start, end int) error {
		if start == 0 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
}

func TestPanicRecovered(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	tests := []struct {
		name string
		run  func(fn func(start, end int) error) error
	}{
		{"static", func(fn func(start, end int) error) error { return pool.ParallelFor(64, fn) }},
		{"batched", func(fn func(start, end int) error) error { return pool.ParallelForBatched(64, 4, fn) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run(func(start, end int) error {
				var s []int
				_ = s[start+end]
				return nil
			})
			var perr *PanicError
			if !errors.As(err, &perr) {
				t.Fatalf("got %v, want *PanicError", err)
			}
			if len(perr.Stack) == 0 {
				t.Error("panic stack not captured")
			}
		})
	}

	// The pool survives a panic.
	results := make([]int, 10)
	if err := pool.ParallelFor(len(results), double(results)); err != nil {
		t.Fatal(err)
	}
	checkDoubled(t, results)
}

func TestBatchedStopsAfterError(t *testing.T) {
	pool := New(2)
	defer pool.Close()

	var calls atomic.Int32
	boom := errors.New("boom")
	err := pool.ParallelForBatched(10000, 1, func(start, end int) error {
		calls.Add(1)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if n := calls.Load(); n > 100 {
		t.Errorf("%d batches ran after the first failure", n)
	}
}

func TestCloseMultipleTimes(t *testing.T) {
	pool := New(4)
	pool.Close()
	pool.Close()
}

func TestClosedPoolFallback(t *testing.T) {
	pool := New(4)
	pool.Close()

	results := make([]int, 100)
	if err := pool.ParallelFor(len(results), double(results)); err != nil {
		t.Fatal(err)
	}
	checkDoubled(t, results)
}

func BenchmarkParallelFor(b *testing.B) {
	pool := New(0)
	defer pool.Close()

	n := 1000
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.ParallelFor(n, func(start, end int) error {
			for j := start; j < end; j++ {
				_ = j * j
			}
			return nil
		})
	}
}

func BenchmarkParallelForBatched(b *testing.B) {
	pool := New(0)
	defer pool.Close()

	n := 1000
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.ParallelForBatched(n, 10, func(start, end int) error {
			for j := start; j < end; j++ {
				_ = j * j
			}
			return nil
		})
	}
}

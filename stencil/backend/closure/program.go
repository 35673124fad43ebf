// Copyright 2025 go-stencil Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package closure

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ajroetker/go-stencil/stencil"
	"github.com/ajroetker/go-stencil/stencil/contrib/workerpool"
	"github.com/ajroetker/go-stencil/stencil/grid"
	"github.com/ajroetker/go-stencil/stencil/native"
)

// Program is the compiled form carried in Unit.Program.
type Program struct {
	Kernel    string
	Parallel  bool
	Schedule  Schedule
	BatchSize int // points per claim under the Dynamic schedule

	// SpreadLoops counts the interior loops split across workers. Only
	// outermost interior loops are split.
	SpreadLoops int

	body   stmtFn
	inputs int
	rank   int
	points int
	nums   int
}

// frame holds the state of one running kernel body. Workers each run on a
// fork of the frame that started the parallel loop.
type frame struct {
	grids  []*grid.Grid // inputs, then the output
	points [][]int
	nums   []float64
	run    *runner // nil inside a worker
}

func (p *Program) newFrame(grids []*grid.Grid, run *runner) *frame {
	f := &frame{
		grids:  grids,
		points: make([][]int, p.points),
		nums:   make([]float64, p.nums),
		run:    run,
	}
	for i := range f.points {
		f.points[i] = make([]int, p.rank)
	}
	return f
}

// fork copies the variables of f. Updates made by a worker to variables
// declared outside the parallel loop stay private to that worker.
func (f *frame) fork() *frame {
	sub := &frame{
		grids:  f.grids,
		points: make([][]int, len(f.points)),
		nums:   slices.Clone(f.nums),
	}
	for i, p := range f.points {
		sub.points[i] = slices.Clone(p)
	}
	return sub
}

type runner struct {
	pool     *workerpool.Pool
	schedule Schedule
	batch    int
}

func (r *runner) parallelFor(n int, fn func(start, end int) error) error {
	if r.schedule == Dynamic {
		return r.pool.ParallelForBatched(n, r.batch, fn)
	}
	return r.pool.ParallelFor(n, fn)
}

// Run executes the program once. out must already have the output shape.
func (p *Program) Run(inputs []*grid.Grid, out *grid.Grid, pool *workerpool.Pool) error {
	var run *runner
	if p.Parallel && pool != nil {
		run = &runner{pool: pool, schedule: p.Schedule, batch: p.BatchSize}
	}
	return p.run(inputs, out, run)
}

func (p *Program) run(inputs []*grid.Grid, out *grid.Grid, run *runner) (err error) {
	if len(inputs) != p.inputs {
		return fmt.Errorf("closure: kernel %s takes %d inputs, got %d", p.Kernel, p.inputs, len(inputs))
	}
	grids := append(slices.Clone(inputs), out)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("closure: kernel %s: %v", p.Kernel, r)
		}
	}()
	if err := p.body(p.newFrame(grids, run)); err != nil {
		return fmt.Errorf("closure: kernel %s: %w", p.Kernel, err)
	}
	return nil
}

// Toolchain binds closure programs to native entry points. Parallel
// programs run on Pool, which the toolchain does not own.
type Toolchain struct {
	Pool *workerpool.Pool
}

// NewToolchain returns a toolchain running parallel units on pool. pool
// may be nil for a toolchain that only compiles sequential units.
func NewToolchain(pool *workerpool.Pool) *Toolchain {
	return &Toolchain{Pool: pool}
}

var errNoPool = errors.New("closure: parallel unit needs a worker pool")

// Compile implements stencil.NativeToolchain.
func (t *Toolchain) Compile(u *stencil.Unit, sig native.Signature) (native.Func, error) {
	prog, ok := u.Program.(*Program)
	if !ok || prog == nil {
		return nil, fmt.Errorf("closure: unit %q carries %T, not a closure program", u.Target, u.Program)
	}
	if n := len(sig.Inputs()); n != prog.inputs {
		return nil, fmt.Errorf("closure: signature has %d inputs, program %s takes %d", n, prog.Kernel, prog.inputs)
	}
	var run *runner
	if prog.Parallel {
		if t.Pool == nil {
			return nil, errNoPool
		}
		run = &runner{pool: t.Pool, schedule: prog.Schedule, batch: prog.BatchSize}
	}
	return func(inputs []*grid.Grid, out *grid.Grid, elapsed *time.Duration) error {
		start := time.Now()
		err := prog.run(inputs, out, run)
		*elapsed = time.Since(start)
		return err
	}, nil
}

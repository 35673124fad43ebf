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

// Package closure is the reference native backend. It lowers a translated
// kernel into a tree of Go closures specialized for one configuration:
// grid names resolve to argument slots, local variables to frame slots,
// and every shape and neighbor offset is fixed at emit time.
//
// The parallel variant splits each outermost interior loop across a
// workerpool.Pool. Writes from different interior points must not overlap,
// which holds for kernels that only write out[x].
//
// Arithmetic is carried out in float64. Stores to integer grids truncate.
package closure

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/ajroetker/go-stencil/stencil"
	"github.com/ajroetker/go-stencil/stencil/grid"
	"github.com/ajroetker/go-stencil/stencil/internal/hostcpu"
	"github.com/ajroetker/go-stencil/stencil/model"
	"github.com/ajroetker/go-stencil/stencil/native"
	"github.com/samber/lo"
)

// Schedule selects how interior points are handed to workers.
type Schedule int

const (
	// Static gives each worker one contiguous share of the interior.
	Static Schedule = iota
	// Dynamic lets workers claim batches of points until none are left.
	Dynamic
)

func (s Schedule) String() string {
	if s == Dynamic {
		return "dynamic"
	}
	return "static"
}

// Emitter implements stencil.Emitter for closure programs.
type Emitter struct {
	Parallel  bool
	Schedule  Schedule
	BatchSize int // 0 picks a batch from the host vector width
}

// Sequential returns an emitter for the sequential backend.
func Sequential() *Emitter { return &Emitter{} }

// Parallel returns an emitter for the CPU-parallel backend.
func Parallel(s Schedule) *Emitter { return &Emitter{Parallel: true, Schedule: s} }

// Target names the units this emitter produces.
func (e *Emitter) Target() string {
	if e.Parallel {
		return "closure/parallel"
	}
	return "closure/sequential"
}

// Emit implements stencil.Emitter.
func (e *Emitter) Emit(k *model.Kernel, cfg stencil.Configuration, sig native.Signature) (*stencil.Unit, error) {
	if len(cfg.Inputs) != len(k.Inputs) {
		return nil, fmt.Errorf("closure: kernel %s takes %d inputs, configuration has %d", k.Name, len(k.Inputs), len(cfg.Inputs))
	}
	descs := append(slices.Clone(cfg.Inputs), cfg.Output)
	shapes := lo.Map(descs, func(d grid.Descriptor, _ int) []int { return d.Shape })

	c := newCompiler(k, shapes, e.Parallel)
	body, err := c.block(k.Body)
	if err != nil {
		return nil, err
	}
	batch := e.BatchSize
	if batch <= 0 {
		batch = hostcpu.BatchSize(cfg.Output.DType.Size())
	}
	prog := &Program{
		Kernel:      k.Name,
		Parallel:    e.Parallel,
		Schedule:    e.Schedule,
		BatchSize:   batch,
		SpreadLoops: c.spread,
		body:        body,
		inputs:      len(k.Inputs),
		rank:        c.rank,
		points:      c.points,
		nums:        c.nums,
	}
	src, err := e.source(k, sig, prog)
	if err != nil {
		return nil, err
	}
	return &stencil.Unit{
		EntryPoint: native.EntryPoint,
		Target:     e.Target(),
		Signature:  sig,
		Source:     src,
		Program:    prog,
	}, nil
}

// source renders the unit as annotated Go: the entry-point signature over
// the kernel body with the stencil loops written back out.
func (e *Emitter) source(k *model.Kernel, sig native.Signature, prog *Program) ([]byte, error) {
	body, err := model.Format(k.Body)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "// Code generated by stencil (%s). DO NOT EDIT.\n", e.Target())
	fmt.Fprintf(&buf, "// kernel %s, ghost %d, host %s\n", k.Name, k.GhostDepth, hostcpu.CurrentLevel())
	if prog.Parallel {
		fmt.Fprintf(&buf, "// %d interior loop(s) split across workers, %s schedule, batch %d\n",
			prog.SpreadLoops, prog.Schedule, prog.BatchSize)
	}
	fmt.Fprintf(&buf, "\n%s %s\n", sig, body)
	return buf.Bytes(), nil
}

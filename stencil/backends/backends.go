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

// Package backends builds the reference backends: closure programs for the
// sequential and CPU-parallel kinds, WGSL on WebGPU for the GPU kind.
package backends

import (
	"fmt"

	"github.com/ajroetker/go-stencil/stencil"
	"github.com/ajroetker/go-stencil/stencil/backend/closure"
	"github.com/ajroetker/go-stencil/stencil/backend/wgsl"
	"github.com/ajroetker/go-stencil/stencil/contrib/workerpool"
	"github.com/ajroetker/go-stencil/stencil/gpu"
	"github.com/ajroetker/go-stencil/stencil/gpu/wgpudriver"
)

// Options tunes New. The zero value is ready to use.
type Options struct {
	// Workers is the CPU-parallel worker count. Zero means GOMAXPROCS.
	Workers int

	// Schedule is how the CPU-parallel backend hands out interior points.
	Schedule closure.Schedule

	// Driver runs GPU kernels. Nil opens a WebGPU instance.
	Driver gpu.Driver
}

func nop() error { return nil }

// New builds a backend of the given kind. release frees what New created
// (worker goroutines, the WebGPU instance) and must be called after every
// Controller using the backend is closed.
func New(kind stencil.BackendKind, opts Options) (b stencil.Backend, release func() error, err error) {
	switch kind {
	case stencil.BackendSequential:
		return stencil.Sequential{Emitter: closure.Sequential(), Toolchain: closure.NewToolchain(nil)}, nop, nil

	case stencil.BackendCPUParallel:
		pool := workerpool.New(opts.Workers)
		b := stencil.CPUParallel{Emitter: closure.Parallel(opts.Schedule), Toolchain: closure.NewToolchain(pool)}
		return b, func() error {
			pool.Close()
			return nil
		}, nil

	case stencil.BackendGPU:
		if opts.Driver != nil {
			return stencil.GPU{Emitter: wgsl.Emitter{}, Toolchain: wgsl.Toolchain{}, Driver: opts.Driver}, nop, nil
		}
		d, err := wgpudriver.New()
		if err != nil {
			return nil, nil, err
		}
		return stencil.GPU{Emitter: wgsl.Emitter{}, Toolchain: wgsl.Toolchain{}, Driver: d}, d.Close, nil
	}
	return nil, nil, fmt.Errorf("backends: unknown backend kind %s", kind)
}

// MustNew is New with default options that panics on error. The backend's
// resources live for the rest of the process.
func MustNew(kind stencil.BackendKind) stencil.Backend {
	b, _, err := New(kind, Options{})
	if err != nil {
		panic(err)
	}
	return b
}

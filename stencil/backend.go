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

package stencil

import (
	"fmt"

	"github.com/ajroetker/go-stencil/stencil/gpu"
	"github.com/ajroetker/go-stencil/stencil/model"
	"github.com/ajroetker/go-stencil/stencil/native"
)

// BackendKind names an execution backend.
type BackendKind int

const (
	BackendSequential BackendKind = iota
	BackendCPUParallel
	BackendGPU
)

var backendNames = map[BackendKind]string{
	BackendSequential:  "sequential",
	BackendCPUParallel: "parallel",
	BackendGPU:         "gpu",
}

func (k BackendKind) String() string {
	if name, ok := backendNames[k]; ok {
		return name
	}
	return fmt.Sprintf("BackendKind(%d)", int(k))
}

// ParseBackendKind maps "sequential", "parallel" or "gpu" to a kind.
func ParseBackendKind(s string) (BackendKind, error) {
	for k, name := range backendNames {
		if name == s {
			return k, nil
		}
	}
	switch s {
	case "seq", "c":
		return BackendSequential, nil
	case "omp", "cpu", "cpu-parallel":
		return BackendCPUParallel, nil
	case "opencl", "webgpu":
		return BackendGPU, nil
	}
	return 0, fmt.Errorf("unknown backend %q", s)
}

// Backend is one of Sequential, CPUParallel or GPU. The set is closed.
type Backend interface {
	Kind() BackendKind
	backend()
}

// Sequential runs a native kernel on the calling goroutine.
type Sequential struct {
	Emitter   Emitter
	Toolchain NativeToolchain
}

// CPUParallel runs a native kernel that spreads its interior across
// worker goroutines.
type CPUParallel struct {
	Emitter   Emitter
	Toolchain NativeToolchain
}

// GPU runs a device kernel through a gpu.Runtime created on Driver.
type GPU struct {
	Emitter   Emitter
	Toolchain DeviceToolchain
	Driver    gpu.Driver
}

func (Sequential) Kind() BackendKind  { return BackendSequential }
func (CPUParallel) Kind() BackendKind { return BackendCPUParallel }
func (GPU) Kind() BackendKind         { return BackendGPU }

func (Sequential) backend()  {}
func (CPUParallel) backend() {}
func (GPU) backend()         {}

// Unit is the output of an Emitter: a compilable program with one entry
// point named native.EntryPoint.
type Unit struct {
	EntryPoint string
	Target     string // e.g. "closure/sequential", "wgsl"
	Signature  native.Signature
	Source     []byte // printable program text
	Program    any    // emitter-specific compiled form, if any
}

// Emitter turns a translated kernel and a configuration into a Unit.
type Emitter interface {
	Emit(k *model.Kernel, cfg Configuration, sig native.Signature) (*Unit, error)
}

// NativeToolchain compiles a unit into a callable entry point.
type NativeToolchain interface {
	Compile(u *Unit, sig native.Signature) (native.Func, error)
}

// DeviceToolchain compiles a unit into a kernel on a device context.
type DeviceToolchain interface {
	Compile(ctx gpu.Context, u *Unit) (gpu.Kernel, error)
}

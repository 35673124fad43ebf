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

// Package gpu runs compiled stencil kernels on a compute device.
//
// The Runtime talks to the device through the Driver family of interfaces,
// which follow the OpenCL object model: a device, a context that owns
// memory and programs, a command queue, kernels with positional arguments
// and events that signal completion. Package wgpudriver implements them on
// WebGPU; package gputest provides an in-memory driver for tests.
package gpu

import (
	"errors"
	"fmt"
)

// ErrContextLost is returned (possibly wrapped) by a driver when the
// device context can no longer be used. A Runtime that sees it fails every
// later call with the same error.
var ErrContextLost = errors.New("gpu: device context lost")

// ErrNoDevice is returned by New when the driver enumerates no device.
var ErrNoDevice = errors.New("gpu: no compute device")

// ErrWorkgroupTooLarge is returned by Finalize when the work-group for the
// output rank has more invocations than the device allows.
var ErrWorkgroupTooLarge = errors.New("gpu: work-group exceeds the device invocation limit")

// WorkgroupLimiter is implemented by contexts whose device caps the number
// of invocations in one work-group. Contexts without it are unlimited.
type WorkgroupLimiter interface {
	MaxWorkgroupInvocations() int
}

// DeviceType classifies devices for work-group sizing.
type DeviceType int

const (
	DeviceOther DeviceType = iota
	DeviceCPU
	DeviceGPU
)

func (t DeviceType) String() string {
	switch t {
	case DeviceCPU:
		return "cpu"
	case DeviceGPU:
		return "gpu"
	default:
		return "other"
	}
}

// DeviceInfo describes one enumerated device.
type DeviceInfo struct {
	Index  int
	Name   string
	Vendor string
	Type   DeviceType
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("#%d %s (%s, %s)", d.Index, d.Name, d.Vendor, d.Type)
}

// Driver enumerates devices and creates contexts on them.
type Driver interface {
	// Devices lists the available devices. The last one is assumed to be
	// the most capable.
	Devices() ([]DeviceInfo, error)
	CreateContext(dev DeviceInfo) (Context, error)
}

// Context owns device memory and compiled programs for one device.
type Context interface {
	NewQueue() (Queue, error)
	// Compile builds the named entry point of a device program.
	Compile(entryPoint string, source []byte) (Kernel, error)
	Alloc(size int) (Buffer, error)
	Release() error
}

// Queue orders transfers and launches. Every Enqueue call returns at once;
// the returned Event signals completion.
type Queue interface {
	EnqueueWrite(dst Buffer, src []byte) (Event, error)
	// EnqueueKernel launches k over global work items in groups of local.
	// global need not be a multiple of local: drivers round the group
	// count up and kernels bound-check their ids.
	EnqueueKernel(k Kernel, global, local []int) (Event, error)
	EnqueueRead(src Buffer, dst []byte) (Event, error)
	Release() error
}

// Event is a completion signal for one enqueued command.
type Event interface {
	Wait() error
}

// Kernel is a compiled device entry point with positional arguments.
type Kernel interface {
	SetArg(index int, buf Buffer) error
	// SetLocalArg sizes the work-group local memory argument at index.
	SetLocalArg(index int, size int) error
	Release() error
}

// Buffer is a device allocation.
type Buffer interface {
	Size() int
	Release() error
}

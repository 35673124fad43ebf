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

// Package gputest provides an in-memory gpu.Driver for tests. It counts
// every allocation and release, runs kernels as Go functions and injects
// errors at chosen operations.
package gputest

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/ajroetker/go-stencil/stencil/gpu"
)

// KernelFunc executes a fake kernel. args holds the buffer bound to each
// argument slot, nil for the local memory slot.
type KernelFunc func(args []*Buffer, localBytes int, global, local []int) error

// Driver is a fake device driver. Its exported fields may be set before
// use; counters are read through Stats.
type Driver struct {
	// DeviceList is returned by Devices. Defaults to a CPU then a GPU.
	DeviceList []gpu.DeviceInfo

	// Programs maps entry point names to their behavior. Unknown entry
	// points compile to a kernel that does nothing.
	Programs map[string]KernelFunc

	// Injected failures. AllocErr fails every allocation from the
	// AllocErrAt-th on (1-based; zero means from the first).
	CompileErr error
	AllocErr   error
	AllocErrAt int
	WriteErr   error
	LaunchErr  error
	ReadErr    error
	// WaitErr fails the completion of upload events.
	WaitErr error

	// MaxInvocations, when positive, is the work-group invocation limit
	// contexts report through MaxWorkgroupInvocations.
	MaxInvocations int

	mu    sync.Mutex
	stats Stats
	live  map[*Buffer]bool
}

// Stats counts driver activity.
type Stats struct {
	Contexts        int
	ContextReleases int
	Queues          int
	QueueReleases   int
	Kernels         int
	KernelReleases  int
	Allocs          int
	BufferReleases  int
	Writes          int
	Launches        int
	Reads           int

	LastGlobal     []int
	LastLocal      []int
	LastLocalBytes int
}

// NewDriver returns a driver with a CPU and a GPU device.
func NewDriver() *Driver {
	return &Driver{}
}

// Stats returns a snapshot of the counters.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// LiveBuffers returns the number of allocated and not yet released buffers.
func (d *Driver) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

func (d *Driver) Devices() ([]gpu.DeviceInfo, error) {
	if d.DeviceList != nil {
		return d.DeviceList, nil
	}
	return []gpu.DeviceInfo{
		{Index: 0, Name: "fake-cpu", Vendor: "gputest", Type: gpu.DeviceCPU},
		{Index: 1, Name: "fake-gpu", Vendor: "gputest", Type: gpu.DeviceGPU},
	}, nil
}

func (d *Driver) CreateContext(dev gpu.DeviceInfo) (gpu.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Contexts++
	return &Context{d: d, Device: dev}, nil
}

// Context is a fake device context.
type Context struct {
	d        *Driver
	Device   gpu.DeviceInfo
	released bool
}

func (c *Context) NewQueue() (gpu.Queue, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.stats.Queues++
	return &Queue{d: c.d}, nil
}

func (c *Context) Compile(entryPoint string, source []byte) (gpu.Kernel, error) {
	if c.d.CompileErr != nil {
		return nil, c.d.CompileErr
	}
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.stats.Kernels++
	return &Kernel{d: c.d, EntryPoint: entryPoint, Source: source, fn: c.d.Programs[entryPoint]}, nil
}

func (c *Context) Alloc(size int) (gpu.Buffer, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.stats.Allocs++
	if c.d.AllocErr != nil && c.d.stats.Allocs >= c.d.AllocErrAt {
		return nil, c.d.AllocErr
	}
	b := &Buffer{d: c.d, Data: make([]byte, size)}
	if c.d.live == nil {
		c.d.live = make(map[*Buffer]bool)
	}
	c.d.live[b] = true
	return b, nil
}

// MaxWorkgroupInvocations reports the driver's MaxInvocations, or no limit
// when it is unset.
func (c *Context) MaxWorkgroupInvocations() int {
	if c.d.MaxInvocations > 0 {
		return c.d.MaxInvocations
	}
	return math.MaxInt
}

func (c *Context) Release() error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.released {
		return fmt.Errorf("gputest: context released twice")
	}
	c.released = true
	c.d.stats.ContextReleases++
	return nil
}

// Queue is a fake command queue. Commands complete synchronously.
type Queue struct {
	d        *Driver
	released bool
}

func (q *Queue) EnqueueWrite(dst gpu.Buffer, src []byte) (gpu.Event, error) {
	if q.d.WriteErr != nil {
		return nil, q.d.WriteErr
	}
	b := dst.(*Buffer)
	copy(b.Data, src)
	q.d.mu.Lock()
	q.d.stats.Writes++
	q.d.mu.Unlock()
	return event{err: q.d.WaitErr}, nil
}

func (q *Queue) EnqueueKernel(k gpu.Kernel, global, local []int) (gpu.Event, error) {
	if q.d.LaunchErr != nil {
		return nil, q.d.LaunchErr
	}
	kern := k.(*Kernel)
	q.d.mu.Lock()
	q.d.stats.Launches++
	q.d.stats.LastGlobal = append([]int(nil), global...)
	q.d.stats.LastLocal = append([]int(nil), local...)
	q.d.stats.LastLocalBytes = kern.localBytes
	q.d.mu.Unlock()
	if kern.fn == nil {
		return event{}, nil
	}
	return event{err: kern.fn(kern.args, kern.localBytes, global, local)}, nil
}

func (q *Queue) EnqueueRead(src gpu.Buffer, dst []byte) (gpu.Event, error) {
	if q.d.ReadErr != nil {
		return nil, q.d.ReadErr
	}
	copy(dst, src.(*Buffer).Data)
	q.d.mu.Lock()
	q.d.stats.Reads++
	q.d.mu.Unlock()
	return event{}, nil
}

func (q *Queue) Release() error {
	q.d.mu.Lock()
	defer q.d.mu.Unlock()
	if q.released {
		return fmt.Errorf("gputest: queue released twice")
	}
	q.released = true
	q.d.stats.QueueReleases++
	return nil
}

type event struct{ err error }

func (e event) Wait() error { return e.err }

// Kernel is a fake compiled kernel.
type Kernel struct {
	d          *Driver
	EntryPoint string
	Source     []byte
	fn         KernelFunc
	args       []*Buffer
	localBytes int
}

func (k *Kernel) SetArg(index int, buf gpu.Buffer) error {
	k.grow(index)
	k.args[index] = buf.(*Buffer)
	return nil
}

func (k *Kernel) SetLocalArg(index int, size int) error {
	k.grow(index)
	k.args[index] = nil
	k.localBytes = size
	return nil
}

func (k *Kernel) grow(index int) {
	for len(k.args) <= index {
		k.args = append(k.args, nil)
	}
}

func (k *Kernel) Release() error {
	k.d.mu.Lock()
	defer k.d.mu.Unlock()
	k.d.stats.KernelReleases++
	return nil
}

// Buffer is fake device memory.
type Buffer struct {
	d        *Driver
	Data     []byte
	released bool
}

func (b *Buffer) Size() int { return len(b.Data) }

func (b *Buffer) Release() error {
	b.d.mu.Lock()
	defer b.d.mu.Unlock()
	if b.released {
		return fmt.Errorf("gputest: buffer released twice")
	}
	b.released = true
	b.d.stats.BufferReleases++
	delete(b.d.live, b)
	return nil
}

// Float32s decodes little-endian float32 values.
func (b *Buffer) Float32s() []float32 {
	out := make([]float32, len(b.Data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b.Data[4*i:]))
	}
	return out
}

// SetFloat32s encodes values into the buffer starting at element 0.
func (b *Buffer) SetFloat32s(values []float32) {
	for i, v := range values {
		binary.LittleEndian.PutUint32(b.Data[4*i:], math.Float32bits(v))
	}
}

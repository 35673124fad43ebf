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

// Package wgpudriver implements gpu.Driver on WebGPU.
//
// WebGPU has no dynamically sized work-group memory, so device programs
// carry placeholders that are substituted when a kernel is first launched
// with a given geometry: __WORKGROUP_SIZE__ becomes the comma-separated
// work-group extents, __LOCAL_SIZE__ the extent along the first dimension
// and __TILE_ELEMS__ the number of elements in the local memory tile. One
// pipeline is cached per geometry.
package wgpudriver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ajroetker/go-stencil/stencil/gpu"
	"github.com/openfluke/webgpu/wgpu"
)

const (
	// WorkgroupSizePlaceholder is replaced by the work-group extents.
	WorkgroupSizePlaceholder = gpu.WorkgroupSizePlaceholder
	// LocalSizePlaceholder is replaced by the first work-group extent.
	LocalSizePlaceholder = gpu.LocalSizePlaceholder
	// TileElemsPlaceholder is replaced by the local tile length.
	TileElemsPlaceholder = gpu.TileElemsPlaceholder
)

// Driver enumerates WebGPU adapters.
type Driver struct {
	instance *wgpu.Instance
	adapters []*wgpu.Adapter
}

// New creates a WebGPU instance.
func New() (*Driver, error) {
	instance := wgpu.CreateInstance(nil)
	if instance == nil {
		return nil, errors.New("wgpudriver: failed to create WebGPU instance")
	}
	return &Driver{instance: instance}, nil
}

// Devices lists the adapters in enumeration order.
func (d *Driver) Devices() ([]gpu.DeviceInfo, error) {
	if d.adapters == nil {
		d.adapters = d.instance.EnumerateAdapters(nil)
	}
	devices := make([]gpu.DeviceInfo, len(d.adapters))
	for i, a := range d.adapters {
		info := a.GetInfo()
		devices[i] = gpu.DeviceInfo{
			Index:  i,
			Name:   info.Name,
			Vendor: info.VendorName,
			Type:   deviceType(info.AdapterType.String()),
		}
	}
	return devices, nil
}

func deviceType(adapterType string) gpu.DeviceType {
	switch t := strings.ToLower(adapterType); {
	case strings.Contains(t, "gpu"):
		return gpu.DeviceGPU
	case strings.Contains(t, "cpu"):
		return gpu.DeviceCPU
	default:
		return gpu.DeviceOther
	}
}

// CreateContext requests a device on the adapter behind dev.
func (d *Driver) CreateContext(dev gpu.DeviceInfo) (gpu.Context, error) {
	if dev.Index < 0 || dev.Index >= len(d.adapters) {
		return nil, fmt.Errorf("wgpudriver: no adapter %d", dev.Index)
	}
	device, err := d.adapters[dev.Index].RequestDevice(nil)
	if err != nil {
		return nil, fmt.Errorf("wgpudriver: request device on %s: %w", dev.Name, err)
	}
	return &Context{device: device, info: dev}, nil
}

// Close releases the adapters and the instance. Contexts must be released
// first.
func (d *Driver) Close() error {
	for _, a := range d.adapters {
		a.Release()
	}
	d.adapters = nil
	if d.instance != nil {
		d.instance.Release()
		d.instance = nil
	}
	return nil
}

// MaxWorkgroupInvocations is the WebGPU default for
// maxComputeInvocationsPerWorkgroup. Devices are requested with default
// limits, so rank-3 grids (8x8x8 work-groups) cannot run on a GPU adapter.
const MaxWorkgroupInvocations = 256

// Context is one WebGPU device.
type Context struct {
	device *wgpu.Device
	info   gpu.DeviceInfo
}

// MaxWorkgroupInvocations implements gpu.WorkgroupLimiter.
func (c *Context) MaxWorkgroupInvocations() int { return MaxWorkgroupInvocations }

func (c *Context) live() error {
	if c.device == nil {
		return gpu.ErrContextLost
	}
	return nil
}

// NewQueue returns the device's queue.
func (c *Context) NewQueue() (gpu.Queue, error) {
	if err := c.live(); err != nil {
		return nil, err
	}
	return &Queue{ctx: c, queue: c.device.GetQueue()}, nil
}

// Compile checks that the program builds with a unit geometry and returns
// a kernel that is specialized per launch geometry.
func (c *Context) Compile(entryPoint string, source []byte) (gpu.Kernel, error) {
	if err := c.live(); err != nil {
		return nil, err
	}
	k := &Kernel{
		ctx:        c,
		entryPoint: entryPoint,
		source:     string(source),
		pipelines:  make(map[string]*pipeline),
	}
	module, err := c.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          entryPoint + "_check",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: bake(k.source, []int{1, 1, 1}, 1)},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpudriver: compile %s: %w", entryPoint, err)
	}
	module.Release()
	return k, nil
}

// Alloc creates a storage buffer usable as a copy source and destination.
func (c *Context) Alloc(size int) (gpu.Buffer, error) {
	if err := c.live(); err != nil {
		return nil, err
	}
	padded := (size + 3) &^ 3
	buf, err := c.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "stencil",
		Size:  uint64(max(padded, 4)),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpudriver: allocate %d bytes: %w", size, err)
	}
	return &Buffer{buf: buf, size: size}, nil
}

// Release releases the device.
func (c *Context) Release() error {
	if c.device != nil {
		c.device.Release()
		c.device = nil
	}
	return nil
}

// Buffer is a WebGPU storage buffer.
type Buffer struct {
	buf  *wgpu.Buffer
	size int
}

func (b *Buffer) Size() int { return b.size }

func (b *Buffer) Release() error {
	if b.buf != nil {
		b.buf.Destroy()
		b.buf = nil
	}
	return nil
}

// bake substitutes the geometry placeholders. WGSL needs three work-group
// extents; missing dimensions are 1.
func bake(source string, local []int, tileElems int) string {
	dims := []string{"1", "1", "1"}
	for i := 0; i < len(local) && i < 3; i++ {
		dims[i] = fmt.Sprint(local[i])
	}
	r := strings.NewReplacer(
		WorkgroupSizePlaceholder, strings.Join(dims, ", "),
		LocalSizePlaceholder, dims[0],
		TileElemsPlaceholder, fmt.Sprint(max(tileElems, 1)),
	)
	return r.Replace(source)
}

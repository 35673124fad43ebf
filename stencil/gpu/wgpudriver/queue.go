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

package wgpudriver

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ajroetker/go-stencil/stencil/gpu"
	"github.com/openfluke/webgpu/wgpu"
)

// Kernel is a WGSL program specialized lazily per launch geometry.
type Kernel struct {
	ctx        *Context
	entryPoint string
	source     string
	args       []*Buffer
	localBytes int
	pipelines  map[string]*pipeline
}

type pipeline struct {
	layout *wgpu.BindGroupLayout
	pipe   *wgpu.ComputePipeline
}

// SetArg binds buf to binding index. The highest bound index is the
// output and is bound read-write; all lower ones are read-only.
func (k *Kernel) SetArg(index int, buf gpu.Buffer) error {
	b, ok := buf.(*Buffer)
	if !ok {
		return fmt.Errorf("wgpudriver: foreign buffer %T", buf)
	}
	for len(k.args) <= index {
		k.args = append(k.args, nil)
	}
	k.args[index] = b
	return nil
}

// SetLocalArg records the tile size; WGSL declares the tile itself.
func (k *Kernel) SetLocalArg(index int, size int) error {
	k.localBytes = size
	return nil
}

func (k *Kernel) Release() error {
	for key, p := range k.pipelines {
		p.pipe.Release()
		p.layout.Release()
		delete(k.pipelines, key)
	}
	return nil
}

func (k *Kernel) pipelineFor(local []int) (*pipeline, error) {
	// f32 tiles.
	tile := k.localBytes / 4
	key := fmt.Sprint(local, tile, len(k.args))
	if p, ok := k.pipelines[key]; ok {
		return p, nil
	}

	device := k.ctx.device
	module, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          k.entryPoint,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: bake(k.source, local, tile)},
	})
	if err != nil {
		return nil, fmt.Errorf("shader module: %w", err)
	}
	defer module.Release()

	entries := make([]wgpu.BindGroupLayoutEntry, len(k.args))
	for i := range k.args {
		typ := wgpu.BufferBindingTypeReadOnlyStorage
		if i == len(k.args)-1 {
			typ = wgpu.BufferBindingTypeStorage
		}
		entries[i] = wgpu.BindGroupLayoutEntry{
			Binding:    uint32(i),
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: typ},
		}
	}
	layout, err := device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   k.entryPoint + "_bgl",
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("bind group layout: %w", err)
	}
	pipelineLayout, err := device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            k.entryPoint + "_layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{layout},
	})
	if err != nil {
		layout.Release()
		return nil, fmt.Errorf("pipeline layout: %w", err)
	}
	defer pipelineLayout.Release()
	pipe, err := device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  k.entryPoint + "_pipe",
		Layout: pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: k.entryPoint,
		},
	})
	if err != nil {
		layout.Release()
		return nil, fmt.Errorf("compute pipeline: %w", err)
	}
	p := &pipeline{layout: layout, pipe: pipe}
	k.pipelines[key] = p
	return p, nil
}

// Queue wraps the device queue.
type Queue struct {
	ctx   *Context
	queue *wgpu.Queue
}

// EnqueueWrite stages src into dst. The write is ordered before any later
// submission, so its event only drains the device.
func (q *Queue) EnqueueWrite(dst gpu.Buffer, src []byte) (gpu.Event, error) {
	if err := q.ctx.live(); err != nil {
		return nil, err
	}
	b, ok := dst.(*Buffer)
	if !ok {
		return nil, fmt.Errorf("wgpudriver: foreign buffer %T", dst)
	}
	if len(src)%4 != 0 {
		padded := make([]byte, (len(src)+3)&^3)
		copy(padded, src)
		src = padded
	}
	q.queue.WriteBuffer(b.buf, 0, src)
	return pollEvent{ctx: q.ctx}, nil
}

// EnqueueKernel dispatches ceil(global/local) work-groups per dimension.
func (q *Queue) EnqueueKernel(k gpu.Kernel, global, local []int) (gpu.Event, error) {
	if err := q.ctx.live(); err != nil {
		return nil, err
	}
	kern, ok := k.(*Kernel)
	if !ok {
		return nil, fmt.Errorf("wgpudriver: foreign kernel %T", k)
	}
	if len(global) > 3 {
		return nil, fmt.Errorf("wgpudriver: %d-dimensional launch", len(global))
	}
	if slices.Contains(kern.args, nil) {
		return nil, errors.New("wgpudriver: unbound kernel argument")
	}
	p, err := kern.pipelineFor(local)
	if err != nil {
		return nil, fmt.Errorf("wgpudriver: %s: %w", kern.entryPoint, err)
	}

	device := q.ctx.device
	entries := make([]wgpu.BindGroupEntry, len(kern.args))
	for i, b := range kern.args {
		entries[i] = wgpu.BindGroupEntry{Binding: uint32(i), Buffer: b.buf, Size: b.buf.GetSize()}
	}
	bindGroup, err := device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   kern.entryPoint + "_bind",
		Layout:  p.layout,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpudriver: bind group: %w", err)
	}
	defer bindGroup.Release()

	groups := [3]uint32{1, 1, 1}
	for i := range global {
		groups[i] = uint32((global[i] + local[i] - 1) / local[i])
	}

	enc, err := device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("wgpudriver: command encoder: %w", err)
	}
	defer enc.Release()
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(p.pipe)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(groups[0], groups[1], groups[2])
	pass.End()
	cmd, err := enc.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("wgpudriver: finish: %w", err)
	}
	defer cmd.Release()
	q.queue.Submit(cmd)
	return pollEvent{ctx: q.ctx}, nil
}

// EnqueueRead copies src through a staging buffer; the returned event maps
// it and fills dst.
func (q *Queue) EnqueueRead(src gpu.Buffer, dst []byte) (gpu.Event, error) {
	if err := q.ctx.live(); err != nil {
		return nil, err
	}
	b, ok := src.(*Buffer)
	if !ok {
		return nil, fmt.Errorf("wgpudriver: foreign buffer %T", src)
	}
	device := q.ctx.device
	size := b.buf.GetSize()
	staging, err := device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "stencil_staging",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpudriver: staging buffer: %w", err)
	}
	enc, err := device.CreateCommandEncoder(nil)
	if err != nil {
		staging.Destroy()
		return nil, fmt.Errorf("wgpudriver: command encoder: %w", err)
	}
	defer enc.Release()
	enc.CopyBufferToBuffer(b.buf, 0, staging, 0, size)
	cmd, err := enc.Finish(nil)
	if err != nil {
		staging.Destroy()
		return nil, fmt.Errorf("wgpudriver: finish: %w", err)
	}
	defer cmd.Release()
	q.queue.Submit(cmd)
	return &readEvent{ctx: q.ctx, staging: staging, size: size, dst: dst}, nil
}

// Release releases the queue handle.
func (q *Queue) Release() error {
	if q.queue != nil {
		q.queue.Release()
		q.queue = nil
	}
	return nil
}

type pollEvent struct{ ctx *Context }

func (e pollEvent) Wait() error {
	if err := e.ctx.live(); err != nil {
		return err
	}
	e.ctx.device.Poll(true, nil)
	return nil
}

type readEvent struct {
	ctx     *Context
	staging *wgpu.Buffer
	size    uint64
	dst     []byte
}

func (e *readEvent) Wait() error {
	defer e.staging.Destroy()
	if err := e.ctx.live(); err != nil {
		return err
	}
	var mapErr error
	done := false
	err := e.staging.MapAsync(wgpu.MapModeRead, 0, e.size, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("wgpudriver: map status %v", status)
		}
		done = true
	})
	if err != nil {
		return fmt.Errorf("wgpudriver: map: %w", err)
	}
	for !done {
		e.ctx.device.Poll(true, nil)
	}
	if mapErr != nil {
		return mapErr
	}
	copy(e.dst, e.staging.GetMappedRange(0, uint(e.size)))
	e.staging.Unmap()
	return nil
}

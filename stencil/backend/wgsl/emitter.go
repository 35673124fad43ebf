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

// Package wgsl is the reference device backend. It emits one WGSL compute
// shader per configuration: every grid extent and neighbor offset is a
// constant, each work item handles one interior point, and neighbor loops
// are unrolled.
//
// The first input is staged in a work-group tile of (local+2*ghost)^rank
// elements before the kernel body runs; reads of it that stay within the
// ghost margin of the work item's point come from the tile. The work-group
// geometry is left as placeholders for the driver to bake at launch.
//
// Only float32 grids of rank 1 to 3 are supported. A rank 3 shader on a GPU
// adapter asks for 8^3 = 512 invocations per work-group, above the WebGPU
// default of 256; the runtime rejects it with gpu.ErrWorkgroupTooLarge
// before any buffer is allocated.
package wgsl

import (
	"fmt"
	"strings"

	"github.com/ajroetker/go-stencil/stencil"
	"github.com/ajroetker/go-stencil/stencil/gpu"
	"github.com/ajroetker/go-stencil/stencil/grid"
	"github.com/ajroetker/go-stencil/stencil/model"
	"github.com/ajroetker/go-stencil/stencil/native"
)

// Target is the Unit.Target of emitted shaders.
const Target = "wgsl"

// Shader describes an emitted unit. It is carried in Unit.Program.
type Shader struct {
	Bindings    []string // grid names by binding index
	Tiled       string   // input staged in the tile, or ""
	TileReads   int
	GlobalReads int
}

// Emitter implements stencil.Emitter for WGSL.
type Emitter struct{}

// Emit implements stencil.Emitter.
func (Emitter) Emit(k *model.Kernel, cfg stencil.Configuration, sig native.Signature) (*stencil.Unit, error) {
	if len(cfg.Inputs) != len(k.Inputs) {
		return nil, fmt.Errorf("wgsl: kernel %s takes %d inputs, configuration has %d", k.Name, len(k.Inputs), len(cfg.Inputs))
	}
	rank := cfg.Rank()
	if rank < 1 || rank > 3 {
		return nil, fmt.Errorf("wgsl: rank %d grids cannot be launched, want 1 to 3", rank)
	}
	descs := append(append([]grid.Descriptor(nil), cfg.Inputs...), cfg.Output)
	params := k.Params()
	grids := make(map[string]gridInfo, len(params))
	for i, d := range descs {
		if d.DType != grid.Float32 {
			return nil, fmt.Errorf("wgsl: grid %s is %s, only float32 runs on the device", params[i], d)
		}
		grids[params[i]] = gridInfo{binding: i, shape: d.Shape, output: i == len(descs)-1}
	}

	l := &lowerer{
		k:      k,
		rank:   rank,
		ghost:  k.GhostDepth,
		outDim: cfg.Output.Shape,
		grids:  grids,
		w:      &writer{depth: 1},
		scope:  &scope{vars: map[string]variable{}},
	}
	if len(k.Inputs) > 0 {
		l.tiled = k.Inputs[0]
	}
	if err := l.block(k.Body); err != nil {
		return nil, err
	}

	shader := &Shader{Bindings: params, TileReads: l.tileReads, GlobalReads: l.globalReads}
	if l.tileReads > 0 {
		shader.Tiled = l.tiled
	}
	src := assemble(k, descs, params, l, shader)
	return &stencil.Unit{
		EntryPoint: native.EntryPoint,
		Target:     Target,
		Signature:  sig,
		Source:     []byte(src),
		Program:    shader,
	}, nil
}

func assemble(k *model.Kernel, descs []grid.Descriptor, params []string, l *lowerer, shader *Shader) string {
	w := &writer{}
	w.line("// Code generated by stencil (%s). DO NOT EDIT.", Target)
	w.line("// kernel %s, ghost %d, %s", k.Name, l.ghost, strings.Join(describe(params, descs), ", "))
	w.line("")
	w.line("const GHOST: i32 = %d;", l.ghost)
	w.line("const LOCAL: i32 = %s;", gpu.LocalSizePlaceholder)
	w.line("const TILE_EDGE: i32 = LOCAL + 2 * GHOST;")
	w.line("const THREADS: i32 = %s;", strings.Repeat("LOCAL * ", l.rank-1)+"LOCAL")
	w.line("")
	for i, name := range params {
		access := "read"
		if i == len(params)-1 {
			access = "read_write"
		}
		w.line("@group(0) @binding(%d) var<storage, %s> %s: array<f32>;", i, access, gridName(name))
	}
	w.line("")
	w.line("var<workgroup> tile: array<f32, %s>;", gpu.TileElemsPlaceholder)
	w.line("")
	for i, name := range params {
		w.open("fn idx_%s(p: vec3<i32>) -> u32 {", name)
		w.line("return u32(%s);", flatIndex("p", descs[i].Shape))
		w.close("")
		w.line("")
	}
	edge := make([]int, l.rank)
	for d := range edge {
		edge[d] = -1 // TILE_EDGE
	}
	w.open("fn tile_idx(t: vec3<i32>) -> u32 {")
	w.line("return u32(%s);", flatIndex("t", edge))
	w.close("")
	w.line("")

	w.line("@compute @workgroup_size(%s)", gpu.WorkgroupSizePlaceholder)
	w.open("fn %s(", native.EntryPoint)
	w.line("@builtin(global_invocation_id) gid: vec3<u32>,")
	w.line("@builtin(workgroup_id) wid: vec3<u32>,")
	w.line("@builtin(local_invocation_index) lidx: u32,")
	w.depth--
	w.open(") {")
	if shader.Tiled != "" {
		tileLoad(w, l.rank, shader.Tiled, descs[0].Shape)
	}
	w.buf.Write(l.w.buf.Bytes())
	w.close("")
	return w.buf.String()
}

// tileLoad stages the block of the tiled input covering the work group
// and its halo. Every work item takes part, so the barrier is reached in
// uniform control flow.
func tileLoad(w *writer, rank int, name string, shape []int) {
	var t string
	switch rank {
	case 1:
		t = "vec3<i32>(i, 0, 0)"
	case 2:
		t = "vec3<i32>(i / TILE_EDGE, i % TILE_EDGE, 0)"
	default:
		t = "vec3<i32>(i / (TILE_EDGE * TILE_EDGE), (i / TILE_EDGE) % TILE_EDGE, i % TILE_EDGE)"
	}
	ext := []int{1, 1, 1}
	copy(ext, shape)
	w.line("let origin = vec3<i32>(wid) * LOCAL;")
	w.open("for (var i = i32(lidx); i < %s; i += THREADS) {", gpu.TileElemsPlaceholder)
	w.line("let q = origin + %s;", t)
	w.open("if (all(q < vec3<i32>(%d, %d, %d))) {", ext[0], ext[1], ext[2])
	w.line("tile[i] = %s[idx_%s(q)];", gridName(name), name)
	w.depth--
	w.open("} else {")
	w.line("tile[i] = 0.0;")
	w.close("")
	w.close("")
	w.line("workgroupBarrier();")
}

// flatIndex renders the row-major offset of point v. A negative extent
// stands for TILE_EDGE.
func flatIndex(v string, shape []int) string {
	terms := make([]string, len(shape))
	for d := range shape {
		stride, symbolic := 1, 0
		for _, n := range shape[d+1:] {
			if n < 0 {
				symbolic++
			} else {
				stride *= n
			}
		}
		factors := []string{v + "." + axis[d]}
		if stride != 1 {
			factors = append(factors, fmt.Sprint(stride))
		}
		for range symbolic {
			factors = append(factors, "TILE_EDGE")
		}
		terms[d] = strings.Join(factors, " * ")
	}
	return strings.Join(terms, " + ")
}

func describe(params []string, descs []grid.Descriptor) []string {
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = p + " " + descs[i].String()
	}
	return out
}

// Toolchain implements stencil.DeviceToolchain by handing the shader to
// the device context.
type Toolchain struct{}

// Compile implements stencil.DeviceToolchain.
func (Toolchain) Compile(ctx gpu.Context, u *stencil.Unit) (gpu.Kernel, error) {
	if u.Target != Target {
		return nil, fmt.Errorf("wgsl: cannot compile a %q unit", u.Target)
	}
	return ctx.Compile(u.EntryPoint, u.Source)
}

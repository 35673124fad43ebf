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

// Package stencil specializes stencil kernels at run time.
//
// A stencil kernel computes each interior point of an output grid from a
// small neighborhood of the input grids. Kernels are written once, as Go
// source, using two iteration idioms:
//
//	func (k *Laplacian) Kernel(in, out Grid) {
//		for x := range k.InteriorPoints(out) {
//			out[x] = -4 * in[x]
//			for y := range in.Neighbors(x, 1) {
//				out[x] += in[y]
//			}
//		}
//	}
//
// The source is parsed, not compiled. A Controller turns it into code for
// one backend the first time it sees a given set of input shapes and
// element types, keeps the result, and reuses it for later calls with the
// same configuration:
//
//	def, err := stencil.NewDefinition(stencil.Definition{Source: src})
//	...
//	ctl, err := stencil.New(def, backends.MustNew(stencil.BackendCPUParallel))
//	...
//	defer ctl.Close()
//	out, err := ctl.Invoke(in)
//
// The output grid is reused across calls with the same configuration.
// Clone it to keep a result past the next call.
//
// Three backends exist: Sequential and CPUParallel run native Go code
// (package backend/closure), and GPU runs WGSL on a WebGPU device through
// the gpu.Runtime (packages backend/wgsl and gpu/wgpudriver). Package
// backends builds them by kind or from the environment.
package stencil

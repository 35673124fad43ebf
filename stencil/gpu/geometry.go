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

package gpu

// Placeholders carried by device programs whose work-group geometry must
// be fixed when the driver builds a pipeline. Drivers that size local
// memory at launch leave them alone.
const (
	WorkgroupSizePlaceholder = "__WORKGROUP_SIZE__"
	LocalSizePlaceholder     = "__LOCAL_SIZE__"
	TileElemsPlaceholder     = "__TILE_ELEMS__"
)

// LocalSize is the per-dimension work-group extent: 8 on GPUs, 1 on
// CPU-like devices.
func LocalSize(isGPU bool) int {
	if isGPU {
		return 8
	}
	return 1
}

// LocalDims repeats local for every dimension.
func LocalDims(rank, local int) []int {
	dims := make([]int, rank)
	for i := range dims {
		dims[i] = local
	}
	return dims
}

// WorkgroupInvocations is the number of work items in one work-group of
// the given rank.
func WorkgroupInvocations(rank, local int) int {
	n := 1
	for range rank {
		n *= local
	}
	return n
}

// GlobalGeometry is the launch extent: each dimension minus twice the
// ghost depth, so only interior points get a work item.
func GlobalGeometry(shape []int, ghost int) []int {
	global := make([]int, len(shape))
	for i, n := range shape {
		global[i] = max(n-2*ghost, 0)
	}
	return global
}

// LocalMemoryBytes sizes the per-work-group tile holding a group's points
// plus their halo: (local + 2*ghost)^rank elements.
func LocalMemoryBytes(rank, local, ghost, elemSize int) int {
	return TileElements(rank, local, ghost) * elemSize
}

// TileElements is LocalMemoryBytes in elements.
func TileElements(rank, local, ghost int) int {
	side := local + 2*ghost
	n := 1
	for range rank {
		n *= side
	}
	return n
}

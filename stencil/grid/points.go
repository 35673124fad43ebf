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

package grid

import (
	"iter"
	"math"
	"slices"
)

// Offset is a displacement from a point, one entry per dimension.
type Offset []int

// Neighborhood returns the offsets that make up neighbor level `level` of a
// point in a grid of the given rank.
type Neighborhood func(level, rank int) []Offset

// InteriorBounds returns the half-open box [lo, hi) of points that lie at
// least ghost cells away from every boundary. ok is false when the box is
// empty.
func InteriorBounds(shape []int, ghost int) (lo, hi []int, ok bool) {
	lo = make([]int, len(shape))
	hi = make([]int, len(shape))
	ok = len(shape) > 0
	for i, n := range shape {
		lo[i] = ghost
		hi[i] = n - ghost
		if hi[i] <= lo[i] {
			ok = false
		}
	}
	return lo, hi, ok
}

// InteriorCount returns the number of interior points.
func InteriorCount(shape []int, ghost int) int {
	lo, hi, ok := InteriorBounds(shape, ghost)
	if !ok {
		return 0
	}
	n := 1
	for i := range lo {
		n *= hi[i] - lo[i]
	}
	return n
}

// Interior yields every interior point in row-major order. Each yielded
// point is a fresh slice.
func Interior(shape []int, ghost int) iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		lo, hi, ok := InteriorBounds(shape, ghost)
		if !ok {
			return
		}
		p := slices.Clone(lo)
		for {
			if !yield(slices.Clone(p)) {
				return
			}
			// Odometer increment, last dimension fastest.
			d := len(p) - 1
			for ; d >= 0; d-- {
				p[d]++
				if p[d] < hi[d] {
					break
				}
				p[d] = lo[d]
			}
			if d < 0 {
				return
			}
		}
	}
}

// InteriorPoints yields the points of g at least ghost cells from every
// boundary.
func (g *Grid) InteriorPoints(ghost int) iter.Seq[[]int] {
	return Interior(g.shape, ghost)
}

// Neighbors yields p+o for every offset o. Points are not bounds-checked;
// a kernel's ghost depth must cover its widest offset.
func (g *Grid) Neighbors(p []int, offsets []Offset) iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		for _, o := range offsets {
			q := make([]int, len(p))
			for i := range p {
				q[i] = p[i] + o[i]
			}
			if !yield(q) {
				return
			}
		}
	}
}

// VonNeumann is the default Neighborhood: level k holds every offset whose
// Manhattan norm is exactly k. Level 0 is the point itself and level 1 is
// the 2*rank face neighbors.
func VonNeumann(level, rank int) []Offset {
	if level < 0 || rank <= 0 {
		return nil
	}
	var out []Offset
	cur := make(Offset, rank)
	var rec func(dim, budget int)
	rec = func(dim, budget int) {
		if dim == rank-1 {
			if budget == 0 {
				cur[dim] = 0
				out = append(out, slices.Clone(cur))
				return
			}
			for _, v := range []int{-budget, budget} {
				cur[dim] = v
				out = append(out, slices.Clone(cur))
			}
			return
		}
		for v := -budget; v <= budget; v++ {
			cur[dim] = v
			rec(dim+1, budget-abs(v))
		}
	}
	rec(0, level)
	return out
}

// Moore is the Chebyshev Neighborhood: level k holds every offset whose
// largest component magnitude is exactly k.
func Moore(level, rank int) []Offset {
	if level < 0 || rank <= 0 {
		return nil
	}
	var out []Offset
	cur := make(Offset, rank)
	var rec func(dim, maxSeen int)
	rec = func(dim, maxSeen int) {
		if dim == rank {
			if maxSeen == level {
				out = append(out, slices.Clone(cur))
			}
			return
		}
		for v := -level; v <= level; v++ {
			cur[dim] = v
			rec(dim+1, max(maxSeen, abs(v)))
		}
	}
	rec(0, 0)
	return out
}

// MaxReach returns the largest single-axis displacement among offsets.
func MaxReach(offsets []Offset) int {
	reach := 0
	for _, o := range offsets {
		for _, v := range o {
			reach = max(reach, abs(v))
		}
	}
	return reach
}

// Euclidean returns the Euclidean distance between two points.
func Euclidean(a, b []int) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

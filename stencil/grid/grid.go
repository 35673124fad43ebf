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

// Package grid provides the dense n-dimensional arrays that stencil kernels
// read and write, together with their descriptors and the point sets the
// two iteration idioms walk over.
//
// A Grid is stored in row-major order. Exactly one of its typed backing
// slices is populated, selected by its DType. Element access goes through
// float64 so that kernels can be written once for every element type;
// integer grids truncate on store.
package grid

import (
	"fmt"
	"slices"
	"unsafe"

	"github.com/samber/lo"
)

// Grid is a dense, row-major n-dimensional array.
type Grid struct {
	dtype   DType
	shape   []int
	strides []int

	f32 []float32
	f64 []float64
	i32 []int32
	i64 []int64
}

// New allocates a zeroed grid of the given element type and shape.
// It panics if shape is empty or has a non-positive extent.
func New(dtype DType, shape ...int) *Grid {
	if err := validateShape(shape); err != nil {
		panic(err)
	}
	g := &Grid{dtype: dtype, shape: slices.Clone(shape)}
	g.strides = stridesFor(g.shape)
	n := numElements(shape)
	switch dtype {
	case Float32:
		g.f32 = make([]float32, n)
	case Float64:
		g.f64 = make([]float64, n)
	case Int32:
		g.i32 = make([]int32, n)
	case Int64:
		g.i64 = make([]int64, n)
	default:
		panic(fmt.Sprintf("grid: unsupported dtype %d", dtype))
	}
	return g
}

// FromFloat32 wraps data (without copying) as a float32 grid.
func FromFloat32(data []float32, shape ...int) (*Grid, error) {
	if err := checkLen(len(data), shape); err != nil {
		return nil, err
	}
	return &Grid{dtype: Float32, shape: slices.Clone(shape), strides: stridesFor(shape), f32: data}, nil
}

// FromFloat64 wraps data (without copying) as a float64 grid.
func FromFloat64(data []float64, shape ...int) (*Grid, error) {
	if err := checkLen(len(data), shape); err != nil {
		return nil, err
	}
	return &Grid{dtype: Float64, shape: slices.Clone(shape), strides: stridesFor(shape), f64: data}, nil
}

// FromInt32 wraps data (without copying) as an int32 grid.
func FromInt32(data []int32, shape ...int) (*Grid, error) {
	if err := checkLen(len(data), shape); err != nil {
		return nil, err
	}
	return &Grid{dtype: Int32, shape: slices.Clone(shape), strides: stridesFor(shape), i32: data}, nil
}

// FromInt64 wraps data (without copying) as an int64 grid.
func FromInt64(data []int64, shape ...int) (*Grid, error) {
	if err := checkLen(len(data), shape); err != nil {
		return nil, err
	}
	return &Grid{dtype: Int64, shape: slices.Clone(shape), strides: stridesFor(shape), i64: data}, nil
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("grid: shape must have at least one dimension")
	}
	for i, n := range shape {
		if n <= 0 {
			return fmt.Errorf("grid: dimension %d has non-positive extent %d", i, n)
		}
	}
	return nil
}

func checkLen(n int, shape []int) error {
	if err := validateShape(shape); err != nil {
		return err
	}
	if want := numElements(shape); n != want {
		return fmt.Errorf("grid: data has %d elements, shape %v needs %d", n, shape, want)
	}
	return nil
}

func numElements(shape []int) int {
	return lo.Reduce(shape, func(acc, n, _ int) int { return acc * n }, 1)
}

func stridesFor(shape []int) []int {
	strides := make([]int, len(shape))
	s := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = s
		s *= shape[i]
	}
	return strides
}

// DType returns the element type.
func (g *Grid) DType() DType { return g.dtype }

// Rank returns the number of dimensions.
func (g *Grid) Rank() int { return len(g.shape) }

// Shape returns a copy of the extents.
func (g *Grid) Shape() []int { return slices.Clone(g.shape) }

// Dim returns the extent of dimension i.
func (g *Grid) Dim(i int) int { return g.shape[i] }

// Strides returns a copy of the row-major strides, in elements.
func (g *Grid) Strides() []int { return slices.Clone(g.strides) }

// Len returns the total number of elements.
func (g *Grid) Len() int { return numElements(g.shape) }

// Descriptor returns the Array Descriptor of g.
func (g *Grid) Descriptor() Descriptor {
	return Describe(g.dtype, g.shape)
}

// Offset returns the flat index of point p. It panics if p has the wrong
// rank or lies outside the grid.
func (g *Grid) Offset(p []int) int {
	if len(p) != len(g.shape) {
		panic(fmt.Sprintf("grid: point %v has rank %d, grid has rank %d", p, len(p), len(g.shape)))
	}
	idx := 0
	for i, c := range p {
		if c < 0 || c >= g.shape[i] {
			panic(fmt.Sprintf("grid: point %v out of range for shape %v", p, g.shape))
		}
		idx += c * g.strides[i]
	}
	return idx
}

// At returns the element at point p converted to float64.
func (g *Grid) At(p ...int) float64 {
	return g.AtFlat(g.Offset(p))
}

// Set stores v at point p, converting to the grid's element type.
func (g *Grid) Set(p []int, v float64) {
	g.SetFlat(g.Offset(p), v)
}

// AtFlat returns the element at flat index i converted to float64.
func (g *Grid) AtFlat(i int) float64 {
	switch g.dtype {
	case Float32:
		return float64(g.f32[i])
	case Float64:
		return g.f64[i]
	case Int32:
		return float64(g.i32[i])
	default:
		return float64(g.i64[i])
	}
}

// SetFlat stores v at flat index i.
func (g *Grid) SetFlat(i int, v float64) {
	switch g.dtype {
	case Float32:
		g.f32[i] = float32(v)
	case Float64:
		g.f64[i] = v
	case Int32:
		g.i32[i] = int32(v)
	default:
		g.i64[i] = int64(v)
	}
}

// Float32s returns the backing slice of a float32 grid, or nil.
func (g *Grid) Float32s() []float32 { return g.f32 }

// Float64s returns the backing slice of a float64 grid, or nil.
func (g *Grid) Float64s() []float64 { return g.f64 }

// Int32s returns the backing slice of an int32 grid, or nil.
func (g *Grid) Int32s() []int32 { return g.i32 }

// Int64s returns the backing slice of an int64 grid, or nil.
func (g *Grid) Int64s() []int64 { return g.i64 }

// Bytes returns the backing storage viewed as bytes. The view aliases the
// grid: writes through it are visible to every accessor.
func (g *Grid) Bytes() []byte {
	switch g.dtype {
	case Float32:
		return asBytes(g.f32)
	case Float64:
		return asBytes(g.f64)
	case Int32:
		return asBytes(g.i32)
	default:
		return asBytes(g.i64)
	}
}

func asBytes[T float32 | float64 | int32 | int64](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(zero)))
}

// Zero resets every element to zero.
func (g *Grid) Zero() {
	clear(g.f32)
	clear(g.f64)
	clear(g.i32)
	clear(g.i64)
}

// Fill sets every element to v.
func (g *Grid) Fill(v float64) {
	for i := range g.Len() {
		g.SetFlat(i, v)
	}
}

// Clone returns a deep copy of g.
func (g *Grid) Clone() *Grid {
	return &Grid{
		dtype:   g.dtype,
		shape:   slices.Clone(g.shape),
		strides: slices.Clone(g.strides),
		f32:     slices.Clone(g.f32),
		f64:     slices.Clone(g.f64),
		i32:     slices.Clone(g.i32),
		i64:     slices.Clone(g.i64),
	}
}

// ZerosLike allocates a zeroed grid with g's element type and shape.
func ZerosLike(g *Grid) *Grid {
	return New(g.dtype, g.shape...)
}

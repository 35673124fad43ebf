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
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Descriptor is the immutable summary of a grid used to key specializations
// and to describe native parameter types to emitters.
type Descriptor struct {
	ElementCount int
	DType        DType
	NDim         int
	Shape        []int
}

// Describe builds a Descriptor for the given element type and shape.
func Describe(dtype DType, shape []int) Descriptor {
	return Descriptor{
		ElementCount: numElements(shape),
		DType:        dtype,
		NDim:         len(shape),
		Shape:        slices.Clone(shape),
	}
}

// Equal compares element type, rank and shape. ElementCount is derived from
// the shape and is not compared.
func (d Descriptor) Equal(o Descriptor) bool {
	return d.DType == o.DType && d.NDim == o.NDim && slices.Equal(d.Shape, o.Shape)
}

// ByteSize returns the size of the described storage in bytes.
func (d Descriptor) ByteSize() int {
	return d.ElementCount * d.DType.Size()
}

// String formats the descriptor as "float32[8x8]".
func (d Descriptor) String() string {
	dims := lo.Map(d.Shape, func(n, _ int) string { return strconv.Itoa(n) })
	return d.DType.String() + "[" + strings.Join(dims, "x") + "]"
}

// ParseShape parses "64x64" or "64,64" into extents.
func ParseShape(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == 'x' || r == ',' || r == 'X' })
	shape := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		shape = append(shape, n)
	}
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	return shape, nil
}

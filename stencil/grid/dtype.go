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
	"fmt"
	"strings"
)

// DType identifies the element type stored in a Grid.
type DType int

const (
	// Float32 is a 4-byte IEEE 754 float. It is the only type the GPU path accepts.
	Float32 DType = iota

	// Float64 is an 8-byte IEEE 754 float.
	Float64

	// Int32 is a 4-byte signed integer.
	Int32

	// Int64 is an 8-byte signed integer.
	Int64
)

// String returns the Go name of the element type.
func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	default:
		return "unknown"
	}
}

// Size returns the element size in bytes.
func (d DType) Size() int {
	switch d {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	default:
		return 0
	}
}

// IsFloat reports whether d is a floating point type.
func (d DType) IsFloat() bool {
	return d == Float32 || d == Float64
}

// ParseDType converts a Go type name ("float32", "f64", ...) to a DType.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float32", "f32":
		return Float32, nil
	case "float64", "f64":
		return Float64, nil
	case "int32", "i32":
		return Int32, nil
	case "int64", "i64":
		return Int64, nil
	}
	return 0, fmt.Errorf("unknown dtype %q", s)
}

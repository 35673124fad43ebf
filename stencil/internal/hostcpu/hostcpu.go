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

// Package hostcpu reports the vector capabilities of the host. The
// closure backend uses them to label native units and to size the
// batches it hands to worker goroutines.
package hostcpu

import (
	"os"
	"strconv"
)

// Level is the widest vector instruction set the host offers.
type Level int

const (
	Scalar Level = iota
	SSE2
	AVX2
	AVX512
	NEON
	SVE
)

func (l Level) String() string {
	switch l {
	case Scalar:
		return "scalar"
	case SSE2:
		return "sse2"
	case AVX2:
		return "avx2"
	case AVX512:
		return "avx512"
	case NEON:
		return "neon"
	case SVE:
		return "sve"
	default:
		return "unknown"
	}
}

// Set by init() in the per-architecture files.
var (
	currentLevel Level
	currentWidth int
)

// CurrentLevel returns the detected level.
func CurrentLevel() Level { return currentLevel }

// CurrentWidth returns the vector register width in bytes.
func CurrentWidth() int { return currentWidth }

// Lanes returns how many elements of elemSize bytes fit in a register.
func Lanes(elemSize int) int {
	if elemSize <= 0 {
		return 1
	}
	return max(currentWidth/elemSize, 1)
}

// BatchSize suggests how many points a worker should claim at a time so
// each claim covers several full vector registers worth of rows.
func BatchSize(elemSize int) int {
	return 64 * Lanes(elemSize)
}

// NoSimdEnv reports whether STENCIL_NO_SIMD is set. When it is, detection
// reports Scalar regardless of the CPU.
func NoSimdEnv() bool {
	val := os.Getenv("STENCIL_NO_SIMD")
	if val == "" {
		return false
	}
	if b, err := strconv.ParseBool(val); err == nil {
		return b
	}
	return true
}

func setScalarMode() {
	currentLevel = Scalar
	currentWidth = 16
}

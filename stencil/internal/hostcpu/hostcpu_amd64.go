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

//go:build amd64

package hostcpu

import "golang.org/x/sys/cpu"

func init() {
	if NoSimdEnv() {
		setScalarMode()
		return
	}
	switch {
	case cpu.X86.HasAVX512F:
		currentLevel, currentWidth = AVX512, 64
	case cpu.X86.HasAVX2:
		currentLevel, currentWidth = AVX2, 32
	default:
		// SSE2 is the amd64 baseline.
		currentLevel, currentWidth = SSE2, 16
	}
}

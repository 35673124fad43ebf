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

package stencil

import (
	"slices"
	"strings"

	"github.com/ajroetker/go-stencil/stencil/grid"
	"github.com/samber/lo"
)

// Configuration keys a specialization: one descriptor per input in call
// order, and the output descriptor, which always matches the first input.
type Configuration struct {
	Inputs []grid.Descriptor
	Output grid.Descriptor
}

// Configure derives the configuration of a call. inputs must not be empty.
func Configure(inputs []*grid.Grid) Configuration {
	descs := lo.Map(inputs, func(g *grid.Grid, _ int) grid.Descriptor { return g.Descriptor() })
	return Configuration{Inputs: descs, Output: descs[0]}
}

// Equal compares the input descriptors element-wise.
func (c Configuration) Equal(o Configuration) bool {
	return slices.EqualFunc(c.Inputs, o.Inputs, grid.Descriptor.Equal)
}

// Key is a string form of the configuration such that equal
// configurations have equal keys.
func (c Configuration) Key() string {
	return strings.Join(lo.Map(c.Inputs, func(d grid.Descriptor, _ int) string { return d.String() }), ";")
}

// Rank returns the rank shared by all inputs.
func (c Configuration) Rank() int {
	return c.Output.NDim
}

func (c Configuration) String() string { return "(" + c.Key() + ")" }

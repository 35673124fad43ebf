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
	"errors"
	"fmt"
	"go/ast"
	"go/token"
	"maps"
	"os"
	"slices"

	"github.com/ajroetker/go-stencil/stencil/frontend"
	"github.com/ajroetker/go-stencil/stencil/grid"
	"github.com/ajroetker/go-stencil/stencil/model"
)

// DefaultFunc is the kernel function name used when Definition.Func is
// empty.
const DefaultFunc = "Kernel"

// Definition is a raw kernel: Go source holding the kernel function plus
// the metadata needed to specialize it. It is never called directly; wrap
// it in a Controller.
type Definition struct {
	// Name labels the kernel in logs and units. Defaults to Func.
	Name string

	// Source is Go source text containing the kernel function. It is
	// parsed, never compiled, so grids may be indexed by points directly.
	Source []byte

	// Func is the kernel function or method name. Defaults to "Kernel".
	Func string

	// GhostDepth is the boundary margin excluded from interior iteration.
	// Zero means 1.
	GhostDepth int

	// Neighbors defines which offsets form each neighbor level. Defaults
	// to grid.VonNeumann.
	Neighbors grid.Neighborhood

	// Distance overrides the Euclidean distance helper.
	Distance func(a, b []int) float64

	// Constants are named values the kernel body reads as plain
	// identifiers. They are folded into every specialization.
	Constants map[string]float64

	parsed *frontend.ParsedKernel
}

// NewDefinition parses and validates d. It fails with a definition error
// if the source does not parse, the kernel function is missing or has no
// body, or it declares fewer than two grids.
func NewDefinition(d Definition) (*Definition, error) {
	if d.Func == "" {
		d.Func = DefaultFunc
	}
	if d.Name == "" {
		d.Name = d.Func
	}
	if d.GhostDepth < 0 {
		return nil, newError(KindDefinition, d.Name, fmt.Sprintf("negative ghost depth %d", d.GhostDepth), nil)
	}
	if len(d.Source) == 0 {
		return nil, newError(KindDefinition, d.Name, "no kernel source", frontend.ErrNoBody)
	}
	pk, err := frontend.ParseSource(d.Source, d.Func)
	if err != nil {
		return nil, newError(KindDefinition, d.Name, "cannot load kernel", err)
	}
	if len(pk.Params) < 2 {
		return nil, newError(KindDefinition, d.Name, "kernel declares fewer than two grids", frontend.ErrTooFewGrids)
	}
	for name := range d.Constants {
		if !token.IsIdentifier(name) {
			return nil, newError(KindDefinition, d.Name, fmt.Sprintf("constant %q is not an identifier", name), nil)
		}
		if slices.Contains(pk.Params, name) {
			return nil, newError(KindDefinition, d.Name, fmt.Sprintf("constant %s shadows a grid parameter", name), nil)
		}
	}
	d.Constants = maps.Clone(d.Constants)
	d.parsed = pk
	return &d, nil
}

// ReadDefinition is NewDefinition with Source read from path.
func ReadDefinition(path string, d Definition) (*Definition, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(KindDefinition, path, "cannot read kernel source", err)
	}
	d.Source = src
	if d.Name == "" {
		d.Name = path
	}
	return NewDefinition(d)
}

// Ghost returns the effective ghost depth.
func (d *Definition) Ghost() int {
	if d.GhostDepth == 0 {
		return 1
	}
	return d.GhostDepth
}

// Inputs returns the declared input grid names.
func (d *Definition) Inputs() []string {
	return d.parsed.Params[:len(d.parsed.Params)-1]
}

// Output returns the declared output grid name.
func (d *Definition) Output() string {
	return d.parsed.Params[len(d.parsed.Params)-1]
}

// Translate runs the frontend over the kernel body and attaches the
// kernel's geometry.
func (d *Definition) Translate() (*model.Kernel, error) {
	k, err := d.parsed.Kernel()
	if err != nil {
		return nil, newError(KindDefinition, d.Name, "cannot translate kernel", err)
	}
	k.Name = d.Name
	k.GhostDepth = d.Ghost()
	k.Neighbors = d.Neighbors
	k.Distance = d.Distance
	k.Constants = d.Constants
	return k, nil
}

// errGhostTooShallow is wrapped when a neighbor level reaches past the
// ghost margin.
var errGhostTooShallow = errors.New("neighbor offsets reach past the ghost depth")

// checkReach verifies every neighbor loop of k stays inside the ghost
// margin for grids of the given rank.
func checkReach(k *model.Kernel, rank int) error {
	var err error
	model.Inspect(k.Body, func(n ast.Node) bool {
		loop, ok := n.(*model.NeighborPointsLoop)
		if !ok || err != nil {
			return err == nil
		}
		if reach := grid.MaxReach(k.NeighborOffsets(loop.Level, rank)); reach > k.GhostDepth {
			err = fmt.Errorf("%w: level %d of %s reaches %d, ghost depth is %d",
				errGhostTooShallow, loop.Level, loop.Grid, reach, k.GhostDepth)
		}
		return true
	})
	return err
}

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

// Package model defines the intermediate stencil representation: the two
// recognized loop idioms and the whitelisted math calls, embedded in an
// otherwise ordinary go/ast tree.
//
// The three node kinds implement ast.Stmt or ast.Expr by embedding the
// generic node they were recognized from, so a translated tree still type
// checks as a go/ast tree and generic statements around them are untouched.
// The standard ast.Walk does not know these kinds; use Inspect to traverse
// a translated tree and Lower to turn it back into plain go/ast.
package model

import (
	"go/ast"

	"github.com/ajroetker/go-stencil/stencil/grid"
)

// InteriorPointsLoop iterates every point of Grid at least the kernel's
// ghost depth away from each boundary, binding it to Index.
//
// Recognized from: for Index := range Object.InteriorPoints(Grid) { Body }
// or, in a plain function, for Index := range InteriorPoints(Grid) { Body }.
type InteriorPointsLoop struct {
	ast.Stmt // the range statement the loop was recognized from

	Index  string
	Object ast.Expr // nil for the plain-function form
	Grid   ast.Expr
	Body   *ast.BlockStmt
}

// GridName returns the name of the iterated grid, or "" when the grid is
// not a plain identifier.
func (l *InteriorPointsLoop) GridName() string {
	if id, ok := l.Grid.(*ast.Ident); ok {
		return id.Name
	}
	return ""
}

// NeighborPointsLoop iterates the neighbors at Level of Point in the grid
// named Grid, binding each to Index.
//
// Recognized from: for Index := range Grid.Neighbors(Point, Level) { Body }
type NeighborPointsLoop struct {
	ast.Stmt // the range statement the loop was recognized from

	Level int
	Grid  string
	Point ast.Expr
	Index string
	Body  *ast.BlockStmt
}

// PointName returns the name of the center point, or "" when it is not a
// plain identifier.
func (l *NeighborPointsLoop) PointName() string {
	if id, ok := l.Point.(*ast.Ident); ok {
		return id.Name
	}
	return ""
}

// MathFunction is a whitelisted helper call kept structurally so each
// backend can lower it natively.
type MathFunction struct {
	ast.Expr // the call expression the node was recognized from

	Name string
	Args []ast.Expr
}

// Kernel is a translated kernel function together with the metadata
// emitters need to lower it.
type Kernel struct {
	Name     string
	Receiver string   // receiver name; empty for plain functions
	Inputs   []string // input grid parameter names, in call order
	Output   string   // output grid parameter name
	Body     *ast.BlockStmt

	GhostDepth int
	Neighbors  grid.Neighborhood
	Distance   func(a, b []int) float64

	// Constants are named values the body may read like variables.
	// Local declarations shadow them.
	Constants map[string]float64
}

// Params returns the grid parameter names in entry-point order: inputs,
// then the output.
func (k *Kernel) Params() []string {
	params := make([]string, 0, len(k.Inputs)+1)
	params = append(params, k.Inputs...)
	return append(params, k.Output)
}

// ParamIndex returns the entry-point position of the named grid, or -1.
func (k *Kernel) ParamIndex(name string) int {
	for i, p := range k.Params() {
		if p == name {
			return i
		}
	}
	return -1
}

// Constant looks up a named kernel constant.
func (k *Kernel) Constant(name string) (float64, bool) {
	v, ok := k.Constants[name]
	return v, ok
}

// NeighborOffsets returns the offsets of the given level for a grid of
// the given rank, falling back to the von Neumann family.
func (k *Kernel) NeighborOffsets(level, rank int) []grid.Offset {
	if k.Neighbors != nil {
		return k.Neighbors(level, rank)
	}
	return grid.VonNeumann(level, rank)
}

// PointDistance evaluates the kernel's distance helper.
func (k *Kernel) PointDistance(a, b []int) float64 {
	if k.Distance != nil {
		return k.Distance(a, b)
	}
	return grid.Euclidean(a, b)
}

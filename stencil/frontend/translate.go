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

// Package frontend rewrites kernel bodies written in Go syntax into the
// stencil model.
//
// Two loop idioms are recognized:
//
//	for x := range k.InteriorPoints(out) { ... }   // model.InteriorPointsLoop
//	for x := range InteriorPoints(out) { ... }     // same, in a plain function
//	for y := range in.Neighbors(x, 1) { ... }      // model.NeighborPointsLoop
//
// along with calls to the functions in MathFunctions. Everything else is
// passed through unchanged so ordinary control flow inside a kernel reaches
// the backend emitter as written. The translator never reports an error for
// a construct it does not understand.
package frontend

import (
	"errors"
	"fmt"
	"go/ast"
	"go/token"
	"strconv"

	"github.com/ajroetker/go-stencil/stencil/model"
	"golang.org/x/tools/go/ast/astutil"
)

const (
	interiorMethod = "InteriorPoints"
	neighborMethod = "Neighbors"
)

// MathFunctions is the whitelist of helper calls kept as model.MathFunction.
var MathFunctions = map[string]bool{
	"distance": true,
	"int":      true,
}

// ErrTooFewGrids is returned when a kernel declares no input grid.
var ErrTooFewGrids = errors.New("kernel needs at least one input and one output grid")

// Translate returns a copy of node with the recognized idioms replaced by
// stencil model nodes. node itself is not modified.
func Translate(node ast.Node) ast.Node {
	if node == nil {
		return nil
	}
	return astutil.Apply(model.Clone(node), nil, func(c *astutil.Cursor) bool {
		switch n := c.Node().(type) {
		case *ast.RangeStmt:
			if loop := recognizeLoop(n); loop != nil {
				c.Replace(loop)
			}
		case *ast.CallExpr:
			// go and defer statements hold a *ast.CallExpr field.
			if c.Name() == "Call" {
				break
			}
			if fn, ok := n.Fun.(*ast.Ident); ok && MathFunctions[fn.Name] {
				c.Replace(&model.MathFunction{Expr: n, Name: fn.Name, Args: n.Args})
			}
		}
		return true
	})
}

// TranslateBody translates a function body.
func TranslateBody(body *ast.BlockStmt) *ast.BlockStmt {
	if body == nil {
		return nil
	}
	return Translate(body).(*ast.BlockStmt)
}

// recognizeLoop matches the two range idioms. Children have already been
// translated when it runs.
func recognizeLoop(r *ast.RangeStmt) ast.Stmt {
	index, ok := r.Key.(*ast.Ident)
	if !ok || r.Value != nil {
		return nil
	}
	call, ok := r.X.(*ast.CallExpr)
	if !ok {
		return nil
	}
	if fn, ok := call.Fun.(*ast.Ident); ok {
		if fn.Name != interiorMethod || len(call.Args) != 1 {
			return nil
		}
		return &model.InteriorPointsLoop{
			Stmt:  r,
			Index: index.Name,
			Grid:  call.Args[0],
			Body:  r.Body,
		}
	}
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return nil
	}

	switch sel.Sel.Name {
	case interiorMethod:
		if len(call.Args) != 1 {
			return nil
		}
		return &model.InteriorPointsLoop{
			Stmt:   r,
			Index:  index.Name,
			Object: sel.X,
			Grid:   call.Args[0],
			Body:   r.Body,
		}

	case neighborMethod:
		src, ok := sel.X.(*ast.Ident)
		if !ok || len(call.Args) != 2 {
			return nil
		}
		level, ok := constLevel(call.Args[1])
		if !ok {
			return nil
		}
		return &model.NeighborPointsLoop{
			Stmt:  r,
			Level: level,
			Grid:  src.Name,
			Point: call.Args[0],
			Index: index.Name,
			Body:  r.Body,
		}
	}
	return nil
}

// constLevel accepts a non-negative integer literal.
func constLevel(e ast.Expr) (int, bool) {
	lit, ok := e.(*ast.BasicLit)
	if !ok || lit.Kind != token.INT {
		return 0, false
	}
	v, err := strconv.ParseInt(lit.Value, 0, 32)
	if err != nil || v < 0 {
		return 0, false
	}
	return int(v), true
}

// Kernel translates the body and splits the parameters into inputs and
// the output. Ghost depth and neighbor geometry are left for the caller.
func (pk *ParsedKernel) Kernel() (*model.Kernel, error) {
	if pk.Body == nil {
		return nil, fmt.Errorf("%s: %w", pk.Name, ErrNoBody)
	}
	if len(pk.Params) < 2 {
		return nil, fmt.Errorf("%s: %w", pk.Name, ErrTooFewGrids)
	}
	last := len(pk.Params) - 1
	return &model.Kernel{
		Name:     pk.Name,
		Receiver: pk.Receiver,
		Inputs:   append([]string(nil), pk.Params[:last]...),
		Output:   pk.Params[last],
		Body:     TranslateBody(pk.Body),
	}, nil
}

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

package model

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/printer"
	"go/token"
	"strconv"

	"golang.org/x/tools/go/ast/astutil"
)

// Inspect traverses a translated tree in depth-first order like
// ast.Inspect: f(n) is called for every node, children are visited when it
// returns true, and f(nil) follows the children.
func Inspect(node ast.Node, f func(ast.Node) bool) {
	if node == nil {
		return
	}
	ast.Walk(inspector(f), node)
}

type inspector func(ast.Node) bool

// Visit intercepts the stencil nodes before ast.Walk dispatches on them,
// since ast.Walk panics on node kinds it does not know.
func (f inspector) Visit(n ast.Node) ast.Visitor {
	switch n := n.(type) {
	case *InteriorPointsLoop:
		if f(n) {
			Inspect(n.Object, f)
			Inspect(n.Grid, f)
			Inspect(n.Body, f)
			f(nil)
		}
		return nil
	case *NeighborPointsLoop:
		if f(n) {
			Inspect(n.Point, f)
			Inspect(n.Body, f)
			f(nil)
		}
		return nil
	case *MathFunction:
		if f(n) {
			for _, arg := range n.Args {
				Inspect(arg, f)
			}
			f(nil)
		}
		return nil
	}
	if n == nil {
		f(nil)
		return nil
	}
	if f(n) {
		return f
	}
	return nil
}

// Lower returns a copy of node in which every stencil node is rewritten
// back into the generic loop or call it stands for. node is not modified.
func Lower(node ast.Node) ast.Node {
	if node == nil {
		return nil
	}
	return astutil.Apply(Clone(node), func(c *astutil.Cursor) bool {
		switch n := c.Node().(type) {
		case *InteriorPointsLoop, *NeighborPointsLoop, *MathFunction:
			c.Replace(lowerNode(n))
			// Children were lowered by lowerNode; astutil would walk the
			// original node kind and panic.
			return false
		}
		return true
	}, nil)
}

func lowerNode(n ast.Node) ast.Node {
	switch n := n.(type) {
	case *InteriorPointsLoop:
		var fn ast.Expr = ast.NewIdent("InteriorPoints")
		if n.Object != nil {
			fn = &ast.SelectorExpr{X: lowerExpr(n.Object), Sel: ast.NewIdent("InteriorPoints")}
		}
		return &ast.RangeStmt{
			Key: ast.NewIdent(n.Index),
			Tok: token.DEFINE,
			X: &ast.CallExpr{
				Fun:  fn,
				Args: []ast.Expr{lowerExpr(n.Grid)},
			},
			Body: lowerBlock(n.Body),
		}
	case *NeighborPointsLoop:
		return &ast.RangeStmt{
			Key: ast.NewIdent(n.Index),
			Tok: token.DEFINE,
			X: &ast.CallExpr{
				Fun: &ast.SelectorExpr{X: ast.NewIdent(n.Grid), Sel: ast.NewIdent("Neighbors")},
				Args: []ast.Expr{
					lowerExpr(n.Point),
					&ast.BasicLit{Kind: token.INT, Value: strconv.Itoa(n.Level)},
				},
			},
			Body: lowerBlock(n.Body),
		}
	case *MathFunction:
		args := make([]ast.Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = lowerExpr(a)
		}
		return &ast.CallExpr{Fun: ast.NewIdent(n.Name), Args: args}
	}
	return n
}

func lowerExpr(e ast.Expr) ast.Expr {
	if e == nil {
		return nil
	}
	return Lower(e).(ast.Expr)
}

func lowerBlock(b *ast.BlockStmt) *ast.BlockStmt {
	if b == nil {
		return nil
	}
	return Lower(b).(*ast.BlockStmt)
}

// Format prints a translated tree as Go source, lowering stencil nodes
// first.
func Format(node ast.Node) (string, error) {
	var buf bytes.Buffer
	if err := printer.Fprint(&buf, token.NewFileSet(), Lower(node)); err != nil {
		return "", fmt.Errorf("format: %w", err)
	}
	return buf.String(), nil
}

// Summary lists the stencil nodes of a translated tree, one line each,
// indented by nesting depth.
func Summary(node ast.Node) []string {
	var lines []string
	depth := 0
	var stack []bool
	Inspect(node, func(n ast.Node) bool {
		if n == nil {
			if stack[len(stack)-1] {
				depth--
			}
			stack = stack[:len(stack)-1]
			return false
		}
		indent := ""
		for range depth {
			indent += "  "
		}
		counted := true
		switch n := n.(type) {
		case *InteriorPointsLoop:
			lines = append(lines, fmt.Sprintf("%sInteriorPointsLoop %s over %s", indent, n.Index, exprString(n.Grid)))
		case *NeighborPointsLoop:
			lines = append(lines, fmt.Sprintf("%sNeighborPointsLoop %s in %s.Neighbors(%s, %d)", indent, n.Index, n.Grid, exprString(n.Point), n.Level))
		case *MathFunction:
			lines = append(lines, fmt.Sprintf("%sMathFunction %s/%d", indent, n.Name, len(n.Args)))
		default:
			counted = false
		}
		if counted {
			depth++
		}
		stack = append(stack, counted)
		return true
	})
	return lines
}

func exprString(e ast.Expr) string {
	var buf bytes.Buffer
	if err := printer.Fprint(&buf, token.NewFileSet(), Lower(e)); err != nil {
		return fmt.Sprintf("%T", e)
	}
	return buf.String()
}

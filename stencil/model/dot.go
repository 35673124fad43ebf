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
	"fmt"
	"go/ast"
	"strconv"
	"strings"
)

// Dot renders a translated tree as a Graphviz digraph, one vertex per
// node. Stencil nodes are drawn as boxes labelled with their fields.
func Dot(node ast.Node) string {
	var b strings.Builder
	b.WriteString("digraph kernel {\n")
	var stack []int
	next := 0
	Inspect(node, func(n ast.Node) bool {
		if n == nil {
			stack = stack[:len(stack)-1]
			return false
		}
		id := next
		next++
		label, stencilNode := dotLabel(n)
		attrs := "label=" + strconv.Quote(label)
		if stencilNode {
			attrs += ", shape=box"
		}
		fmt.Fprintf(&b, "  n%d [%s];\n", id, attrs)
		if len(stack) > 0 {
			fmt.Fprintf(&b, "  n%d -> n%d;\n", stack[len(stack)-1], id)
		}
		stack = append(stack, id)
		return true
	})
	b.WriteString("}\n")
	return b.String()
}

func dotLabel(n ast.Node) (string, bool) {
	switch n := n.(type) {
	case *InteriorPointsLoop:
		return fmt.Sprintf("InteriorPointsLoop\n%s over %s", n.Index, exprString(n.Grid)), true
	case *NeighborPointsLoop:
		return fmt.Sprintf("NeighborPointsLoop\n%s in %s level %d", n.Index, n.Grid, n.Level), true
	case *MathFunction:
		return "MathFunction\n" + n.Name, true
	case *ast.Ident:
		return n.Name, false
	case *ast.BasicLit:
		return n.Value, false
	case *ast.BinaryExpr:
		return n.Op.String(), false
	case *ast.UnaryExpr:
		return n.Op.String(), false
	case *ast.AssignStmt:
		return n.Tok.String(), false
	case *ast.IncDecStmt:
		return n.Tok.String(), false
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", n), "*ast."), false
}

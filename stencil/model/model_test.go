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
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// parseBody parses src as the body of a function and returns its block.
func parseBody(t *testing.T, src string) *ast.BlockStmt {
	t.Helper()
	file, err := parser.ParseFile(token.NewFileSet(), "body.go", "package p\nfunc f() {\n"+src+"\n}\n", 0)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return file.Decls[0].(*ast.FuncDecl).Body
}

// wrapLoops hand-builds the stencil nodes for the canonical two-loop body.
func wrapLoops(t *testing.T, body *ast.BlockStmt) *ast.BlockStmt {
	t.Helper()
	outer := body.List[0].(*ast.RangeStmt)
	outerCall := outer.X.(*ast.CallExpr)
	inner := outer.Body.List[1].(*ast.RangeStmt)
	innerCall := inner.X.(*ast.CallExpr)

	neighbor := &NeighborPointsLoop{
		Stmt:  inner,
		Level: 1,
		Grid:  "in",
		Point: innerCall.Args[0],
		Index: "y",
		Body:  inner.Body,
	}
	loop := &InteriorPointsLoop{
		Stmt:   outer,
		Index:  "x",
		Object: outerCall.Fun.(*ast.SelectorExpr).X,
		Grid:   outerCall.Args[0],
		Body: &ast.BlockStmt{List: []ast.Stmt{
			outer.Body.List[0],
			neighbor,
		}},
	}
	return &ast.BlockStmt{List: []ast.Stmt{loop}}
}

const twoLoops = `for x := range k.InteriorPoints(out) {
	out[x] = -4 * in[x]
	for y := range in.Neighbors(x, 1) {
		out[x] += in[y]
	}
}`

func TestLowerRoundTrip(t *testing.T) {
	body := parseBody(t, twoLoops)
	want, err := Format(Clone(body))
	if err != nil {
		t.Fatal(err)
	}

	translated := wrapLoops(t, body)
	got, err := Format(translated)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("lowered source mismatch (-want +got):\n%s", diff)
	}

	// Lower must leave the translated tree intact.
	if _, ok := translated.List[0].(*InteriorPointsLoop); !ok {
		t.Errorf("Lower modified its input: %T", translated.List[0])
	}
}

func TestLowerMathFunction(t *testing.T) {
	call := &MathFunction{
		Name: "distance",
		Args: []ast.Expr{ast.NewIdent("x"), &MathFunction{Name: "int", Args: []ast.Expr{ast.NewIdent("y")}}},
	}
	got, err := Format(call)
	if err != nil {
		t.Fatal(err)
	}
	if want := "distance(x, int(y))"; got != want {
		t.Errorf("Format = %q, want %q", got, want)
	}
}

func TestInspect(t *testing.T) {
	translated := wrapLoops(t, parseBody(t, twoLoops))

	var kinds []string
	var idents int
	Inspect(translated, func(n ast.Node) bool {
		switch n := n.(type) {
		case *InteriorPointsLoop:
			kinds = append(kinds, "interior")
		case *NeighborPointsLoop:
			kinds = append(kinds, "neighbor")
		case *ast.Ident:
			if n.Name == "y" {
				idents++
			}
		}
		return true
	})
	if diff := cmp.Diff([]string{"interior", "neighbor"}, kinds); diff != "" {
		t.Errorf("visited kinds mismatch (-want +got):\n%s", diff)
	}
	// The neighbor index appears once in the body: in[y].
	if idents != 1 {
		t.Errorf("saw %d uses of y, want 1", idents)
	}

	// Returning false prunes the subtree.
	visited := 0
	Inspect(translated, func(n ast.Node) bool {
		if n != nil {
			visited++
		}
		_, isLoop := n.(*InteriorPointsLoop)
		return !isLoop
	})
	if visited != 2 {
		t.Errorf("visited %d nodes with pruning, want 2", visited)
	}
}

func TestSummary(t *testing.T) {
	translated := wrapLoops(t, parseBody(t, twoLoops))
	want := []string{
		"InteriorPointsLoop x over out",
		"  NeighborPointsLoop y in in.Neighbors(x, 1)",
	}
	if diff := cmp.Diff(want, Summary(translated)); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestCloneIsDeep(t *testing.T) {
	body := parseBody(t, "a := b + c[1]")
	c := Clone(body).(*ast.BlockStmt)
	assign := c.List[0].(*ast.AssignStmt)
	assign.Rhs[0].(*ast.BinaryExpr).X.(*ast.Ident).Name = "z"

	orig := body.List[0].(*ast.AssignStmt).Rhs[0].(*ast.BinaryExpr).X.(*ast.Ident).Name
	if orig != "b" {
		t.Errorf("Clone shares identifiers, original now %q", orig)
	}
}

func TestLowerPlainInteriorPoints(t *testing.T) {
	body := parseBody(t, "for x := range InteriorPoints(out) {\n\tout[x] = in[x]\n}")
	outer := body.List[0].(*ast.RangeStmt)
	loop := &InteriorPointsLoop{
		Stmt:  outer,
		Index: "x",
		Grid:  outer.X.(*ast.CallExpr).Args[0],
		Body:  outer.Body,
	}
	want, err := Format(Clone(body))
	if err != nil {
		t.Fatal(err)
	}
	got, err := Format(&ast.BlockStmt{List: []ast.Stmt{loop}})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("lowered source mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(got, "range InteriorPoints(out)") {
		t.Errorf("lowered loop has a receiver:\n%s", got)
	}
}

func TestCloneFunctionLiterals(t *testing.T) {
	body := parseBody(t, `f := func(y Point) float64 { return distance(x, y) }
defer g(f)
switch v := a.(type) {
case int:
	ch <- v
}`)
	c := Clone(body).(*ast.BlockStmt)

	lit := c.List[0].(*ast.AssignStmt).Rhs[0].(*ast.FuncLit)
	ret := lit.Body.List[0].(*ast.ReturnStmt)
	ret.Results[0] = &MathFunction{Name: "distance"}
	lit.Type.Params.List[0].Names[0].Name = "q"
	c.List[1].(*ast.DeferStmt).Call.Args[0].(*ast.Ident).Name = "h"
	clause := c.List[2].(*ast.TypeSwitchStmt).Body.List[0].(*ast.CaseClause)
	clause.Body[0].(*ast.SendStmt).Value.(*ast.Ident).Name = "w"

	want, err := Format(parseBody(t, `f := func(y Point) float64 { return distance(x, y) }
defer g(f)
switch v := a.(type) {
case int:
	ch <- v
}`))
	if err != nil {
		t.Fatal(err)
	}
	got, err := Format(body)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Clone shares nodes with its input (-want +got):\n%s", diff)
	}
}

func TestDot(t *testing.T) {
	got := Dot(wrapLoops(t, parseBody(t, twoLoops)))
	if !strings.HasPrefix(got, "digraph kernel {\n") || !strings.HasSuffix(got, "}\n") {
		t.Fatalf("not a digraph:\n%s", got)
	}
	for _, want := range []string{
		`n0 [label="BlockStmt"];`,
		`n1 [label="InteriorPointsLoop\nx over out", shape=box];`,
		`n0 -> n1;`,
		`[label="NeighborPointsLoop\ny in in level 1", shape=box];`,
		`[label="+="];`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %s in:\n%s", want, got)
		}
	}
	if n := strings.Count(got, "shape=box"); n != 2 {
		t.Errorf("%d boxes, want 2", n)
	}
	// A tree of n vertices has n-1 edges.
	if v, e := strings.Count(got, "[label="), strings.Count(got, "->"); e != v-1 {
		t.Errorf("%d vertices and %d edges", v, e)
	}
}

func TestKernelConstant(t *testing.T) {
	k := &Kernel{Constants: map[string]float64{"alpha": 0.5}}
	if v, ok := k.Constant("alpha"); !ok || v != 0.5 {
		t.Errorf("Constant(alpha) = %v, %v", v, ok)
	}
	if _, ok := (&Kernel{}).Constant("alpha"); ok {
		t.Error("kernel without constants reported one")
	}
}

func TestKernelParams(t *testing.T) {
	k := &Kernel{Inputs: []string{"a", "b"}, Output: "out"}
	if diff := cmp.Diff([]string{"a", "b", "out"}, k.Params()); diff != "" {
		t.Errorf("Params mismatch (-want +got):\n%s", diff)
	}
	if i := k.ParamIndex("out"); i != 2 {
		t.Errorf("ParamIndex(out) = %d", i)
	}
	if i := k.ParamIndex("nope"); i != -1 {
		t.Errorf("ParamIndex(nope) = %d", i)
	}
	if n := len(k.NeighborOffsets(1, 2)); n != 4 {
		t.Errorf("default neighborhood has %d offsets, want 4", n)
	}
	if d := k.PointDistance([]int{0, 0}, []int{3, 4}); d != 5 {
		t.Errorf("default distance = %v, want 5", d)
	}
}

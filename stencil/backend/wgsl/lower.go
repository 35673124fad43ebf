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

package wgsl

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/constant"
	"go/token"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/ajroetker/go-stencil/stencil/model"
)

// writer accumulates indented WGSL lines.
type writer struct {
	buf   bytes.Buffer
	depth int
}

func (w *writer) line(format string, args ...any) {
	for range w.depth {
		w.buf.WriteByte('\t')
	}
	fmt.Fprintf(&w.buf, format, args...)
	w.buf.WriteByte('\n')
}

func (w *writer) open(format string, args ...any) {
	w.line(format, args...)
	w.depth++
}

func (w *writer) close(suffix string) {
	w.depth--
	w.line("}%s", suffix)
}

type gridInfo struct {
	binding int
	shape   []int
	output  bool
}

type varKind int

const (
	varNum varKind = iota
	varPoint
)

type variable struct {
	kind  varKind
	reach int // points: max distance from the interior point, -1 if unknown
}

type scope struct {
	parent *scope
	vars   map[string]variable
}

func (s *scope) lookup(name string) (variable, bool) {
	for ; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}
	return variable{}, false
}

// lowerer writes a kernel body as the body of the WGSL entry point. Each
// work item runs one interior point; neighbor loops are unrolled.
type lowerer struct {
	k      *model.Kernel
	rank   int
	ghost  int
	outDim []int
	grids  map[string]gridInfo
	tiled  string // input staged in the work-group tile, if any

	w        *writer
	scope    *scope
	interior string // index of the interior loop being lowered
	loops    int

	tileReads   int
	globalReads int
}

func (l *lowerer) push() { l.scope = &scope{parent: l.scope, vars: map[string]variable{}} }
func (l *lowerer) pop()  { l.scope = l.scope.parent }

func (l *lowerer) errorf(n ast.Node, format string, args ...any) error {
	src, err := model.Format(n)
	if err != nil {
		src = fmt.Sprintf("%T", n)
	}
	if i := strings.IndexByte(src, '\n'); i >= 0 {
		src = src[:i] + " ..."
	}
	return fmt.Errorf("wgsl: %s: %s", src, fmt.Sprintf(format, args...))
}

func (l *lowerer) block(b *ast.BlockStmt) error {
	l.push()
	defer l.pop()
	for _, s := range b.List {
		if err := l.stmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (l *lowerer) stmt(s ast.Stmt) error {
	switch s := s.(type) {
	case *model.InteriorPointsLoop:
		return l.interiorLoop(s)
	case *model.NeighborPointsLoop:
		return l.neighborLoop(s)
	case *ast.BlockStmt:
		l.w.open("{")
		err := l.block(s)
		l.w.close("")
		return err
	case *ast.AssignStmt:
		line, err := l.assign(s)
		if err != nil {
			return err
		}
		l.w.line("%s;", line)
		return nil
	case *ast.IncDecStmt:
		line, err := l.incDec(s)
		if err != nil {
			return err
		}
		l.w.line("%s;", line)
		return nil
	case *ast.DeclStmt:
		return l.decl(s)
	case *ast.IfStmt:
		if s.Init == nil {
			return l.ifStmt(s, "")
		}
		l.w.open("{")
		l.push()
		defer l.pop()
		if err := l.stmt(s.Init); err != nil {
			return err
		}
		if err := l.ifStmt(s, ""); err != nil {
			return err
		}
		l.w.close("")
		return nil
	case *ast.ForStmt:
		return l.forStmt(s)
	case *ast.EmptyStmt:
		return nil
	}
	return l.errorf(s, "unsupported %T", s)
}

func (l *lowerer) interiorLoop(s *model.InteriorPointsLoop) error {
	if l.interior != "" {
		return l.errorf(s, "interior loops cannot nest on the device")
	}
	if l.loops > 0 {
		return l.errorf(s, "only one interior loop runs per launch")
	}
	g, ok := l.grids[s.GridName()]
	if !ok {
		return l.errorf(s, "interior loop must range over a grid parameter")
	}
	if !slices.Equal(g.shape, l.outDim) {
		return l.errorf(s, "interior loop over shape %v, launch geometry covers %v", g.shape, l.outDim)
	}
	l.loops++

	name := pointName(s.Index)
	offs := make([]int, 3)
	for d := range l.rank {
		offs[d] = l.ghost
	}
	l.w.line("let %s = vec3<i32>(gid) + vec3<i32>(%d, %d, %d);", name, offs[0], offs[1], offs[2])
	guards := make([]string, l.rank)
	for d := range l.rank {
		guards[d] = fmt.Sprintf("%s.%s < %d", name, axis[d], l.outDim[d]-l.ghost)
	}
	l.w.open("if (%s) {", strings.Join(guards, " && "))
	l.push()
	l.scope.vars[s.Index] = variable{kind: varPoint, reach: 0}
	l.interior = s.Index
	err := l.block(s.Body)
	l.interior = ""
	l.pop()
	l.w.close("")
	return err
}

func (l *lowerer) neighborLoop(s *model.NeighborPointsLoop) error {
	if _, ok := l.grids[s.Grid]; !ok {
		return l.errorf(s, "%s is not a grid parameter", s.Grid)
	}
	center, reach, err := l.point(s.Point)
	if err != nil {
		return err
	}
	if reach >= 0 {
		reach += s.Level
	}
	for _, o := range l.k.NeighborOffsets(s.Level, l.rank) {
		v := make([]int, 3)
		copy(v, o)
		l.w.open("{")
		l.w.line("let %s = %s + vec3<i32>(%d, %d, %d);", pointName(s.Index), center, v[0], v[1], v[2])
		l.push()
		l.scope.vars[s.Index] = variable{kind: varPoint, reach: reach}
		err := l.block(s.Body)
		l.pop()
		l.w.close("")
		if err != nil {
			return err
		}
	}
	return nil
}

var compoundOps = map[token.Token]string{
	token.ASSIGN:     "=",
	token.ADD_ASSIGN: "+=",
	token.SUB_ASSIGN: "-=",
	token.MUL_ASSIGN: "*=",
	token.QUO_ASSIGN: "/=",
	token.REM_ASSIGN: "%=",
}

func (l *lowerer) assign(s *ast.AssignStmt) (string, error) {
	if len(s.Lhs) != 1 || len(s.Rhs) != 1 {
		return "", l.errorf(s, "only single-value assignments are supported")
	}
	lhs, rhs := s.Lhs[0], s.Rhs[0]
	if s.Tok == token.DEFINE {
		return l.define(lhs, rhs)
	}
	op, ok := compoundOps[s.Tok]
	if !ok {
		return "", l.errorf(s, "unsupported assignment operator %s", s.Tok)
	}
	dst, err := l.lvalue(lhs)
	if err != nil {
		return "", err
	}
	value, err := l.num(rhs)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", dst, op, value), nil
}

func (l *lowerer) incDec(s *ast.IncDecStmt) (string, error) {
	dst, err := l.lvalue(s.X)
	if err != nil {
		return "", err
	}
	if s.Tok == token.INC {
		return dst + " += 1.0", nil
	}
	return dst + " -= 1.0", nil
}

func (l *lowerer) define(lhs, rhs ast.Expr) (string, error) {
	id, ok := lhs.(*ast.Ident)
	if !ok || id.Name == "_" {
		return "", l.errorf(lhs, "cannot declare %T", lhs)
	}
	if l.isPoint(rhs) {
		p, reach, err := l.point(rhs)
		if err != nil {
			return "", err
		}
		l.scope.vars[id.Name] = variable{kind: varPoint, reach: reach}
		return fmt.Sprintf("let %s = %s", pointName(id.Name), p), nil
	}
	value, err := l.num(rhs)
	if err != nil {
		return "", err
	}
	l.scope.vars[id.Name] = variable{kind: varNum}
	return fmt.Sprintf("var %s: f32 = %s", numName(id.Name), value), nil
}

// lvalue resolves an assignable expression: a numeric variable or an
// element of the output grid.
func (l *lowerer) lvalue(e ast.Expr) (string, error) {
	switch e := ast.Unparen(e).(type) {
	case *ast.Ident:
		v, ok := l.scope.lookup(e.Name)
		if !ok {
			if _, isConst := l.k.Constant(e.Name); isConst {
				return "", l.errorf(e, "cannot assign to constant %s", e.Name)
			}
			return "", l.errorf(e, "undefined: %s", e.Name)
		}
		if v.kind != varNum {
			return "", l.errorf(e, "points are immutable on the device")
		}
		return numName(e.Name), nil
	case *ast.IndexExpr:
		name, g, p, _, err := l.element(e)
		if err != nil {
			return "", err
		}
		if !g.output {
			return "", l.errorf(e, "input %s is read-only on the device", name)
		}
		return fmt.Sprintf("%s[idx_%s(%s)]", gridName(name), name, p), nil
	}
	return "", l.errorf(e, "cannot assign to %T", e)
}

func (l *lowerer) decl(s *ast.DeclStmt) error {
	gen, ok := s.Decl.(*ast.GenDecl)
	if !ok || (gen.Tok != token.VAR && gen.Tok != token.CONST) {
		return l.errorf(s, "unsupported declaration")
	}
	for _, spec := range gen.Specs {
		vs, ok := spec.(*ast.ValueSpec)
		if !ok {
			return l.errorf(s, "unsupported declaration")
		}
		if len(vs.Values) != 0 && len(vs.Values) != len(vs.Names) {
			return l.errorf(s, "%d names but %d values", len(vs.Names), len(vs.Values))
		}
		for i, name := range vs.Names {
			value := "0.0"
			if len(vs.Values) > 0 {
				var err error
				if value, err = l.num(vs.Values[i]); err != nil {
					return err
				}
			}
			l.scope.vars[name.Name] = variable{kind: varNum}
			l.w.line("var %s: f32 = %s;", numName(name.Name), value)
		}
	}
	return nil
}

func (l *lowerer) ifStmt(s *ast.IfStmt, prefix string) error {
	cond, err := l.cond(s.Cond)
	if err != nil {
		return err
	}
	l.w.open("%sif (%s) {", prefix, cond)
	if err := l.block(s.Body); err != nil {
		return err
	}
	switch e := s.Else.(type) {
	case nil:
		l.w.close("")
		return nil
	case *ast.IfStmt:
		if e.Init != nil {
			return l.errorf(e, "else-if with an init statement")
		}
		l.w.depth--
		return l.ifStmt(e, "} else ")
	case *ast.BlockStmt:
		l.w.depth--
		l.w.open("} else {")
		if err := l.block(e); err != nil {
			return err
		}
		l.w.close("")
		return nil
	}
	return l.errorf(s.Else, "unsupported else branch %T", s.Else)
}

func (l *lowerer) forStmt(s *ast.ForStmt) error {
	if s.Cond == nil {
		return l.errorf(s, "for loop without a condition")
	}
	l.push()
	defer l.pop()
	var init, post string
	var err error
	if s.Init != nil {
		if init, err = l.simple(s.Init); err != nil {
			return err
		}
	}
	cond, err := l.cond(s.Cond)
	if err != nil {
		return err
	}
	if s.Post != nil {
		if post, err = l.simple(s.Post); err != nil {
			return err
		}
	}
	l.w.open("for (%s; %s; %s) {", init, cond, post)
	err = l.block(s.Body)
	l.w.close("")
	return err
}

// simple lowers a for-loop clause.
func (l *lowerer) simple(s ast.Stmt) (string, error) {
	switch s := s.(type) {
	case *ast.AssignStmt:
		return l.assign(s)
	case *ast.IncDecStmt:
		return l.incDec(s)
	}
	return "", l.errorf(s, "unsupported loop clause %T", s)
}

var axis = []string{"x", "y", "z"}

func pointName(n string) string { return "p_" + n }
func numName(n string) string   { return "v_" + n }
func gridName(n string) string  { return "g_" + n }

func (l *lowerer) isPoint(e ast.Expr) bool {
	id, ok := ast.Unparen(e).(*ast.Ident)
	if !ok {
		return false
	}
	v, ok := l.scope.lookup(id.Name)
	return ok && v.kind == varPoint
}

func (l *lowerer) point(e ast.Expr) (string, int, error) {
	id, ok := ast.Unparen(e).(*ast.Ident)
	if !ok {
		return "", 0, l.errorf(e, "expected a point variable")
	}
	v, ok := l.scope.lookup(id.Name)
	if !ok {
		return "", 0, l.errorf(e, "undefined: %s", id.Name)
	}
	if v.kind != varPoint {
		return "", 0, l.errorf(e, "%s is a number, not a point", id.Name)
	}
	return pointName(id.Name), v.reach, nil
}

func (l *lowerer) element(e *ast.IndexExpr) (string, gridInfo, string, int, error) {
	id, ok := e.X.(*ast.Ident)
	if !ok {
		return "", gridInfo{}, "", 0, l.errorf(e, "only grid parameters can be indexed")
	}
	g, ok := l.grids[id.Name]
	if !ok {
		return "", gridInfo{}, "", 0, l.errorf(e, "%s is not a grid parameter", id.Name)
	}
	p, reach, err := l.point(e.Index)
	if err != nil {
		return "", gridInfo{}, "", 0, err
	}
	return id.Name, g, p, reach, nil
}

var binaryOps = map[token.Token]bool{
	token.ADD: true, token.SUB: true, token.MUL: true, token.QUO: true, token.REM: true,
}

var compareOps = map[token.Token]bool{
	token.EQL: true, token.NEQ: true, token.LSS: true, token.LEQ: true, token.GTR: true, token.GEQ: true,
}

func (l *lowerer) num(e ast.Expr) (string, error) {
	switch e := e.(type) {
	case *ast.ParenExpr:
		return l.num(e.X)
	case *ast.BasicLit:
		return floatLiteral(e)
	case *ast.Ident:
		v, ok := l.scope.lookup(e.Name)
		if !ok {
			if c, isConst := l.k.Constant(e.Name); isConst {
				lit, err := f32Literal(c, e.Name)
				if err != nil {
					return "", l.errorf(e, "%v", err)
				}
				return lit, nil
			}
			return "", l.errorf(e, "undefined: %s", e.Name)
		}
		if v.kind != varNum {
			return "", l.errorf(e, "%s is a point, not a number", e.Name)
		}
		return numName(e.Name), nil
	case *ast.IndexExpr:
		return l.load(e)
	case *ast.UnaryExpr:
		x, err := l.num(e.X)
		if err != nil {
			return "", err
		}
		switch e.Op {
		case token.SUB:
			return "(-" + x + ")", nil
		case token.ADD:
			return x, nil
		}
	case *ast.BinaryExpr:
		if !binaryOps[e.Op] {
			return "", l.errorf(e, "operator %s does not yield a number", e.Op)
		}
		x, err := l.num(e.X)
		if err != nil {
			return "", err
		}
		y, err := l.num(e.Y)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s %s)", x, e.Op, y), nil
	case *model.MathFunction:
		return l.math(e)
	}
	return "", l.errorf(e, "unsupported %T", e)
}

// load reads a grid element, from the tile when the point is known to lie
// within the halo of the work item's interior point.
func (l *lowerer) load(e *ast.IndexExpr) (string, error) {
	if id, ok := e.X.(*ast.Ident); ok {
		if v, found := l.scope.lookup(id.Name); found && v.kind == varPoint {
			idx, err := l.num(e.Index)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("f32(%s[u32(%s)])", pointName(id.Name), idx), nil
		}
	}
	name, _, p, reach, err := l.element(e)
	if err != nil {
		return "", err
	}
	if name == l.tiled && reach >= 0 && reach <= l.ghost {
		l.tileReads++
		return fmt.Sprintf("tile[tile_idx(%s - origin)]", p), nil
	}
	l.globalReads++
	return fmt.Sprintf("%s[idx_%s(%s)]", gridName(name), name, p), nil
}

func (l *lowerer) math(m *model.MathFunction) (string, error) {
	switch m.Name {
	case "distance":
		if l.k.Distance != nil {
			return "", l.errorf(m, "a custom distance has no device lowering")
		}
		if len(m.Args) != 2 {
			return "", l.errorf(m, "distance takes 2 points, got %d arguments", len(m.Args))
		}
		a, _, err := l.point(m.Args[0])
		if err != nil {
			return "", err
		}
		b, _, err := l.point(m.Args[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("distance(vec3<f32>(%s), vec3<f32>(%s))", a, b), nil
	case "int":
		if len(m.Args) != 1 {
			return "", l.errorf(m, "int takes 1 argument, got %d", len(m.Args))
		}
		x, err := l.num(m.Args[0])
		if err != nil {
			return "", err
		}
		return "trunc(" + x + ")", nil
	}
	return "", l.errorf(m, "no device lowering for %s", m.Name)
}

func (l *lowerer) cond(e ast.Expr) (string, error) {
	switch e := e.(type) {
	case *ast.ParenExpr:
		return l.cond(e.X)
	case *ast.Ident:
		if e.Name == "true" || e.Name == "false" {
			return e.Name, nil
		}
	case *ast.UnaryExpr:
		if e.Op == token.NOT {
			x, err := l.cond(e.X)
			if err != nil {
				return "", err
			}
			return "(!" + x + ")", nil
		}
	case *ast.BinaryExpr:
		if e.Op == token.LAND || e.Op == token.LOR {
			x, err := l.cond(e.X)
			if err != nil {
				return "", err
			}
			y, err := l.cond(e.Y)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("(%s %s %s)", x, e.Op, y), nil
		}
		if compareOps[e.Op] {
			x, err := l.num(e.X)
			if err != nil {
				return "", err
			}
			y, err := l.num(e.Y)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("(%s %s %s)", x, e.Op, y), nil
		}
	}
	return "", l.errorf(e, "expected a boolean condition")
}

// floatLiteral renders a Go numeric literal as an f32 literal.
func floatLiteral(lit *ast.BasicLit) (string, error) {
	if lit.Kind != token.INT && lit.Kind != token.FLOAT {
		return "", fmt.Errorf("wgsl: %s literal is not a number", lit.Kind)
	}
	v := constant.MakeFromLiteral(lit.Value, lit.Kind, 0)
	if v.Kind() == constant.Unknown {
		return "", fmt.Errorf("wgsl: malformed literal %s", lit.Value)
	}
	f, _ := constant.Float64Val(constant.ToFloat(v))
	return f32Literal(f, lit.Value)
}

// f32Literal formats f as a WGSL f32 literal. src names the value in
// errors.
func f32Literal(f float64, src string) (string, error) {
	if math.IsInf(f, 0) || math.IsNaN(f) || math.Abs(f) > math.MaxFloat32 {
		return "", fmt.Errorf("wgsl: literal %s overflows f32", src)
	}
	s := strconv.FormatFloat(f, 'g', -1, 32)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s, nil
}

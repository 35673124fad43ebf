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

package closure

import (
	"fmt"
	"go/ast"
	"go/constant"
	"go/token"
	"math"
	"strings"

	"github.com/ajroetker/go-stencil/stencil/grid"
	"github.com/ajroetker/go-stencil/stencil/model"
)

type (
	stmtFn  func(f *frame) error
	numFn   func(f *frame) float64
	boolFn  func(f *frame) bool
	pointFn func(f *frame) []int
)

func nop(*frame) error { return nil }

type bindKind int

const (
	bindGrid bindKind = iota
	bindPoint
	bindNum
)

func (k bindKind) String() string {
	switch k {
	case bindGrid:
		return "grid"
	case bindPoint:
		return "point"
	default:
		return "number"
	}
}

type binding struct {
	kind     bindKind
	slot     int
	readonly bool // loop indices
}

type scope struct {
	parent *scope
	names  map[string]binding
}

func (s *scope) lookup(name string) (binding, bool) {
	for ; s != nil; s = s.parent {
		if b, ok := s.names[name]; ok {
			return b, true
		}
	}
	return binding{}, false
}

// compiler turns a translated kernel body into a tree of closures. Names
// are resolved to frame slots at compile time; shapes are constants of the
// configuration being specialized.
type compiler struct {
	k        *model.Kernel
	rank     int
	shapes   [][]int // per grid parameter, in Params order
	parallel bool

	scope    *scope
	points   int
	nums     int
	interior int // nesting depth of interior loops
	spread   int // interior loops spread across workers
}

func newCompiler(k *model.Kernel, shapes [][]int, parallel bool) *compiler {
	c := &compiler{
		k:        k,
		shapes:   shapes,
		parallel: parallel,
		scope:    &scope{names: map[string]binding{}},
	}
	if len(shapes) > 0 {
		c.rank = len(shapes[0])
	}
	for i, name := range k.Params() {
		c.scope.names[name] = binding{kind: bindGrid, slot: i}
	}
	return c
}

func (c *compiler) push() { c.scope = &scope{parent: c.scope, names: map[string]binding{}} }
func (c *compiler) pop()  { c.scope = c.scope.parent }

func (c *compiler) bindPoint(name string, readonly bool) int {
	slot := c.points
	c.points++
	c.scope.names[name] = binding{kind: bindPoint, slot: slot, readonly: readonly}
	return slot
}

func (c *compiler) bindNum(name string) int {
	slot := c.nums
	c.nums++
	c.scope.names[name] = binding{kind: bindNum, slot: slot}
	return slot
}

func (c *compiler) errorf(n ast.Node, format string, args ...any) error {
	return fmt.Errorf("closure: %s: %s", nodeString(n), fmt.Sprintf(format, args...))
}

func (c *compiler) unsupported(n ast.Node) error {
	return c.errorf(n, "unsupported %T", n)
}

// nodeString returns the first line of n as Go source.
func nodeString(n ast.Node) string {
	src, err := model.Format(n)
	if err != nil {
		return fmt.Sprintf("%T", n)
	}
	if i := strings.IndexByte(src, '\n'); i >= 0 {
		return src[:i] + " ..."
	}
	return src
}

func (c *compiler) block(b *ast.BlockStmt) (stmtFn, error) {
	c.push()
	defer c.pop()
	return c.stmts(b.List)
}

func (c *compiler) stmts(list []ast.Stmt) (stmtFn, error) {
	fns := make([]stmtFn, 0, len(list))
	for _, s := range list {
		fn, err := c.stmt(s)
		if err != nil {
			return nil, err
		}
		fns = append(fns, fn)
	}
	switch len(fns) {
	case 0:
		return nop, nil
	case 1:
		return fns[0], nil
	}
	return func(f *frame) error {
		for _, fn := range fns {
			if err := fn(f); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func (c *compiler) stmt(s ast.Stmt) (stmtFn, error) {
	switch s := s.(type) {
	case *model.InteriorPointsLoop:
		return c.interiorLoop(s)
	case *model.NeighborPointsLoop:
		return c.neighborLoop(s)
	case *ast.BlockStmt:
		return c.block(s)
	case *ast.AssignStmt:
		return c.assign(s)
	case *ast.IncDecStmt:
		op := token.ADD
		if s.Tok == token.DEC {
			op = token.SUB
		}
		return c.update(s.X, arith[op], func(*frame) float64 { return 1 })
	case *ast.DeclStmt:
		return c.decl(s)
	case *ast.IfStmt:
		return c.ifStmt(s)
	case *ast.ForStmt:
		return c.forStmt(s)
	case *ast.EmptyStmt:
		return nop, nil
	}
	return nil, c.unsupported(s)
}

func (c *compiler) interiorLoop(l *model.InteriorPointsLoop) (stmtFn, error) {
	name := l.GridName()
	b, ok := c.scope.lookup(name)
	if name == "" || !ok || b.kind != bindGrid {
		return nil, c.errorf(l, "interior loop must range over a grid parameter")
	}
	ghost := c.k.GhostDepth
	shape := c.shapes[b.slot]
	lo, hi, nonEmpty := grid.InteriorBounds(shape, ghost)
	count := grid.InteriorCount(shape, ghost)

	spread := c.parallel && c.interior == 0
	c.push()
	slot := c.bindPoint(l.Index, true)
	c.interior++
	body, err := c.block(l.Body)
	c.interior--
	c.pop()
	if err != nil {
		return nil, err
	}
	if !nonEmpty {
		return nop, nil
	}

	seq := func(f *frame) error {
		return walkInterior(lo, hi, 0, count, f.points[slot], func() error { return body(f) })
	}
	if !spread {
		return seq, nil
	}
	c.spread++
	return func(f *frame) error {
		if f.run == nil {
			return seq(f)
		}
		return f.run.parallelFor(count, func(start, end int) error {
			sub := f.fork()
			return walkInterior(lo, hi, start, end, sub.points[slot], func() error { return body(sub) })
		})
	}, nil
}

func (c *compiler) neighborLoop(l *model.NeighborPointsLoop) (stmtFn, error) {
	if b, ok := c.scope.lookup(l.Grid); !ok || b.kind != bindGrid {
		return nil, c.errorf(l, "%s is not a grid parameter", l.Grid)
	}
	center, err := c.point(l.Point)
	if err != nil {
		return nil, err
	}
	offsets := c.k.NeighborOffsets(l.Level, c.rank)

	c.push()
	slot := c.bindPoint(l.Index, true)
	body, err := c.block(l.Body)
	c.pop()
	if err != nil {
		return nil, err
	}
	return func(f *frame) error {
		p, q := center(f), f.points[slot]
		for _, o := range offsets {
			for i := range q {
				q[i] = p[i] + o[i]
			}
			if err := body(f); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

// walkInterior visits the flat interior indices [start, end) of the box
// [lo, hi) in row-major order, writing each point into p before calling fn.
func walkInterior(lo, hi []int, start, end int, p []int, fn func() error) error {
	if start >= end {
		return nil
	}
	i := start
	for d := len(p) - 1; d >= 0; d-- {
		ext := hi[d] - lo[d]
		p[d] = lo[d] + i%ext
		i /= ext
	}
	for range end - start {
		if err := fn(); err != nil {
			return err
		}
		for d := len(p) - 1; d >= 0; d-- {
			p[d]++
			if p[d] < hi[d] {
				break
			}
			p[d] = lo[d]
		}
	}
	return nil
}

var compound = map[token.Token]token.Token{
	token.ADD_ASSIGN: token.ADD,
	token.SUB_ASSIGN: token.SUB,
	token.MUL_ASSIGN: token.MUL,
	token.QUO_ASSIGN: token.QUO,
	token.REM_ASSIGN: token.REM,
}

var arith = map[token.Token]func(a, b float64) float64{
	token.ADD: func(a, b float64) float64 { return a + b },
	token.SUB: func(a, b float64) float64 { return a - b },
	token.MUL: func(a, b float64) float64 { return a * b },
	token.QUO: func(a, b float64) float64 { return a / b },
	token.REM: math.Mod,
}

func (c *compiler) assign(s *ast.AssignStmt) (stmtFn, error) {
	if len(s.Lhs) != 1 || len(s.Rhs) != 1 {
		return nil, c.errorf(s, "only single-value assignments are supported")
	}
	lhs, rhs := s.Lhs[0], s.Rhs[0]
	switch s.Tok {
	case token.DEFINE:
		return c.define(lhs, rhs)
	case token.ASSIGN:
		if id, ok := lhs.(*ast.Ident); ok {
			if b, found := c.scope.lookup(id.Name); found && b.kind == bindPoint {
				return c.assignPoint(id, b, rhs)
			}
		}
		value, err := c.num(rhs)
		if err != nil {
			return nil, err
		}
		return c.update(lhs, nil, value)
	}
	op, ok := compound[s.Tok]
	if !ok {
		return nil, c.errorf(s, "unsupported assignment operator %s", s.Tok)
	}
	value, err := c.num(rhs)
	if err != nil {
		return nil, err
	}
	return c.update(lhs, arith[op], value)
}

// update stores value into a numeric variable or a grid element. With a
// non-nil op the stored value is op(current, value).
func (c *compiler) update(lhs ast.Expr, op func(a, b float64) float64, value numFn) (stmtFn, error) {
	switch l := ast.Unparen(lhs).(type) {
	case *ast.Ident:
		b, ok := c.scope.lookup(l.Name)
		if !ok {
			if _, isConst := c.k.Constant(l.Name); isConst {
				return nil, c.errorf(l, "cannot assign to constant %s", l.Name)
			}
			return nil, c.errorf(l, "undefined: %s", l.Name)
		}
		if b.kind != bindNum {
			return nil, c.errorf(l, "cannot assign a number to %s %s", b.kind, l.Name)
		}
		slot := b.slot
		if op == nil {
			return func(f *frame) error {
				f.nums[slot] = value(f)
				return nil
			}, nil
		}
		return func(f *frame) error {
			f.nums[slot] = op(f.nums[slot], value(f))
			return nil
		}, nil

	case *ast.IndexExpr:
		g, pt, err := c.element(l)
		if err != nil {
			return nil, err
		}
		if op == nil {
			return func(f *frame) error {
				f.grids[g].Set(pt(f), value(f))
				return nil
			}, nil
		}
		return func(f *frame) error {
			p, dst := pt(f), f.grids[g]
			dst.Set(p, op(dst.At(p...), value(f)))
			return nil
		}, nil
	}
	return nil, c.errorf(lhs, "cannot assign to %T", lhs)
}

func (c *compiler) assignPoint(id *ast.Ident, b binding, rhs ast.Expr) (stmtFn, error) {
	if b.readonly {
		return nil, c.errorf(id, "cannot assign to loop index %s", id.Name)
	}
	src, err := c.point(rhs)
	if err != nil {
		return nil, err
	}
	slot := b.slot
	return func(f *frame) error {
		copy(f.points[slot], src(f))
		return nil
	}, nil
}

func (c *compiler) define(lhs, rhs ast.Expr) (stmtFn, error) {
	id, ok := lhs.(*ast.Ident)
	if !ok || id.Name == "_" {
		return nil, c.errorf(lhs, "cannot declare %T", lhs)
	}
	if c.isPoint(rhs) {
		src, err := c.point(rhs)
		if err != nil {
			return nil, err
		}
		slot := c.bindPoint(id.Name, false)
		return func(f *frame) error {
			copy(f.points[slot], src(f))
			return nil
		}, nil
	}
	value, err := c.num(rhs)
	if err != nil {
		return nil, err
	}
	slot := c.bindNum(id.Name)
	return func(f *frame) error {
		f.nums[slot] = value(f)
		return nil
	}, nil
}

func (c *compiler) decl(s *ast.DeclStmt) (stmtFn, error) {
	gen, ok := s.Decl.(*ast.GenDecl)
	if !ok || (gen.Tok != token.VAR && gen.Tok != token.CONST) {
		return nil, c.unsupported(s)
	}
	var fns []stmtFn
	for _, spec := range gen.Specs {
		vs, ok := spec.(*ast.ValueSpec)
		if !ok {
			return nil, c.unsupported(s)
		}
		if len(vs.Values) != 0 && len(vs.Values) != len(vs.Names) {
			return nil, c.errorf(s, "%d names but %d values", len(vs.Names), len(vs.Values))
		}
		values := make([]numFn, len(vs.Values))
		for i, v := range vs.Values {
			fn, err := c.num(v)
			if err != nil {
				return nil, err
			}
			values[i] = fn
		}
		for i, name := range vs.Names {
			slot := c.bindNum(name.Name)
			if len(values) == 0 {
				fns = append(fns, func(f *frame) error {
					f.nums[slot] = 0
					return nil
				})
				continue
			}
			value := values[i]
			fns = append(fns, func(f *frame) error {
				f.nums[slot] = value(f)
				return nil
			})
		}
	}
	return func(f *frame) error {
		for _, fn := range fns {
			if err := fn(f); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func (c *compiler) ifStmt(s *ast.IfStmt) (stmtFn, error) {
	c.push()
	defer c.pop()
	init := stmtFn(nop)
	if s.Init != nil {
		var err error
		if init, err = c.stmt(s.Init); err != nil {
			return nil, err
		}
	}
	cond, err := c.cond(s.Cond)
	if err != nil {
		return nil, err
	}
	body, err := c.block(s.Body)
	if err != nil {
		return nil, err
	}
	els := stmtFn(nop)
	if s.Else != nil {
		if els, err = c.stmt(s.Else); err != nil {
			return nil, err
		}
	}
	return func(f *frame) error {
		if err := init(f); err != nil {
			return err
		}
		if cond(f) {
			return body(f)
		}
		return els(f)
	}, nil
}

func (c *compiler) forStmt(s *ast.ForStmt) (stmtFn, error) {
	if s.Cond == nil {
		return nil, c.errorf(s, "for loop without a condition")
	}
	c.push()
	defer c.pop()
	init, post := stmtFn(nop), stmtFn(nop)
	var err error
	if s.Init != nil {
		if init, err = c.stmt(s.Init); err != nil {
			return nil, err
		}
	}
	cond, err := c.cond(s.Cond)
	if err != nil {
		return nil, err
	}
	if s.Post != nil {
		if post, err = c.stmt(s.Post); err != nil {
			return nil, err
		}
	}
	body, err := c.block(s.Body)
	if err != nil {
		return nil, err
	}
	return func(f *frame) error {
		if err := init(f); err != nil {
			return err
		}
		for cond(f) {
			if err := body(f); err != nil {
				return err
			}
			if err := post(f); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func (c *compiler) isPoint(e ast.Expr) bool {
	id, ok := ast.Unparen(e).(*ast.Ident)
	if !ok {
		return false
	}
	b, ok := c.scope.lookup(id.Name)
	return ok && b.kind == bindPoint
}

func (c *compiler) point(e ast.Expr) (pointFn, error) {
	id, ok := ast.Unparen(e).(*ast.Ident)
	if !ok {
		return nil, c.errorf(e, "expected a point variable")
	}
	b, ok := c.scope.lookup(id.Name)
	if !ok {
		return nil, c.errorf(e, "undefined: %s", id.Name)
	}
	if b.kind != bindPoint {
		return nil, c.errorf(e, "%s is a %s, not a point", id.Name, b.kind)
	}
	slot := b.slot
	return func(f *frame) []int { return f.points[slot] }, nil
}

// element resolves grid[point] to a grid slot and a point.
func (c *compiler) element(e *ast.IndexExpr) (int, pointFn, error) {
	id, ok := e.X.(*ast.Ident)
	if !ok {
		return 0, nil, c.errorf(e, "only grid parameters can be indexed")
	}
	b, ok := c.scope.lookup(id.Name)
	if !ok || b.kind != bindGrid {
		return 0, nil, c.errorf(e, "%s is not a grid parameter", id.Name)
	}
	pt, err := c.point(e.Index)
	if err != nil {
		return 0, nil, err
	}
	return b.slot, pt, nil
}

func (c *compiler) num(e ast.Expr) (numFn, error) {
	switch e := e.(type) {
	case *ast.ParenExpr:
		return c.num(e.X)
	case *ast.BasicLit:
		v, err := literal(e)
		if err != nil {
			return nil, c.errorf(e, "%v", err)
		}
		return func(*frame) float64 { return v }, nil
	case *ast.Ident:
		b, ok := c.scope.lookup(e.Name)
		if !ok {
			if v, isConst := c.k.Constant(e.Name); isConst {
				return func(*frame) float64 { return v }, nil
			}
			return nil, c.errorf(e, "undefined: %s", e.Name)
		}
		if b.kind != bindNum {
			return nil, c.errorf(e, "%s is a %s, not a number", e.Name, b.kind)
		}
		slot := b.slot
		return func(f *frame) float64 { return f.nums[slot] }, nil
	case *ast.IndexExpr:
		return c.load(e)
	case *ast.UnaryExpr:
		x, err := c.num(e.X)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case token.SUB:
			return func(f *frame) float64 { return -x(f) }, nil
		case token.ADD:
			return x, nil
		}
	case *ast.BinaryExpr:
		op, ok := arith[e.Op]
		if !ok {
			return nil, c.errorf(e, "operator %s does not yield a number", e.Op)
		}
		x, err := c.num(e.X)
		if err != nil {
			return nil, err
		}
		y, err := c.num(e.Y)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case token.ADD:
			return func(f *frame) float64 { return x(f) + y(f) }, nil
		case token.MUL:
			return func(f *frame) float64 { return x(f) * y(f) }, nil
		}
		return func(f *frame) float64 { return op(x(f), y(f)) }, nil
	case *model.MathFunction:
		return c.math(e)
	}
	return nil, c.unsupported(e)
}

// load reads grid[point], or a coordinate point[i] as a number.
func (c *compiler) load(e *ast.IndexExpr) (numFn, error) {
	if id, ok := e.X.(*ast.Ident); ok {
		if b, found := c.scope.lookup(id.Name); found && b.kind == bindPoint {
			idx, err := c.num(e.Index)
			if err != nil {
				return nil, err
			}
			slot := b.slot
			return func(f *frame) float64 { return float64(f.points[slot][int(idx(f))]) }, nil
		}
	}
	g, pt, err := c.element(e)
	if err != nil {
		return nil, err
	}
	return func(f *frame) float64 { return f.grids[g].At(pt(f)...) }, nil
}

func (c *compiler) math(m *model.MathFunction) (numFn, error) {
	switch m.Name {
	case "distance":
		if len(m.Args) != 2 {
			return nil, c.errorf(m, "distance takes 2 points, got %d arguments", len(m.Args))
		}
		a, err := c.point(m.Args[0])
		if err != nil {
			return nil, err
		}
		b, err := c.point(m.Args[1])
		if err != nil {
			return nil, err
		}
		dist := c.k.PointDistance
		return func(f *frame) float64 { return dist(a(f), b(f)) }, nil
	case "int":
		if len(m.Args) != 1 {
			return nil, c.errorf(m, "int takes 1 argument, got %d", len(m.Args))
		}
		x, err := c.num(m.Args[0])
		if err != nil {
			return nil, err
		}
		return func(f *frame) float64 { return math.Trunc(x(f)) }, nil
	}
	return nil, c.errorf(m, "no native lowering for %s", m.Name)
}

var compare = map[token.Token]func(a, b float64) bool{
	token.EQL: func(a, b float64) bool { return a == b },
	token.NEQ: func(a, b float64) bool { return a != b },
	token.LSS: func(a, b float64) bool { return a < b },
	token.LEQ: func(a, b float64) bool { return a <= b },
	token.GTR: func(a, b float64) bool { return a > b },
	token.GEQ: func(a, b float64) bool { return a >= b },
}

func (c *compiler) cond(e ast.Expr) (boolFn, error) {
	switch e := e.(type) {
	case *ast.ParenExpr:
		return c.cond(e.X)
	case *ast.Ident:
		switch e.Name {
		case "true":
			return func(*frame) bool { return true }, nil
		case "false":
			return func(*frame) bool { return false }, nil
		}
	case *ast.UnaryExpr:
		if e.Op == token.NOT {
			x, err := c.cond(e.X)
			if err != nil {
				return nil, err
			}
			return func(f *frame) bool { return !x(f) }, nil
		}
	case *ast.BinaryExpr:
		switch e.Op {
		case token.LAND, token.LOR:
			x, err := c.cond(e.X)
			if err != nil {
				return nil, err
			}
			y, err := c.cond(e.Y)
			if err != nil {
				return nil, err
			}
			if e.Op == token.LAND {
				return func(f *frame) bool { return x(f) && y(f) }, nil
			}
			return func(f *frame) bool { return x(f) || y(f) }, nil
		}
		if cmp, ok := compare[e.Op]; ok {
			x, err := c.num(e.X)
			if err != nil {
				return nil, err
			}
			y, err := c.num(e.Y)
			if err != nil {
				return nil, err
			}
			return func(f *frame) bool { return cmp(x(f), y(f)) }, nil
		}
	}
	return nil, c.errorf(e, "expected a boolean condition")
}

func literal(lit *ast.BasicLit) (float64, error) {
	if lit.Kind != token.INT && lit.Kind != token.FLOAT {
		return 0, fmt.Errorf("%s literal is not a number", lit.Kind)
	}
	v := constant.MakeFromLiteral(lit.Value, lit.Kind, 0)
	if v.Kind() == constant.Unknown {
		return 0, fmt.Errorf("malformed literal %s", lit.Value)
	}
	f, _ := constant.Float64Val(constant.ToFloat(v))
	return f, nil
}

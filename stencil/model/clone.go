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

import "go/ast"

// Clone returns a deep copy of a statement or expression tree, including
// stencil nodes. Positions and object links are dropped. Every node kind
// that can appear inside a function body is copied; bad nodes are shared.
func Clone(node ast.Node) ast.Node {
	switch n := node.(type) {
	case nil:
		return nil
	case ast.Stmt:
		return CloneStmt(n)
	case ast.Expr:
		return CloneExpr(n)
	default:
		return node
	}
}

// CloneBlock creates a deep copy of a block statement.
func CloneBlock(block *ast.BlockStmt) *ast.BlockStmt {
	if block == nil {
		return nil
	}
	out := &ast.BlockStmt{List: make([]ast.Stmt, len(block.List))}
	for i, stmt := range block.List {
		out.List[i] = CloneStmt(stmt)
	}
	return out
}

// CloneStmt creates a deep copy of a statement.
func CloneStmt(stmt ast.Stmt) ast.Stmt {
	if stmt == nil {
		return nil
	}

	switch s := stmt.(type) {
	case *InteriorPointsLoop:
		return &InteriorPointsLoop{
			Stmt:   s.Stmt,
			Index:  s.Index,
			Object: CloneExpr(s.Object),
			Grid:   CloneExpr(s.Grid),
			Body:   CloneBlock(s.Body),
		}
	case *NeighborPointsLoop:
		return &NeighborPointsLoop{
			Stmt:  s.Stmt,
			Level: s.Level,
			Grid:  s.Grid,
			Point: CloneExpr(s.Point),
			Index: s.Index,
			Body:  CloneBlock(s.Body),
		}
	case *ast.ExprStmt:
		return &ast.ExprStmt{X: CloneExpr(s.X)}
	case *ast.AssignStmt:
		return &ast.AssignStmt{Lhs: cloneExprs(s.Lhs), Tok: s.Tok, Rhs: cloneExprs(s.Rhs)}
	case *ast.DeclStmt:
		return &ast.DeclStmt{Decl: cloneDecl(s.Decl)}
	case *ast.ReturnStmt:
		return &ast.ReturnStmt{Results: cloneExprs(s.Results)}
	case *ast.ForStmt:
		return &ast.ForStmt{
			Init: CloneStmt(s.Init),
			Cond: CloneExpr(s.Cond),
			Post: CloneStmt(s.Post),
			Body: CloneBlock(s.Body),
		}
	case *ast.RangeStmt:
		return &ast.RangeStmt{
			Key:   CloneExpr(s.Key),
			Value: CloneExpr(s.Value),
			Tok:   s.Tok,
			X:     CloneExpr(s.X),
			Body:  CloneBlock(s.Body),
		}
	case *ast.IfStmt:
		return &ast.IfStmt{
			Init: CloneStmt(s.Init),
			Cond: CloneExpr(s.Cond),
			Body: CloneBlock(s.Body),
			Else: CloneStmt(s.Else),
		}
	case *ast.SwitchStmt:
		return &ast.SwitchStmt{
			Init: CloneStmt(s.Init),
			Tag:  CloneExpr(s.Tag),
			Body: CloneBlock(s.Body),
		}
	case *ast.CaseClause:
		body := make([]ast.Stmt, len(s.Body))
		for i, b := range s.Body {
			body[i] = CloneStmt(b)
		}
		return &ast.CaseClause{List: cloneExprs(s.List), Body: body}
	case *ast.IncDecStmt:
		return &ast.IncDecStmt{X: CloneExpr(s.X), Tok: s.Tok}
	case *ast.BranchStmt:
		return &ast.BranchStmt{Tok: s.Tok, Label: cloneIdent(s.Label)}
	case *ast.LabeledStmt:
		return &ast.LabeledStmt{Label: cloneIdent(s.Label), Stmt: CloneStmt(s.Stmt)}
	case *ast.BlockStmt:
		return CloneBlock(s)
	case *ast.EmptyStmt:
		return &ast.EmptyStmt{Implicit: s.Implicit}
	case *ast.GoStmt:
		return &ast.GoStmt{Call: cloneCall(s.Call)}
	case *ast.DeferStmt:
		return &ast.DeferStmt{Call: cloneCall(s.Call)}
	case *ast.SendStmt:
		return &ast.SendStmt{Chan: CloneExpr(s.Chan), Value: CloneExpr(s.Value)}
	case *ast.TypeSwitchStmt:
		return &ast.TypeSwitchStmt{
			Init:   CloneStmt(s.Init),
			Assign: CloneStmt(s.Assign),
			Body:   CloneBlock(s.Body),
		}
	case *ast.SelectStmt:
		return &ast.SelectStmt{Body: CloneBlock(s.Body)}
	case *ast.CommClause:
		body := make([]ast.Stmt, len(s.Body))
		for i, b := range s.Body {
			body[i] = CloneStmt(b)
		}
		return &ast.CommClause{Comm: CloneStmt(s.Comm), Body: body}
	default:
		return stmt
	}
}

// CloneExpr creates a deep copy of an expression.
func CloneExpr(expr ast.Expr) ast.Expr {
	if expr == nil {
		return nil
	}

	switch e := expr.(type) {
	case *MathFunction:
		return &MathFunction{Expr: e.Expr, Name: e.Name, Args: cloneExprs(e.Args)}
	case *ast.Ident:
		return cloneIdent(e)
	case *ast.BasicLit:
		return &ast.BasicLit{Kind: e.Kind, Value: e.Value}
	case *ast.SelectorExpr:
		return &ast.SelectorExpr{X: CloneExpr(e.X), Sel: cloneIdent(e.Sel)}
	case *ast.CallExpr:
		return &ast.CallExpr{Fun: CloneExpr(e.Fun), Args: cloneExprs(e.Args), Ellipsis: e.Ellipsis}
	case *ast.BinaryExpr:
		return &ast.BinaryExpr{X: CloneExpr(e.X), Op: e.Op, Y: CloneExpr(e.Y)}
	case *ast.UnaryExpr:
		return &ast.UnaryExpr{Op: e.Op, X: CloneExpr(e.X)}
	case *ast.ParenExpr:
		return &ast.ParenExpr{X: CloneExpr(e.X)}
	case *ast.IndexExpr:
		return &ast.IndexExpr{X: CloneExpr(e.X), Index: CloneExpr(e.Index)}
	case *ast.IndexListExpr:
		return &ast.IndexListExpr{X: CloneExpr(e.X), Indices: cloneExprs(e.Indices)}
	case *ast.SliceExpr:
		return &ast.SliceExpr{
			X:      CloneExpr(e.X),
			Low:    CloneExpr(e.Low),
			High:   CloneExpr(e.High),
			Max:    CloneExpr(e.Max),
			Slice3: e.Slice3,
		}
	case *ast.StarExpr:
		return &ast.StarExpr{X: CloneExpr(e.X)}
	case *ast.ArrayType:
		return &ast.ArrayType{Len: CloneExpr(e.Len), Elt: CloneExpr(e.Elt)}
	case *ast.CompositeLit:
		return &ast.CompositeLit{Type: CloneExpr(e.Type), Elts: cloneExprs(e.Elts)}
	case *ast.KeyValueExpr:
		return &ast.KeyValueExpr{Key: CloneExpr(e.Key), Value: CloneExpr(e.Value)}
	case *ast.TypeAssertExpr:
		return &ast.TypeAssertExpr{X: CloneExpr(e.X), Type: CloneExpr(e.Type)}
	case *ast.FuncLit:
		return &ast.FuncLit{Type: cloneFuncType(e.Type), Body: CloneBlock(e.Body)}
	case *ast.FuncType:
		return cloneFuncType(e)
	case *ast.MapType:
		return &ast.MapType{Key: CloneExpr(e.Key), Value: CloneExpr(e.Value)}
	case *ast.ChanType:
		return &ast.ChanType{Dir: e.Dir, Value: CloneExpr(e.Value)}
	case *ast.Ellipsis:
		return &ast.Ellipsis{Elt: CloneExpr(e.Elt)}
	case *ast.StructType:
		return &ast.StructType{Fields: cloneFields(e.Fields)}
	case *ast.InterfaceType:
		return &ast.InterfaceType{Methods: cloneFields(e.Methods)}
	default:
		return expr
	}
}

func cloneCall(call *ast.CallExpr) *ast.CallExpr {
	if call == nil {
		return nil
	}
	return CloneExpr(call).(*ast.CallExpr)
}

func cloneFuncType(ft *ast.FuncType) *ast.FuncType {
	if ft == nil {
		return nil
	}
	return &ast.FuncType{
		TypeParams: cloneFields(ft.TypeParams),
		Params:     cloneFields(ft.Params),
		Results:    cloneFields(ft.Results),
	}
}

func cloneFields(fl *ast.FieldList) *ast.FieldList {
	if fl == nil {
		return nil
	}
	out := &ast.FieldList{List: make([]*ast.Field, len(fl.List))}
	for i, f := range fl.List {
		names := make([]*ast.Ident, len(f.Names))
		for j, n := range f.Names {
			names[j] = cloneIdent(n)
		}
		var tag *ast.BasicLit
		if f.Tag != nil {
			tag = &ast.BasicLit{Kind: f.Tag.Kind, Value: f.Tag.Value}
		}
		out.List[i] = &ast.Field{Names: names, Type: CloneExpr(f.Type), Tag: tag}
	}
	return out
}

func cloneIdent(id *ast.Ident) *ast.Ident {
	if id == nil {
		return nil
	}
	return &ast.Ident{Name: id.Name}
}

func cloneExprs(list []ast.Expr) []ast.Expr {
	if list == nil {
		return nil
	}
	out := make([]ast.Expr, len(list))
	for i, e := range list {
		out[i] = CloneExpr(e)
	}
	return out
}

func cloneDecl(decl ast.Decl) ast.Decl {
	d, ok := decl.(*ast.GenDecl)
	if !ok {
		return decl
	}
	specs := make([]ast.Spec, len(d.Specs))
	for i, spec := range d.Specs {
		specs[i] = cloneSpec(spec)
	}
	return &ast.GenDecl{Tok: d.Tok, Specs: specs}
}

func cloneSpec(spec ast.Spec) ast.Spec {
	switch s := spec.(type) {
	case *ast.ValueSpec:
		names := make([]*ast.Ident, len(s.Names))
		for i, n := range s.Names {
			names[i] = cloneIdent(n)
		}
		return &ast.ValueSpec{Names: names, Type: CloneExpr(s.Type), Values: cloneExprs(s.Values)}
	case *ast.TypeSpec:
		return &ast.TypeSpec{
			Name:       cloneIdent(s.Name),
			TypeParams: cloneFields(s.TypeParams),
			Assign:     s.Assign,
			Type:       CloneExpr(s.Type),
		}
	}
	return spec
}

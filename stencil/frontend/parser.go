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

package frontend

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
)

var (
	// ErrNoKernel is returned when the source has no function with the
	// requested name.
	ErrNoKernel = errors.New("kernel function not found")

	// ErrNoBody is returned when the kernel function is declared without a
	// body.
	ErrNoBody = errors.New("kernel function has no body")
)

// ParsedKernel is a kernel function extracted from Go source.
type ParsedKernel struct {
	Name     string         // function name
	Receiver string         // receiver name; empty for plain functions
	Params   []string       // grid parameter names, inputs then output
	Body     *ast.BlockStmt // untranslated body
	Doc      *ast.CommentGroup
	FileSet  *token.FileSet
}

// ParseFile reads filename and extracts the function named funcName.
func ParseFile(filename, funcName string) (*ParsedKernel, error) {
	src, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read kernel: %w", err)
	}
	return parseSource(filename, src, funcName)
}

// ParseSource extracts the function named funcName from Go source text.
// A source without a package clause is treated as the contents of a file in
// package kernel.
func ParseSource(src []byte, funcName string) (*ParsedKernel, error) {
	return parseSource("kernel.go", src, funcName)
}

func parseSource(filename string, src []byte, funcName string) (*ParsedKernel, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		// Retry as a bare declaration list.
		wrapped := append([]byte("package kernel\n\n"), src...)
		var werr error
		file, werr = parser.ParseFile(fset, filename, wrapped, parser.ParseComments)
		if werr != nil {
			return nil, fmt.Errorf("parse kernel: %w", err)
		}
	}

	for _, decl := range file.Decls {
		funcDecl, ok := decl.(*ast.FuncDecl)
		if !ok || funcDecl.Name.Name != funcName {
			continue
		}
		if funcDecl.Body == nil {
			return nil, fmt.Errorf("%s: %w", funcName, ErrNoBody)
		}

		pk := &ParsedKernel{
			Name:    funcName,
			Body:    funcDecl.Body,
			Doc:     funcDecl.Doc,
			FileSet: fset,
		}
		if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
			if names := funcDecl.Recv.List[0].Names; len(names) > 0 {
				pk.Receiver = names[0].Name
			}
		}
		for _, field := range funcDecl.Type.Params.List {
			if len(field.Names) == 0 {
				return nil, fmt.Errorf("%s: grid parameters must be named", funcName)
			}
			for _, name := range field.Names {
				pk.Params = append(pk.Params, name.Name)
			}
		}
		return pk, nil
	}
	return nil, fmt.Errorf("%s: %w", funcName, ErrNoKernel)
}

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
	"go/ast"
	"os"
	"path/filepath"
	"testing"

	"github.com/ajroetker/go-stencil/stencil/model"
	"github.com/google/go-cmp/cmp"
)

const laplacian = `package kernels

type Laplacian struct{}

// Kernel is the five-point Laplacian.
func (k *Laplacian) Kernel(in, out Grid) {
	for x := range k.InteriorPoints(out) {
		out[x] = -4 * in[x]
		for y := range in.Neighbors(x, 1) {
			out[x] += in[y]
		}
	}
}
`

func mustParse(t *testing.T, src string) *ParsedKernel {
	t.Helper()
	pk, err := ParseSource([]byte(src), "Kernel")
	if err != nil {
		t.Fatalf("ParseSource: %v", err)
	}
	return pk
}

func TestParseSource(t *testing.T) {
	pk := mustParse(t, laplacian)
	if pk.Receiver != "k" {
		t.Errorf("Receiver = %q, want k", pk.Receiver)
	}
	if diff := cmp.Diff([]string{"in", "out"}, pk.Params); diff != "" {
		t.Errorf("Params mismatch (-want +got):\n%s", diff)
	}
	if pk.Doc == nil {
		t.Error("doc comment not captured")
	}
}

func TestParseBareDeclarations(t *testing.T) {
	src := `func Kernel(a, b, out Grid) {
	for x := range InteriorPoints(out) {}
}`
	pk := mustParse(t, src)
	if diff := cmp.Diff([]string{"a", "b", "out"}, pk.Params); diff != "" {
		t.Errorf("Params mismatch (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"missing", "package p\nfunc Other(a, b G) {}\n", ErrNoKernel},
		{"no body", "package p\nfunc Kernel(a, b G)\n", ErrNoBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSource([]byte(tt.src), "Kernel")
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := ParseSource([]byte("func Kernel( {"), "Kernel"); err == nil {
		t.Error("accepted unparsable source")
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lap.go")
	if err := os.WriteFile(path, []byte(laplacian), 0o644); err != nil {
		t.Fatal(err)
	}
	pk, err := ParseFile(path, "Kernel")
	if err != nil {
		t.Fatal(err)
	}
	if pk.Name != "Kernel" {
		t.Errorf("Name = %q", pk.Name)
	}
	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.go"), "Kernel"); err == nil {
		t.Error("ParseFile accepted a missing file")
	}
}

func TestTranslateNeighborRoundTrip(t *testing.T) {
	pk := mustParse(t, `package p
func Kernel(G, out Grid) {
	for p := range G.Neighbors(x, 1) {
		out[x] += distance(p, x)
	}
}`)
	body := TranslateBody(pk.Body)
	loop, ok := body.List[0].(*model.NeighborPointsLoop)
	if !ok {
		t.Fatalf("got %T, want *model.NeighborPointsLoop", body.List[0])
	}
	if loop.Level != 1 || loop.Grid != "G" || loop.Index != "p" || loop.PointName() != "x" {
		t.Errorf("loop = level %d grid %q index %q point %q", loop.Level, loop.Grid, loop.Index, loop.PointName())
	}

	// The body was translated too.
	assign := loop.Body.List[0].(*ast.AssignStmt)
	if _, ok := assign.Rhs[0].(*model.MathFunction); !ok {
		t.Errorf("body call is %T, want *model.MathFunction", assign.Rhs[0])
	}

	// Lowering re-derives the original loop.
	want, err := model.Format(model.Clone(pk.Body))
	if err != nil {
		t.Fatal(err)
	}
	got, err := model.Format(body)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestTranslateLeavesInputUntouched(t *testing.T) {
	pk := mustParse(t, laplacian)
	TranslateBody(pk.Body)
	if _, ok := pk.Body.List[0].(*ast.RangeStmt); !ok {
		t.Errorf("Translate modified its input: %T", pk.Body.List[0])
	}
}

func TestTranslateKernel(t *testing.T) {
	k, err := mustParse(t, laplacian).Kernel()
	if err != nil {
		t.Fatal(err)
	}
	if k.Output != "out" || len(k.Inputs) != 1 || k.Inputs[0] != "in" {
		t.Errorf("params: inputs %v output %q", k.Inputs, k.Output)
	}
	want := []string{
		"InteriorPointsLoop x over out",
		"  NeighborPointsLoop y in in.Neighbors(x, 1)",
	}
	if diff := cmp.Diff(want, model.Summary(k.Body)); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	if _, err := mustParse(t, "package p\nfunc Kernel(out Grid) {}\n").Kernel(); !errors.Is(err, ErrTooFewGrids) {
		t.Errorf("got %v, want ErrTooFewGrids", err)
	}
}

func TestTranslatePassThrough(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"non-constant level", "for y := range in.Neighbors(x, lvl) { s++ }"},
		{"negative level", "for y := range in.Neighbors(x, -1) { s++ }"},
		{"computed grid", "for y := range grids[0].Neighbors(x, 1) { s++ }"},
		{"key and value", "for i, y := range k.InteriorPoints(out) { s++ }"},
		{"plain range", "for i := range items { s++ }"},
		{"classic loop", "for i := 0; i < n; i++ { s += sqrt(i) }"},
		{"other method", "for y := range in.Points(x) { s++ }"},
		{"plain call with two grids", "for x := range InteriorPoints(in, out) { s++ }"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pk := mustParse(t, "package p\nfunc Kernel(in, out Grid) {\n"+tt.body+"\n}\n")
			body := TranslateBody(pk.Body)
			if lines := model.Summary(body); len(lines) != 0 {
				t.Errorf("unexpected stencil nodes: %v", lines)
			}
			want, _ := model.Format(model.Clone(pk.Body))
			got, _ := model.Format(body)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("pass-through changed source (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTranslateMathFunctions(t *testing.T) {
	pk := mustParse(t, `package p
func Kernel(in, out Grid) {
	v := int(distance(a, b)) + float(c)
}`)
	lines := model.Summary(TranslateBody(pk.Body))
	want := []string{
		"MathFunction int/1",
		"  MathFunction distance/2",
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestTranslatePlainInteriorPoints(t *testing.T) {
	pk := mustParse(t, `func Kernel(in, out Grid) {
	for x := range InteriorPoints(out) {
		out[x] = -4 * in[x]
		for y := range in.Neighbors(x, 1) {
			out[x] += in[y]
		}
	}
}`)
	if pk.Receiver != "" {
		t.Errorf("Receiver = %q, want none", pk.Receiver)
	}
	k, err := pk.Kernel()
	if err != nil {
		t.Fatal(err)
	}
	loop, ok := k.Body.List[0].(*model.InteriorPointsLoop)
	if !ok {
		t.Fatalf("got %T, want *model.InteriorPointsLoop", k.Body.List[0])
	}
	if loop.Object != nil {
		t.Errorf("Object = %v, want nil", loop.Object)
	}
	want := []string{
		"InteriorPointsLoop x over out",
		"  NeighborPointsLoop y in in.Neighbors(x, 1)",
	}
	if diff := cmp.Diff(want, model.Summary(k.Body)); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	wantSrc, err := model.Format(model.Clone(pk.Body))
	if err != nil {
		t.Fatal(err)
	}
	gotSrc, err := model.Format(k.Body)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(wantSrc, gotSrc); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

// closures holds every construct whose children the translator rewrites
// inside a node kind other than a plain statement or expression.
const closures = `package p
func Kernel(in, out Grid) {
	for x := range InteriorPoints(out) {
		f := func(y Point) float64 { return distance(x, y) }
		switch v := any(in).(type) {
		case Grid:
			out[x] = f(x)
		}
		defer done(distance(x, x))
		go func() { ch <- int(x) }()
		select {
		case ch <- distance(x, x):
		default:
		}
	}
}`

func TestTranslateTwice(t *testing.T) {
	pk := mustParse(t, closures)
	before, err := model.Format(pk.Body)
	if err != nil {
		t.Fatal(err)
	}

	first := TranslateBody(pk.Body)
	if lines := model.Summary(pk.Body); len(lines) != 0 {
		t.Fatalf("Translate rewrote its input: %v", lines)
	}
	second := TranslateBody(pk.Body)

	want := []string{
		"InteriorPointsLoop x over out",
		"  MathFunction distance/2",
		"  MathFunction distance/2",
		"  MathFunction int/1",
		"  MathFunction distance/2",
	}
	for i, body := range []*ast.BlockStmt{first, second} {
		if diff := cmp.Diff(want, model.Summary(body)); diff != "" {
			t.Errorf("translation %d summary mismatch (-want +got):\n%s", i+1, diff)
		}
	}

	after, err := model.Format(pk.Body)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("input changed (-before +after):\n%s", diff)
	}
	got, err := model.Format(second)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(before, got); diff != "" {
		t.Errorf("second translation does not lower back (-want +got):\n%s", diff)
	}
}

func TestTranslateDeferredMathFunction(t *testing.T) {
	pk := mustParse(t, "package p\nfunc Kernel(in, out Grid) {\n\tdefer distance(a, b)\n\tgo int(c)\n}\n")
	if lines := model.Summary(TranslateBody(pk.Body)); len(lines) != 0 {
		t.Errorf("go and defer calls were rewritten: %v", lines)
	}
}

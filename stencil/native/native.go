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

// Package native wraps compiled sequential and CPU-parallel kernels.
//
// A Wrapper owns one output grid for its whole life. Every Invoke writes
// into that same grid and returns it, so a result is only valid until the
// next call on the same Wrapper. Clone the result to keep a snapshot.
// A Wrapper must not be invoked concurrently.
package native

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajroetker/go-stencil/stencil/grid"
)

// EntryPoint is the name every emitted unit exposes.
const EntryPoint = "stencil_kernel"

// ParamKind tells what a signature slot carries.
type ParamKind int

const (
	Input ParamKind = iota
	Output
	Timing
)

func (k ParamKind) String() string {
	switch k {
	case Input:
		return "input"
	case Output:
		return "output"
	case Timing:
		return "timing"
	default:
		return fmt.Sprintf("ParamKind(%d)", int(k))
	}
}

// Param is one entry-point parameter.
type Param struct {
	Name string
	Kind ParamKind
	Desc grid.Descriptor // zero for Timing
}

// Signature is the ordered parameter list of an entry point: one input per
// configuration descriptor, the output, then the timing destination.
type Signature []Param

// NewSignature builds the signature for the given input names and
// descriptors. out describes the output grid.
func NewSignature(names []string, inputs []grid.Descriptor, outName string, out grid.Descriptor) Signature {
	sig := make(Signature, 0, len(inputs)+2)
	for i, d := range inputs {
		name := fmt.Sprintf("in%d", i)
		if i < len(names) {
			name = names[i]
		}
		sig = append(sig, Param{Name: name, Kind: Input, Desc: d})
	}
	sig = append(sig, Param{Name: outName, Kind: Output, Desc: out})
	return append(sig, Param{Name: "elapsed", Kind: Timing})
}

// Inputs returns the input parameters.
func (s Signature) Inputs() []Param {
	var in []Param
	for _, p := range s {
		if p.Kind == Input {
			in = append(in, p)
		}
	}
	return in
}

// Output returns the output parameter.
func (s Signature) Output() (Param, bool) {
	for _, p := range s {
		if p.Kind == Output {
			return p, true
		}
	}
	return Param{}, false
}

// String renders the signature as a Go-like function type.
func (s Signature) String() string {
	parts := make([]string, len(s))
	for i, p := range s {
		switch p.Kind {
		case Timing:
			parts[i] = p.Name + " *time.Duration"
		default:
			parts[i] = fmt.Sprintf("%s %s", p.Name, p.Desc)
		}
	}
	return "func " + EntryPoint + "(" + strings.Join(parts, ", ") + ")"
}

// Func is a compiled entry point. It reads inputs, writes out in place and
// stores the kernel's own measured run time in elapsed.
type Func func(inputs []*grid.Grid, out *grid.Grid, elapsed *time.Duration) error

// Wrapper adapts a compiled Func into a callable that reuses one output
// grid across calls.
type Wrapper struct {
	fn      Func
	sig     Signature
	out     *grid.Grid
	elapsed time.Duration
	calls   int
}

// NewWrapper binds fn to its signature and allocates the persistent output
// grid described by the signature's output parameter.
func NewWrapper(fn Func, sig Signature) (*Wrapper, error) {
	if fn == nil {
		return nil, fmt.Errorf("native: nil function")
	}
	outParam, ok := sig.Output()
	if !ok {
		return nil, fmt.Errorf("native: signature %s has no output", sig)
	}
	return &Wrapper{
		fn:  fn,
		sig: sig,
		out: grid.New(outParam.Desc.DType, outParam.Desc.Shape...),
	}, nil
}

// Invoke runs the kernel synchronously and returns the persistent output
// grid. The grid is mutated in place by every call.
func (w *Wrapper) Invoke(inputs ...*grid.Grid) (*grid.Grid, error) {
	want := w.sig.Inputs()
	if len(inputs) != len(want) {
		return nil, fmt.Errorf("native: got %d inputs, signature wants %d", len(inputs), len(want))
	}
	for i, in := range inputs {
		if d := in.Descriptor(); !d.Equal(want[i].Desc) {
			return nil, fmt.Errorf("native: input %d is %s, signature wants %s", i, d, want[i].Desc)
		}
	}
	w.elapsed = 0
	if err := w.fn(inputs, w.out, &w.elapsed); err != nil {
		return nil, err
	}
	w.calls++
	return w.out, nil
}

// Output returns the persistent output grid.
func (w *Wrapper) Output() *grid.Grid { return w.out }

// Signature returns the bound signature.
func (w *Wrapper) Signature() Signature { return w.sig }

// LastDuration returns the run time reported by the most recent call.
func (w *Wrapper) LastDuration() time.Duration { return w.elapsed }

// Calls returns the number of successful invocations.
func (w *Wrapper) Calls() int { return w.calls }

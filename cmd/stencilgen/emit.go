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

package main

import (
	"fmt"

	"github.com/ajroetker/go-stencil/stencil"
	"github.com/ajroetker/go-stencil/stencil/backend/closure"
	"github.com/ajroetker/go-stencil/stencil/backend/wgsl"
	"github.com/ajroetker/go-stencil/stencil/grid"
	"github.com/ajroetker/go-stencil/stencil/native"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

type emitOptions struct {
	target string
	shape  string
	dtype  string
}

func newEmitCmd(opts *rootOptions) *cobra.Command {
	eo := &emitOptions{}
	cmd := &cobra.Command{
		Use:     "emit",
		Aliases: []string{"wgsl"},
		Short:   "Print the program emitted for one grid configuration",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := eo.emit(opts)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(u.Source)
			return err
		},
	}
	cmd.Flags().StringVar(&eo.target, "target", "wgsl", "wgsl, sequential or parallel")
	cmd.Flags().StringVar(&eo.shape, "shape", "64x64", "grid shape, e.g. 64x64")
	cmd.Flags().StringVar(&eo.dtype, "dtype", "float32", "element type of every grid")
	return cmd
}

func (eo *emitOptions) emit(opts *rootOptions) (*stencil.Unit, error) {
	def, err := opts.definition()
	if err != nil {
		return nil, err
	}
	shape, err := grid.ParseShape(eo.shape)
	if err != nil {
		return nil, fmt.Errorf("--shape: %w", err)
	}
	dtype, err := grid.ParseDType(eo.dtype)
	if err != nil {
		return nil, fmt.Errorf("--dtype: %w", err)
	}
	var e stencil.Emitter
	switch eo.target {
	case "wgsl":
		e = wgsl.Emitter{}
	case "sequential":
		e = closure.Sequential()
	case "parallel":
		e = closure.Parallel(closure.Static)
	default:
		return nil, fmt.Errorf("--target: unknown target %q", eo.target)
	}

	k, err := def.Translate()
	if err != nil {
		return nil, err
	}
	descs := lo.Times(len(k.Inputs), func(int) grid.Descriptor { return grid.Describe(dtype, shape) })
	cfg := stencil.Configuration{Inputs: descs, Output: descs[0]}
	return e.Emit(k, cfg, native.NewSignature(k.Inputs, descs, k.Output, cfg.Output))
}

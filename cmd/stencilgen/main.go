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

// Command stencilgen translates stencil kernels, prints the programs
// emitted for them and runs them on the available backends.
//
// Usage:
//
//	stencilgen translate -i laplacian.go
//	stencilgen translate -i laplacian.go --dot | dot -Tsvg > kernel.svg
//	stencilgen emit -i laplacian.go --shape 64x64                # WGSL, float32
//	stencilgen emit -i laplacian.go --target parallel --dtype f64
//	stencilgen run -i laplacian.go --shape 256x256 --backend parallel --iters 10
//
// The kernel file holds ordinary Go source with a function (default
// "Kernel") whose parameters are the grids: inputs first, output last.
// run reads the STENCIL_* environment variables; its flags override them.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/ajroetker/go-stencil/stencil"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions are the flags shared by every command.
type rootOptions struct {
	input     string
	funcName  string
	ghost     int
	constants map[string]string
	verbose   bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "stencilgen",
		Short:        "Translate, emit and run stencil kernels",
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.input, "input", "i", "", "kernel source file (required)")
	flags.StringVar(&opts.funcName, "func", stencil.DefaultFunc, "kernel function or method name")
	flags.IntVar(&opts.ghost, "ghost", 0, "ghost depth, 0 means 1")
	flags.StringToStringVar(&opts.constants, "const", nil, "kernel constants, e.g. --const alpha=0.2,beta=1")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log specialization events to stderr")
	_ = root.MarkPersistentFlagRequired("input")

	root.AddCommand(newTranslateCmd(opts), newEmitCmd(opts), newRunCmd(opts))
	return root
}

// definition loads the kernel named by the flags.
func (o *rootOptions) definition() (*stencil.Definition, error) {
	consts := make(map[string]float64, len(o.constants))
	for name, val := range o.constants {
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("--const %s: %w", name, err)
		}
		consts[name] = v
	}
	return stencil.ReadDefinition(o.input, stencil.Definition{Func: o.funcName, GhostDepth: o.ghost, Constants: consts})
}

// logger logs to w at Debug when --verbose is set, otherwise only warnings.
func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

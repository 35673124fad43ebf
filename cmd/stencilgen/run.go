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
	"time"

	"github.com/ajroetker/go-stencil/stencil"
	"github.com/ajroetker/go-stencil/stencil/backend/closure"
	"github.com/ajroetker/go-stencil/stencil/backends"
	"github.com/ajroetker/go-stencil/stencil/grid"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type runOptions struct {
	shape    string
	dtype    string
	backend  string
	schedule string
	workers  int
	iters    int
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	ro := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a kernel on deterministic input and report timings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := ro.env(cmd)
			if err != nil {
				return err
			}
			return ro.run(cmd, opts, env)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&ro.shape, "shape", "256x256", "grid shape")
	flags.StringVar(&ro.dtype, "dtype", "float64", "element type of every grid")
	flags.StringVar(&ro.backend, "backend", "parallel", "sequential, parallel or gpu")
	flags.StringVar(&ro.schedule, "schedule", "static", "parallel schedule: static or dynamic")
	flags.IntVar(&ro.workers, "workers", 0, "parallel worker count, 0 means GOMAXPROCS")
	flags.IntVar(&ro.iters, "iters", 10, "number of invocations")
	return cmd
}

// env starts from the environment and applies the flags set explicitly.
func (ro *runOptions) env(cmd *cobra.Command) (backends.Env, error) {
	env, err := backends.FromEnv()
	if err != nil {
		return env, err
	}
	flags := cmd.Flags()
	if flags.Changed("backend") {
		if env.Kind, err = stencil.ParseBackendKind(ro.backend); err != nil {
			return env, fmt.Errorf("--backend: %w", err)
		}
	}
	if flags.Changed("workers") {
		env.Workers = ro.workers
	}
	if flags.Changed("schedule") {
		switch ro.schedule {
		case "static":
			env.Schedule = closure.Static
		case "dynamic":
			env.Schedule = closure.Dynamic
		default:
			return env, fmt.Errorf("--schedule: unknown schedule %q", ro.schedule)
		}
	}
	return env, nil
}

func (ro *runOptions) run(cmd *cobra.Command, opts *rootOptions, env backends.Env) (err error) {
	if ro.iters < 1 {
		return fmt.Errorf("--iters must be at least 1, got %d", ro.iters)
	}
	shape, err := grid.ParseShape(ro.shape)
	if err != nil {
		return fmt.Errorf("--shape: %w", err)
	}
	dtype, err := grid.ParseDType(ro.dtype)
	if err != nil {
		return fmt.Errorf("--dtype: %w", err)
	}
	def, err := opts.definition()
	if err != nil {
		return err
	}

	logger := opts.logger(cmd.ErrOrStderr())
	b, release, err := env.New()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := release(); err == nil {
			err = rerr
		}
	}()
	ctl, err := stencil.New(def, b, append(env.ControllerOptions(), stencil.WithLogger(logger))...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ctl.Close(); err == nil {
			err = cerr
		}
	}()

	inputs := make([]*grid.Grid, len(def.Inputs()))
	for i := range inputs {
		inputs[i] = deterministic(dtype, shape, i)
	}

	var out *grid.Grid
	var first, rest time.Duration
	for i := range ro.iters {
		start := time.Now()
		if out, err = ctl.Invoke(inputs...); err != nil {
			return err
		}
		elapsed := time.Since(start)
		logger.Info("invocation", "iteration", i, "elapsed", elapsed)
		if i == 0 {
			first = elapsed
		} else {
			rest += elapsed
		}
	}

	stats := ctl.Stats()
	p := message.NewPrinter(language.English)
	w := cmd.OutOrStdout()
	p.Fprintf(w, "%s backend, %v %v, ghost depth %d\n",
		cases.Title(language.English).String(b.Kind().String()), dtype, shape, def.Ghost())
	p.Fprintf(w, "interior points: %d\n", grid.InteriorCount(shape, def.Ghost()))
	p.Fprintf(w, "first call: %v\n", first)
	if ro.iters > 1 {
		p.Fprintf(w, "mean call:  %v over %d calls\n", rest/time.Duration(ro.iters-1), ro.iters-1)
	}
	p.Fprintf(w, "kernel time: %v mean, %v last\n", stats.KernelTime/time.Duration(ro.iters), ctl.LastDuration())
	p.Fprintf(w, "builds %d, hits %d, evictions %d\n", stats.Builds, stats.Hits, stats.Evictions)
	p.Fprintf(w, "checksum: %.6f\n", checksum(out))
	return nil
}

// deterministic fills a grid with a fixed pattern that differs per input.
func deterministic(dtype grid.DType, shape []int, seed int) *grid.Grid {
	g := grid.New(dtype, shape...)
	for i := range g.Len() {
		v := float64((i*7919+seed*104729)%1000) / 100
		if !dtype.IsFloat() {
			v *= 100
		}
		g.SetFlat(i, v)
	}
	return g
}

func checksum(g *grid.Grid) float64 {
	var sum float64
	for i := range g.Len() {
		sum += g.AtFlat(i)
	}
	return sum
}

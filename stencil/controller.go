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

package stencil

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ajroetker/go-stencil/stencil/gpu"
	"github.com/ajroetker/go-stencil/stencil/grid"
	"github.com/ajroetker/go-stencil/stencil/model"
	"github.com/ajroetker/go-stencil/stencil/native"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Stats counts controller activity. Evictions counts every released
// specialization, including those released by Close.
type Stats struct {
	Invocations int
	Builds      int
	Hits        int
	Evictions   int

	// KernelTime sums the run time of every successful call, excluding
	// specialization. Native kernels time themselves; device calls are
	// timed around upload, launch and readback.
	KernelTime time.Duration
}

// Controller specializes one kernel definition on demand and runs it.
//
// Each call derives a Configuration from its inputs. A retained
// specialization with an equal configuration is reused; otherwise the
// kernel is translated, emitted, compiled and wrapped again, and the new
// specialization is retained. When the store is full the least recently
// used specialization is released. With the default store of one, a miss
// releases the retained specialization before building its replacement; a
// failed build then leaves the store empty.
//
// Results alias a per-specialization output grid that the next call with
// the same configuration overwrites. A Controller is not safe for
// concurrent use.
type Controller struct {
	def     *Definition
	backend Backend
	logger  *slog.Logger
	testing bool

	cacheSize int
	cache     *lru.Cache[string, *specialization]
	stats     Stats
	lastUnit  *Unit
	lastRun   time.Duration

	releaseErrs []error
	closed      bool
}

// specialization is the compiled artifact for one configuration. Exactly
// one of wrapper and runtime is set.
type specialization struct {
	config  Configuration
	unit    *Unit
	wrapper *native.Wrapper
	runtime *gpu.Runtime
}

func (s *specialization) release() error {
	if s.runtime != nil {
		return s.runtime.Close()
	}
	return nil
}

// New wraps def in a Controller that specializes it for backend.
// The backend cannot change afterwards.
func New(def *Definition, backend Backend, opts ...Option) (*Controller, error) {
	if def == nil {
		return nil, newError(KindDefinition, "New", "nil kernel definition", nil)
	}
	if def.parsed == nil {
		var err error
		if def, err = NewDefinition(*def); err != nil {
			return nil, err
		}
	}
	if err := checkBackend(backend); err != nil {
		return nil, err
	}

	c := &Controller{
		def:       def,
		backend:   backend,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		cacheSize: 1,
	}
	for _, opt := range opts {
		opt(c)
	}

	cache, err := lru.NewWithEvict(c.cacheSize, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("stencil: specialization cache: %w", err)
	}
	c.cache = cache
	return c, nil
}

func checkBackend(b Backend) error {
	const op = "New"
	switch b := b.(type) {
	case Sequential:
		if b.Emitter == nil || b.Toolchain == nil {
			return newError(KindInvalidArgument, op, "sequential backend needs an emitter and a toolchain", nil)
		}
	case CPUParallel:
		if b.Emitter == nil || b.Toolchain == nil {
			return newError(KindInvalidArgument, op, "parallel backend needs an emitter and a toolchain", nil)
		}
	case GPU:
		if b.Emitter == nil || b.Toolchain == nil || b.Driver == nil {
			return newError(KindInvalidArgument, op, "gpu backend needs an emitter, a toolchain and a driver", nil)
		}
	default:
		return newError(KindInvalidArgument, op, fmt.Sprintf("unsupported backend %T", b), nil)
	}
	return nil
}

func (c *Controller) onEvict(key string, s *specialization) {
	c.stats.Evictions++
	c.logger.Debug("specialization released", "kernel", c.def.Name, "config", key)
	if err := s.release(); err != nil {
		c.logger.Warn("specialization release failed", "kernel", c.def.Name, "config", key, "err", err)
		c.releaseErrs = append(c.releaseErrs, err)
	}
}

// Definition returns the wrapped kernel definition.
func (c *Controller) Definition() *Definition { return c.def }

// Backend returns the backend chosen at construction.
func (c *Controller) Backend() Backend { return c.backend }

// Stats returns the activity counters.
func (c *Controller) Stats() Stats { return c.stats }

// Len returns the number of retained specializations.
func (c *Controller) Len() int { return c.cache.Len() }

// LastDuration returns the run time of the most recent successful call.
func (c *Controller) LastDuration() time.Duration { return c.lastRun }

// LastUnit returns the most recently emitted unit when the controller was
// built WithTesting, and nil otherwise.
func (c *Controller) LastUnit() *Unit { return c.lastUnit }

// Invoke runs the kernel on inputs, specializing it first if no retained
// specialization matches their configuration. The returned grid is owned
// by the specialization and is overwritten by its next call.
func (c *Controller) Invoke(inputs ...*grid.Grid) (*grid.Grid, error) {
	const op = "Invoke"
	if c.closed {
		return nil, newError(KindInvalidArgument, op, "controller is closed", nil)
	}
	if err := c.checkInputs(inputs); err != nil {
		return nil, err
	}
	c.stats.Invocations++

	cfg := Configure(inputs)
	key := cfg.Key()
	spec, ok := c.cache.Get(key)
	if ok && !spec.config.Equal(cfg) {
		c.cache.Remove(key)
		ok = false
	}
	if ok {
		c.stats.Hits++
		c.logger.Debug("specialization reused", "kernel", c.def.Name, "config", key)
	} else {
		// With a single slot the old specialization is released before the
		// new one is built, so at most one device context exists at a time.
		if c.cacheSize == 1 {
			c.cache.Purge()
		}
		start := time.Now()
		var err error
		spec, err = c.build(cfg)
		if err != nil {
			return nil, err
		}
		c.stats.Builds++
		c.cache.Add(key, spec)
		c.logger.Debug("specialization built", "kernel", c.def.Name, "backend", c.backend.Kind().String(),
			"config", key, "duration", time.Since(start))
	}

	var out *grid.Grid
	if spec.wrapper != nil {
		var err error
		if out, err = spec.wrapper.Invoke(inputs...); err != nil {
			return nil, newError(KindExecution, op, c.def.Name, err)
		}
		c.lastRun = spec.wrapper.LastDuration()
	} else {
		start := time.Now()
		var err error
		if out, err = spec.runtime.Invoke(inputs...); err != nil {
			return nil, newError(KindDevice, op, c.def.Name, err)
		}
		c.lastRun = time.Since(start)
	}
	c.stats.KernelTime += c.lastRun
	c.logger.Debug("kernel ran", "kernel", c.def.Name, "duration", c.lastRun)
	return out, nil
}

func (c *Controller) checkInputs(inputs []*grid.Grid) error {
	const op = "Invoke"
	if len(inputs) == 0 {
		return newError(KindInvalidArgument, op, "at least one input grid is required", nil)
	}
	if want := len(c.def.Inputs()); len(inputs) != want {
		return newError(KindInvalidArgument, op, fmt.Sprintf("kernel %s takes %d inputs, got %d", c.def.Name, want, len(inputs)), nil)
	}
	for i, in := range inputs {
		if in == nil {
			return newError(KindInvalidArgument, op, fmt.Sprintf("input %d is nil", i), nil)
		}
		if in.Rank() != inputs[0].Rank() {
			return newError(KindInvalidArgument, op, fmt.Sprintf("input %d has rank %d, input 0 has rank %d", i, in.Rank(), inputs[0].Rank()), nil)
		}
	}
	return nil
}

// build produces a specialization for cfg. Partially created device
// resources are released on failure.
func (c *Controller) build(cfg Configuration) (*specialization, error) {
	const op = "build"
	k, err := c.def.Translate()
	if err != nil {
		return nil, err
	}
	if err := checkReach(k, cfg.Rank()); err != nil {
		return nil, newError(KindDefinition, op, c.def.Name, err)
	}
	sig := native.NewSignature(k.Inputs, cfg.Inputs, k.Output, cfg.Output)

	switch b := c.backend.(type) {
	case Sequential:
		return c.buildNative(b.Emitter, b.Toolchain, k, cfg, sig)
	case CPUParallel:
		return c.buildNative(b.Emitter, b.Toolchain, k, cfg, sig)
	case GPU:
		return c.buildDevice(b, k, cfg, sig)
	}
	return nil, newError(KindInvalidArgument, op, fmt.Sprintf("unsupported backend %T", c.backend), nil)
}

func (c *Controller) emit(e Emitter, k *model.Kernel, cfg Configuration, sig native.Signature) (*Unit, error) {
	unit, err := e.Emit(k, cfg, sig)
	if err != nil {
		return nil, newError(KindCompilation, "emit", c.def.Name, err)
	}
	if unit.EntryPoint == "" {
		unit.EntryPoint = native.EntryPoint
	}
	if c.testing {
		c.lastUnit = unit
	}
	return unit, nil
}

func (c *Controller) buildNative(e Emitter, tc NativeToolchain, k *model.Kernel, cfg Configuration, sig native.Signature) (*specialization, error) {
	unit, err := c.emit(e, k, cfg, sig)
	if err != nil {
		return nil, err
	}
	fn, err := tc.Compile(unit, sig)
	if err != nil {
		return nil, newError(KindCompilation, "compile", c.def.Name, err)
	}
	w, err := native.NewWrapper(fn, sig)
	if err != nil {
		return nil, newError(KindCompilation, "wrap", c.def.Name, err)
	}
	return &specialization{config: cfg, unit: unit, wrapper: w}, nil
}

func (c *Controller) buildDevice(b GPU, k *model.Kernel, cfg Configuration, sig native.Signature) (*specialization, error) {
	rt, err := gpu.New(b.Driver, gpu.WithLogger(c.logger))
	if err != nil {
		return nil, newError(KindDevice, "bind device", c.def.Name, err)
	}
	unit, err := c.emit(b.Emitter, k, cfg, sig)
	if err != nil {
		return nil, errors.Join(err, rt.Close())
	}
	kern, err := b.Toolchain.Compile(rt.Context(), unit)
	if err != nil {
		return nil, errors.Join(newError(KindCompilation, "compile", c.def.Name, err), rt.Close())
	}
	ghost := k.GhostDepth
	if err := rt.Finalize(kern, gpu.GlobalGeometry(cfg.Output.Shape, ghost), ghost, cfg.Output); err != nil {
		return nil, errors.Join(newError(KindDevice, "finalize", c.def.Name, err), kern.Release(), rt.Close())
	}
	return &specialization{config: cfg, unit: unit, runtime: rt}, nil
}

// Close releases every retained specialization. Later calls to Invoke
// fail; later calls to Close do nothing.
func (c *Controller) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.cache.Purge()
	err := errors.Join(c.releaseErrs...)
	c.releaseErrs = nil
	return err
}

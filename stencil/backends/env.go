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

package backends

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ajroetker/go-stencil/stencil"
	"github.com/ajroetker/go-stencil/stencil/backend/closure"
)

// Environment variables read by FromEnv.
const (
	EnvBackend   = "STENCIL_BACKEND"    // sequential, parallel or gpu
	EnvNoGPU     = "STENCIL_NO_GPU"     // any true value downgrades gpu to parallel
	EnvWorkers   = "STENCIL_WORKERS"    // CPU-parallel worker count
	EnvSchedule  = "STENCIL_SCHEDULE"   // static or dynamic
	EnvCacheSize = "STENCIL_CACHE_SIZE" // retained specializations per controller
)

// Env is the backend selection read from the environment.
type Env struct {
	Kind      stencil.BackendKind
	NoGPU     bool
	Workers   int
	Schedule  closure.Schedule
	CacheSize int // 0 keeps the controller default
}

// FromEnv reads the STENCIL_* variables. Unset variables keep their
// defaults: the parallel backend, GOMAXPROCS workers, a static schedule.
func FromEnv() (Env, error) {
	e := Env{Kind: stencil.BackendCPUParallel}
	if v := os.Getenv(EnvBackend); v != "" {
		kind, err := stencil.ParseBackendKind(v)
		if err != nil {
			return Env{}, fmt.Errorf("backends: %s: %w", EnvBackend, err)
		}
		e.Kind = kind
	}
	e.NoGPU = envBool(EnvNoGPU)
	var err error
	if e.Workers, err = envInt(EnvWorkers); err != nil {
		return Env{}, err
	}
	if e.CacheSize, err = envInt(EnvCacheSize); err != nil {
		return Env{}, err
	}
	switch v := os.Getenv(EnvSchedule); v {
	case "", "static":
	case "dynamic":
		e.Schedule = closure.Dynamic
	default:
		return Env{}, fmt.Errorf("backends: %s: unknown schedule %q", EnvSchedule, v)
	}
	return e, nil
}

// Effective returns the kind New will build, after STENCIL_NO_GPU.
func (e Env) Effective() stencil.BackendKind {
	if e.NoGPU && e.Kind == stencil.BackendGPU {
		return stencil.BackendCPUParallel
	}
	return e.Kind
}

// New builds the selected backend.
func (e Env) New() (stencil.Backend, func() error, error) {
	return New(e.Effective(), Options{Workers: e.Workers, Schedule: e.Schedule})
}

// ControllerOptions returns the controller options the environment sets.
func (e Env) ControllerOptions() []stencil.Option {
	if e.CacheSize > 0 {
		return []stencil.Option{stencil.WithCacheSize(e.CacheSize)}
	}
	return nil
}

// envBool reports whether the variable is set to a true value. A value
// that does not parse as a bool counts as true.
func envBool(name string) bool {
	val := os.Getenv(name)
	if val == "" {
		return false
	}
	if b, err := strconv.ParseBool(val); err == nil {
		return b
	}
	return true
}

func envInt(name string) (int, error) {
	val := os.Getenv(name)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("backends: %s=%q is not a non-negative integer", name, val)
	}
	return n, nil
}

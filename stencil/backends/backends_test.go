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
	"testing"

	"github.com/ajroetker/go-stencil/stencil"
	"github.com/ajroetker/go-stencil/stencil/backend/closure"
	"github.com/ajroetker/go-stencil/stencil/gpu/gputest"
	"github.com/ajroetker/go-stencil/stencil/grid"
	"github.com/google/go-cmp/cmp"
)

const laplacian = `package kernels

func (k *Laplacian) Kernel(in, out Grid) {
	for x := range k.InteriorPoints(out) {
		out[x] = -4 * in[x]
		for y := range in.Neighbors(x, 1) {
			out[x] += in[y]
		}
	}
}
`

func TestNewNative(t *testing.T) {
	for _, kind := range []stencil.BackendKind{stencil.BackendSequential, stencil.BackendCPUParallel} {
		t.Run(kind.String(), func(t *testing.T) {
			b, release, err := New(kind, Options{Workers: 3})
			if err != nil {
				t.Fatal(err)
			}
			defer func() {
				if err := release(); err != nil {
					t.Error(err)
				}
			}()
			if b.Kind() != kind {
				t.Errorf("Kind() = %s, want %s", b.Kind(), kind)
			}

			c, err := stencil.New(&stencil.Definition{Source: []byte(laplacian)}, b)
			if err != nil {
				t.Fatal(err)
			}
			defer c.Close()
			in := grid.New(grid.Float64, 6, 6)
			in.Set([]int{2, 2}, 1)
			out, err := c.Invoke(in)
			if err != nil {
				t.Fatal(err)
			}
			if got := out.At(2, 2); got != -4 {
				t.Errorf("out[2, 2] = %v, want -4", got)
			}
			if got := out.At(2, 3); got != 1 {
				t.Errorf("out[2, 3] = %v, want 1", got)
			}
		})
	}
}

func TestNewGPUWithDriver(t *testing.T) {
	d := gputest.NewDriver()
	b, release, err := New(stencil.BackendGPU, Options{Driver: d})
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	g, ok := b.(stencil.GPU)
	if !ok || g.Driver != d {
		t.Fatalf("New(gpu) = %#v", b)
	}
	c, err := stencil.New(&stencil.Definition{Source: []byte(laplacian)}, b)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Invoke(grid.New(grid.Float32, 8, 8)); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if n := d.LiveBuffers(); n != 0 {
		t.Errorf("%d device buffers leaked", n)
	}
}

func TestNewUnknown(t *testing.T) {
	if _, _, err := New(stencil.BackendKind(42), Options{}); err == nil {
		t.Error("New accepted an unknown kind")
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		want      Env
		effective stencil.BackendKind
	}{
		{
			name:      "defaults",
			want:      Env{Kind: stencil.BackendCPUParallel},
			effective: stencil.BackendCPUParallel,
		},
		{
			name:      "sequential",
			env:       map[string]string{EnvBackend: "seq", EnvCacheSize: "4"},
			want:      Env{Kind: stencil.BackendSequential, CacheSize: 4},
			effective: stencil.BackendSequential,
		},
		{
			name:      "gpu",
			env:       map[string]string{EnvBackend: "gpu"},
			want:      Env{Kind: stencil.BackendGPU},
			effective: stencil.BackendGPU,
		},
		{
			name:      "gpu disabled",
			env:       map[string]string{EnvBackend: "webgpu", EnvNoGPU: "1", EnvWorkers: "2", EnvSchedule: "dynamic"},
			want:      Env{Kind: stencil.BackendGPU, NoGPU: true, Workers: 2, Schedule: closure.Dynamic},
			effective: stencil.BackendCPUParallel,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, name := range []string{EnvBackend, EnvNoGPU, EnvWorkers, EnvSchedule, EnvCacheSize} {
				t.Setenv(name, tt.env[name])
			}
			got, err := FromEnv()
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("FromEnv mismatch (-want +got):\n%s", diff)
			}
			if k := got.Effective(); k != tt.effective {
				t.Errorf("Effective() = %s, want %s", k, tt.effective)
			}
			if n := len(got.ControllerOptions()); (n == 1) != (tt.want.CacheSize > 0) {
				t.Errorf("ControllerOptions() has %d options", n)
			}
		})
	}
}

func TestFromEnvErrors(t *testing.T) {
	tests := []struct{ name, value string }{
		{EnvBackend, "fpga"},
		{EnvWorkers, "many"},
		{EnvCacheSize, "-1"},
		{EnvSchedule, "guided"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.name, tt.value)
			if _, err := FromEnv(); err == nil {
				t.Errorf("%s=%s accepted", tt.name, tt.value)
			}
		})
	}
}

func TestEnvNew(t *testing.T) {
	b, release, err := Env{Kind: stencil.BackendGPU, NoGPU: true, Workers: 2}.New()
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	if b.Kind() != stencil.BackendCPUParallel {
		t.Errorf("Kind() = %s, want parallel", b.Kind())
	}
}

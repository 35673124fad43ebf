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

package gpu_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ajroetker/go-stencil/stencil/gpu"
	"github.com/ajroetker/go-stencil/stencil/gpu/gputest"
	"github.com/ajroetker/go-stencil/stencil/grid"
	"github.com/google/go-cmp/cmp"
)

func TestLocalMemoryBytes(t *testing.T) {
	tests := []struct {
		rank, local, ghost, elem int
		want                     int
	}{
		{2, 8, 1, 4, 400},
		{2, 1, 1, 4, 36},
		{3, 8, 1, 4, 4000},
		{1, 8, 2, 8, 96},
		{2, 8, 0, 4, 256},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("rank%d_local%d_ghost%d", tt.rank, tt.local, tt.ghost), func(t *testing.T) {
			if got := gpu.LocalMemoryBytes(tt.rank, tt.local, tt.ghost, tt.elem); got != tt.want {
				t.Errorf("LocalMemoryBytes = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGeometry(t *testing.T) {
	if diff := cmp.Diff([]int{8, 8}, gpu.GlobalGeometry([]int{10, 10}, 1)); diff != "" {
		t.Errorf("GlobalGeometry mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 4}, gpu.GlobalGeometry([]int{2, 8}, 2)); diff != "" {
		t.Errorf("GlobalGeometry clamp mismatch (-want +got):\n%s", diff)
	}
	if gpu.LocalSize(true) != 8 || gpu.LocalSize(false) != 1 {
		t.Error("LocalSize policy changed")
	}
	for rank, want := range []int{1, 8, 64, 512} {
		if got := gpu.WorkgroupInvocations(rank, 8); got != want {
			t.Errorf("WorkgroupInvocations(%d, 8) = %d, want %d", rank, got, want)
		}
	}
}

func TestRuntimeWorkgroupLimit(t *testing.T) {
	tests := []struct {
		name    string
		devices []gpu.DeviceInfo
		shape   []int
		wantErr bool
	}{
		{"gpu rank 2", nil, []int{10, 10}, false},
		{"gpu rank 3", nil, []int{10, 10, 10}, true},
		{"cpu rank 3", []gpu.DeviceInfo{{Name: "host", Type: gpu.DeviceCPU}}, []int{10, 10, 10}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := gputest.NewDriver()
			d.DeviceList = tt.devices
			d.MaxInvocations = 256
			r, err := gpu.New(d)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()
			k, err := r.Context().Compile("stencil_kernel", []byte("fake"))
			if err != nil {
				t.Fatal(err)
			}
			err = r.Finalize(k, gpu.GlobalGeometry(tt.shape, 1), 1, grid.Describe(grid.Float32, tt.shape))
			if got := errors.Is(err, gpu.ErrWorkgroupTooLarge); got != tt.wantErr {
				t.Fatalf("Finalize error %v, want ErrWorkgroupTooLarge: %v", err, tt.wantErr)
			}
			if !tt.wantErr && err != nil {
				t.Fatal(err)
			}
			if tt.wantErr {
				if n := d.LiveBuffers(); n != 0 {
					t.Errorf("%d live buffers after rejected finalize, want 0", n)
				}
				if r.State() == gpu.Ready {
					t.Error("rejected runtime is ready")
				}
			}
		})
	}
}

// scale writes 3*in into the output buffer.
func scale(args []*gputest.Buffer, _ int, _, _ []int) error {
	in := args[0].Float32s()
	for i := range in {
		in[i] *= 3
	}
	args[1].SetFloat32s(in)
	return nil
}

func newReadyRuntime(t *testing.T, d *gputest.Driver, shape ...int) *gpu.Runtime {
	t.Helper()
	if d.Programs == nil {
		d.Programs = map[string]gputest.KernelFunc{"stencil_kernel": scale}
	}
	r, err := gpu.New(d)
	if err != nil {
		t.Fatal(err)
	}
	k, err := r.Context().Compile("stencil_kernel", []byte("fake"))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Finalize(k, gpu.GlobalGeometry(shape, 1), 1, grid.Describe(grid.Float32, shape)); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRuntimeLifecycle(t *testing.T) {
	d := gputest.NewDriver()
	r := newReadyRuntime(t, d, 10, 10)

	if r.Device().Name != "fake-gpu" {
		t.Errorf("selected %s, want the last device", r.Device())
	}
	if r.State() != gpu.Ready {
		t.Fatalf("state = %s, want ready", r.State())
	}

	in := grid.New(grid.Float32, 10, 10)
	in.Fill(2)
	first, err := r.Invoke(in)
	if err != nil {
		t.Fatal(err)
	}
	if v := first.At(4, 4); v != 6 {
		t.Errorf("At(4,4) = %v, want 6", v)
	}
	in.Fill(5)
	second, err := r.Invoke(in)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("output grid is not reused across calls")
	}
	if v := second.At(0, 9); v != 15 {
		t.Errorf("At(0,9) = %v, want 15", v)
	}

	st := d.Stats()
	if st.Contexts != 1 || st.Queues != 1 {
		t.Errorf("contexts %d queues %d, want one each across calls", st.Contexts, st.Queues)
	}
	if st.Writes != 2 || st.Launches != 2 || st.Reads != 2 {
		t.Errorf("writes %d launches %d reads %d, want 2 each", st.Writes, st.Launches, st.Reads)
	}
	if diff := cmp.Diff([]int{8, 8}, st.LastGlobal); diff != "" {
		t.Errorf("global mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{8, 8}, st.LastLocal); diff != "" {
		t.Errorf("local mismatch (-want +got):\n%s", diff)
	}
	if st.LastLocalBytes != 400 {
		t.Errorf("local memory = %d bytes, want 400", st.LastLocalBytes)
	}
	// Only the persistent output buffer outlives a call.
	if n := d.LiveBuffers(); n != 1 {
		t.Errorf("%d live buffers after calls, want 1", n)
	}

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	st = d.Stats()
	if st.ContextReleases != 1 || st.QueueReleases != 1 || st.KernelReleases != 1 {
		t.Errorf("releases: context %d queue %d kernel %d, want 1 each",
			st.ContextReleases, st.QueueReleases, st.KernelReleases)
	}
	if n := d.LiveBuffers(); n != 0 {
		t.Errorf("%d live buffers after Close", n)
	}
	if r.State() != gpu.Released {
		t.Errorf("state = %s, want released", r.State())
	}
	if _, err := r.Invoke(in); err == nil {
		t.Error("Invoke after Close succeeded")
	}
}

func TestRuntimeCPUDevice(t *testing.T) {
	d := gputest.NewDriver()
	d.DeviceList = []gpu.DeviceInfo{{Name: "host", Type: gpu.DeviceCPU}}
	r := newReadyRuntime(t, d, 6, 6)
	defer r.Close()

	if _, err := r.Invoke(grid.New(grid.Float32, 6, 6)); err != nil {
		t.Fatal(err)
	}
	st := d.Stats()
	if diff := cmp.Diff([]int{1, 1}, st.LastLocal); diff != "" {
		t.Errorf("local mismatch (-want +got):\n%s", diff)
	}
	if st.LastLocalBytes != 36 {
		t.Errorf("local memory = %d bytes, want 36", st.LastLocalBytes)
	}
}

func TestRuntimeReleasesOnPartialFailure(t *testing.T) {
	d := gputest.NewDriver()
	d.Programs = map[string]gputest.KernelFunc{"stencil_kernel": func([]*gputest.Buffer, int, []int, []int) error { return nil }}
	r := newReadyRuntime(t, d, 4, 4)
	defer r.Close()

	// Allocation 1 is the output; 2 and 3 are the inputs.
	d.AllocErr = errors.New("out of memory")
	d.AllocErrAt = 3
	a, b := grid.New(grid.Float32, 4, 4), grid.New(grid.Float32, 4, 4)
	if _, err := r.Invoke(a, b); !errors.Is(err, d.AllocErr) {
		t.Fatalf("got %v, want allocation error", err)
	}
	if n := d.LiveBuffers(); n != 1 {
		t.Errorf("%d live buffers after failed call, want 1", n)
	}

	// The context is still usable.
	d.AllocErr = nil
	if _, err := r.Invoke(a, b); err != nil {
		t.Fatalf("call after recoverable failure: %v", err)
	}
	if r.State() != gpu.Ready {
		t.Errorf("state = %s, want ready", r.State())
	}
}

func TestRuntimeErrorsPropagate(t *testing.T) {
	boom := errors.New("driver failure")
	tests := []struct {
		name   string
		inject func(*gputest.Driver)
	}{
		{"write", func(d *gputest.Driver) { d.WriteErr = boom }},
		{"upload wait", func(d *gputest.Driver) { d.WaitErr = boom }},
		{"launch", func(d *gputest.Driver) { d.LaunchErr = boom }},
		{"read", func(d *gputest.Driver) { d.ReadErr = boom }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := gputest.NewDriver()
			r := newReadyRuntime(t, d, 4, 4)
			defer r.Close()
			tt.inject(d)
			if _, err := r.Invoke(grid.New(grid.Float32, 4, 4)); !errors.Is(err, boom) {
				t.Fatalf("got %v, want %v", err, boom)
			}
			if n := d.LiveBuffers(); n != 1 {
				t.Errorf("%d live buffers after failure, want 1", n)
			}
		})
	}
}

func TestRuntimeContextLost(t *testing.T) {
	d := gputest.NewDriver()
	r := newReadyRuntime(t, d, 4, 4)
	defer r.Close()

	d.LaunchErr = fmt.Errorf("queue reset: %w", gpu.ErrContextLost)
	in := grid.New(grid.Float32, 4, 4)
	_, first := r.Invoke(in)
	if !errors.Is(first, gpu.ErrContextLost) {
		t.Fatalf("got %v, want ErrContextLost", first)
	}

	d.LaunchErr = nil
	_, second := r.Invoke(in)
	if second == nil || second.Error() != first.Error() {
		t.Errorf("second call = %v, want %v", second, first)
	}
	if st := d.Stats(); st.Writes != 1 {
		t.Errorf("lost runtime touched the device again: %d writes", st.Writes)
	}
}

func TestRuntimeStateChecks(t *testing.T) {
	d := gputest.NewDriver()
	r, err := gpu.New(d)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.State() != gpu.DeviceBound {
		t.Errorf("state = %s, want device-bound", r.State())
	}
	if _, err := r.Invoke(grid.New(grid.Float32, 4, 4)); err == nil {
		t.Error("Invoke before Finalize succeeded")
	}
	k, _ := r.Context().Compile("k", nil)
	if err := r.Finalize(k, []int{2}, 1, grid.Describe(grid.Float32, []int{4, 4})); err == nil {
		t.Error("Finalize accepted a geometry of the wrong rank")
	}

	empty := gputest.NewDriver()
	empty.DeviceList = []gpu.DeviceInfo{}
	if _, err := gpu.New(empty); !errors.Is(err, gpu.ErrNoDevice) {
		t.Errorf("got %v, want ErrNoDevice", err)
	}
}

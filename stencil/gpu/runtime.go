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

package gpu

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ajroetker/go-stencil/stencil/grid"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle position of a Runtime.
type State int

const (
	Uninitialized State = iota
	DeviceBound         // context and queue created
	Ready               // kernel bound
	Executing
	Released
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case DeviceBound:
		return "device-bound"
	case Ready:
		return "ready"
	case Executing:
		return "executing"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger for lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// Runtime owns one device context and command queue for its whole life and
// runs a single bound kernel on them.
//
// Argument slots of the bound kernel are: one buffer per input in call
// order, the output buffer, then the local memory tile. The output buffer
// and the host grid it is read back into persist across calls, so the grid
// returned by Invoke is overwritten by the next call. A Runtime is not safe
// for concurrent use.
type Runtime struct {
	driver Driver
	device DeviceInfo
	ctx    Context
	queue  Queue
	state  State
	logger *slog.Logger

	kernel  Kernel
	global  []int
	ghost   int
	outDesc grid.Descriptor
	outBuf  Buffer
	outHost *grid.Grid

	// lost is set once the driver reports the context unusable.
	lost error
}

// New selects the last enumerated device and creates the context and
// queue that every later call uses.
func New(driver Driver, opts ...Option) (*Runtime, error) {
	r := &Runtime{
		driver: driver,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}

	devices, err := driver.Devices()
	if err != nil {
		return nil, fmt.Errorf("gpu: enumerate devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, ErrNoDevice
	}
	r.device = devices[len(devices)-1]

	r.ctx, err = driver.CreateContext(r.device)
	if err != nil {
		return nil, fmt.Errorf("gpu: create context on %s: %w", r.device, err)
	}
	r.queue, err = r.ctx.NewQueue()
	if err != nil {
		err = fmt.Errorf("gpu: create queue on %s: %w", r.device, err)
		return nil, errors.Join(err, r.ctx.Release())
	}
	r.state = DeviceBound
	r.logger.Debug("gpu runtime bound", "device", r.device.String())
	return r, nil
}

// Device returns the selected device.
func (r *Runtime) Device() DeviceInfo { return r.device }

// Context returns the device context, for compiling kernels to bind.
func (r *Runtime) Context() Context { return r.ctx }

// State returns the lifecycle state.
func (r *Runtime) State() State { return r.state }

// Global returns the bound launch geometry.
func (r *Runtime) Global() []int { return r.global }

// Output returns the persistent host output grid, or nil before Finalize.
func (r *Runtime) Output() *grid.Grid { return r.outHost }

// Finalize binds a compiled kernel with its global launch geometry, ghost
// depth and output descriptor, and allocates the persistent output buffer.
// The runtime takes ownership of k.
func (r *Runtime) Finalize(k Kernel, global []int, ghost int, out grid.Descriptor) error {
	if r.state != DeviceBound {
		return fmt.Errorf("gpu: finalize in state %s", r.state)
	}
	if len(global) != out.NDim {
		return fmt.Errorf("gpu: launch geometry %v does not match output rank %d", global, out.NDim)
	}
	if lim, ok := r.ctx.(WorkgroupLimiter); ok {
		local := LocalSize(r.device.Type == DeviceGPU)
		if n, limit := WorkgroupInvocations(out.NDim, local), lim.MaxWorkgroupInvocations(); n > limit {
			return fmt.Errorf("%w: rank %d needs %d invocations per work-group on %s, limit is %d",
				ErrWorkgroupTooLarge, out.NDim, n, r.device, limit)
		}
	}
	buf, err := r.ctx.Alloc(out.ByteSize())
	if err != nil {
		return r.fail(fmt.Errorf("gpu: allocate output: %w", err))
	}
	r.kernel = k
	r.global = append([]int(nil), global...)
	r.ghost = ghost
	r.outDesc = out
	r.outBuf = buf
	r.outHost = grid.New(out.DType, out.Shape...)
	r.state = Ready
	r.logger.Debug("gpu kernel bound", "global", global, "ghost", ghost, "output", out.String())
	return nil
}

// Invoke uploads the inputs, launches the kernel over the interior points,
// and reads the output back into the persistent host grid, which it
// returns. Input device buffers are released before Invoke returns, on
// every path.
func (r *Runtime) Invoke(inputs ...*grid.Grid) (out *grid.Grid, err error) {
	if r.lost != nil {
		return nil, r.lost
	}
	if r.state != Ready {
		return nil, fmt.Errorf("gpu: invoke in state %s", r.state)
	}
	if len(inputs) == 0 {
		return nil, errors.New("gpu: no inputs")
	}
	rank := r.outDesc.NDim
	for i, in := range inputs {
		if in.Rank() != rank {
			return nil, fmt.Errorf("gpu: input %d has rank %d, kernel expects %d", i, in.Rank(), rank)
		}
	}

	r.state = Executing
	defer func() {
		if r.state == Executing {
			r.state = Ready
		}
	}()

	bufs := make([]Buffer, 0, len(inputs))
	defer func() {
		for _, b := range bufs {
			if rerr := b.Release(); rerr != nil && err == nil {
				err = r.fail(fmt.Errorf("gpu: release input buffer: %w", rerr))
				out = nil
			}
		}
	}()

	// Uploads run concurrently; the kernel must not start before all of
	// them completed.
	var uploads errgroup.Group
	for i, in := range inputs {
		buf, err := r.ctx.Alloc(len(in.Bytes()))
		if err != nil {
			return nil, r.fail(errors.Join(fmt.Errorf("gpu: allocate input %d: %w", i, err), uploads.Wait()))
		}
		bufs = append(bufs, buf)
		ev, err := r.queue.EnqueueWrite(buf, in.Bytes())
		if err != nil {
			return nil, r.fail(errors.Join(fmt.Errorf("gpu: upload input %d: %w", i, err), uploads.Wait()))
		}
		uploads.Go(ev.Wait)
		if err := r.kernel.SetArg(i, buf); err != nil {
			return nil, r.fail(errors.Join(fmt.Errorf("gpu: bind input %d: %w", i, err), uploads.Wait()))
		}
	}
	if err := uploads.Wait(); err != nil {
		return nil, r.fail(fmt.Errorf("gpu: upload: %w", err))
	}

	if err := r.kernel.SetArg(len(inputs), r.outBuf); err != nil {
		return nil, r.fail(fmt.Errorf("gpu: bind output: %w", err))
	}
	local := LocalSize(r.device.Type == DeviceGPU)
	tile := LocalMemoryBytes(rank, local, r.ghost, r.outDesc.DType.Size())
	if err := r.kernel.SetLocalArg(len(inputs)+1, tile); err != nil {
		return nil, r.fail(fmt.Errorf("gpu: bind local tile of %d bytes: %w", tile, err))
	}

	ev, err := r.queue.EnqueueKernel(r.kernel, r.global, LocalDims(rank, local))
	if err != nil {
		return nil, r.fail(fmt.Errorf("gpu: launch: %w", err))
	}
	if err := ev.Wait(); err != nil {
		return nil, r.fail(fmt.Errorf("gpu: kernel: %w", err))
	}

	ev, err = r.queue.EnqueueRead(r.outBuf, r.outHost.Bytes())
	if err != nil {
		return nil, r.fail(fmt.Errorf("gpu: download: %w", err))
	}
	if err := ev.Wait(); err != nil {
		return nil, r.fail(fmt.Errorf("gpu: download: %w", err))
	}
	return r.outHost, nil
}

// fail records a lost context so later calls fail the same way.
func (r *Runtime) fail(err error) error {
	if errors.Is(err, ErrContextLost) && r.lost == nil {
		r.lost = err
		r.logger.Warn("gpu context lost", "device", r.device.String(), "err", err)
	}
	return err
}

// Close releases the output buffer, the kernel, the queue and the context.
// It is safe to call more than once; only the first call releases.
func (r *Runtime) Close() error {
	if r.state == Released || r.state == Uninitialized {
		return nil
	}
	var errs []error
	if r.outBuf != nil {
		errs = append(errs, r.outBuf.Release())
		r.outBuf = nil
	}
	if r.kernel != nil {
		errs = append(errs, r.kernel.Release())
		r.kernel = nil
	}
	errs = append(errs, r.queue.Release(), r.ctx.Release())
	r.state = Released
	r.logger.Debug("gpu runtime released", "device", r.device.String())
	return errors.Join(errs...)
}

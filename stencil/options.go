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

import "log/slog"

// Option configures a Controller.
type Option func(*Controller)

// WithCacheSize sets how many specializations the controller keeps.
// The default of 1 holds a single specialization, so alternating between
// two configurations rebuilds on every call. Values below 1 are ignored.
func WithCacheSize(n int) Option {
	return func(c *Controller) {
		if n >= 1 {
			c.cacheSize = n
		}
	}
}

// WithLogger sets the logger for build, hit and eviction events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTesting keeps the most recently emitted unit for inspection through
// LastUnit.
func WithTesting() Option {
	return func(c *Controller) {
		c.testing = true
	}
}

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
)

// ErrorKind classifies stencil errors.
type ErrorKind int

const (
	// KindDefinition: the kernel cannot be defined (no body, bad source).
	KindDefinition ErrorKind = iota
	// KindCompilation: an emitter or toolchain rejected a specialization.
	KindCompilation
	// KindDevice: the GPU driver failed during a call.
	KindDevice
	// KindExecution: a native kernel failed while running.
	KindExecution
	// KindInvalidArgument: Invoke was called with unusable inputs.
	KindInvalidArgument
)

func (k ErrorKind) String() string {
	switch k {
	case KindDefinition:
		return "definition"
	case KindCompilation:
		return "compilation"
	case KindDevice:
		return "device"
	case KindExecution:
		return "execution"
	case KindInvalidArgument:
		return "invalid argument"
	default:
		return "unknown"
	}
}

// Error is the structured error returned by this package.
type Error struct {
	Kind    ErrorKind
	Op      string // operation that failed
	Message string
	Err     error // underlying error, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stencil: %s error in %s: %s: %v", e.Kind, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("stencil: %s error in %s: %s", e.Kind, e.Op, e.Message)
}

// Unwrap allows error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op, message string, err error) error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func isKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsDefinitionError reports whether err is a definition error.
func IsDefinitionError(err error) bool { return isKind(err, KindDefinition) }

// IsCompilationError reports whether err is a compilation error.
func IsCompilationError(err error) bool { return isKind(err, KindCompilation) }

// IsDeviceError reports whether err is a device error.
func IsDeviceError(err error) bool { return isKind(err, KindDevice) }

// IsExecutionError reports whether err is an execution error.
func IsExecutionError(err error) bool { return isKind(err, KindExecution) }

// IsInvalidArgumentError reports whether err is an invalid argument error.
func IsInvalidArgumentError(err error) bool { return isKind(err, KindInvalidArgument) }

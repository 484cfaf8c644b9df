// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

//go:build !linux || !cgo

package jit

import (
	"errors"
	"unsafe"

	"github.com/plugify/plugify/internal/descriptor"
)

// ErrUnsupportedHost is reported when the native emitter is unavailable on
// this platform or build.
var ErrUnsupportedHost = errors.New("jit emitter is not available on this host")

// Runtime is the no-op stand-in on hosts without the libffi emitter. The
// signature policy above still applies; emission always fails.
type Runtime struct{}

// NewRuntime creates a stub runtime.
func NewRuntime() *Runtime { return &Runtime{} }

// Close releases the runtime.
func (rt *Runtime) Close() {}

// CallbackTrampoline is the stub callback trampoline.
type CallbackTrampoline struct {
	errstr string
}

// NewCallbackTrampoline validates the signature; emission is unsupported.
func (rt *Runtime) NewCallbackTrampoline(m *descriptor.Method, policy HiddenReturnPolicy, handler CallHandler, userData unsafe.Pointer) (*CallbackTrampoline, error) {
	if _, err := Prepare(m, policy); err != nil {
		return &CallbackTrampoline{errstr: err.Error()}, err
	}
	return &CallbackTrampoline{errstr: ErrUnsupportedHost.Error()}, ErrUnsupportedHost
}

// Emit always fails on the stub.
func (t *CallbackTrampoline) Emit() uintptr { return 0 }

// Address returns zero on the stub.
func (t *CallbackTrampoline) Address() uintptr { return 0 }

// Error returns the recorded failure.
func (t *CallbackTrampoline) Error() string { return t.errstr }

// Close is a no-op on the stub.
func (t *CallbackTrampoline) Close() {}

// CallTrampoline is the stub call trampoline.
type CallTrampoline struct {
	errstr string
}

// NewCallTrampoline validates the signature; calling is unsupported.
func (rt *Runtime) NewCallTrampoline(m *descriptor.Method, policy HiddenReturnPolicy, target uintptr) (*CallTrampoline, error) {
	if _, err := Prepare(m, policy); err != nil {
		return &CallTrampoline{errstr: err.Error()}, err
	}
	return &CallTrampoline{errstr: ErrUnsupportedHost.Error()}, ErrUnsupportedHost
}

// Error returns the recorded failure.
func (t *CallTrampoline) Error() string { return t.errstr }

// Close is a no-op on the stub.
func (t *CallTrampoline) Close() {}

// Call always fails on the stub.
func (t *CallTrampoline) Call(args *Slots, ret *Slot) error {
	return ErrUnsupportedHost
}

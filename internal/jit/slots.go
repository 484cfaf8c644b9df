// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

// Package jit materialises native callables for abstract method signatures
// and dispatches every call through a uniform handler. The emitter sits on
// libffi; the slot layout and signature policy here are backend-neutral.
package jit

import (
	"math"
	"unsafe"
)

// Slot is one machine-pointer-sized argument cell. Integers are moved in
// directly; floats travel through the 64-bit path; pointers are stored as
// uintptr.
type Slot uint64

// Slots is a contiguous argument array sharing the layout the trampolines
// read and write: one slot per (normalized) parameter.
type Slots struct {
	data []Slot
}

// NewSlots allocates an argument array of n slots.
func NewSlots(n int) *Slots {
	return &Slots{data: make([]Slot, n)}
}

// Len returns the slot count.
func (s *Slots) Len() int { return len(s.data) }

// Base returns the address of the first slot for handing to native code.
// The Slots value must be kept alive across the native call.
func (s *Slots) Base() unsafe.Pointer {
	if len(s.data) == 0 {
		return nil
	}
	return unsafe.Pointer(&s.data[0])
}

// At returns the address of slot i.
func (s *Slots) At(i int) *Slot { return &s.data[i] }

// Bool reads slot i as a bool.
func (s *Slots) Bool(i int) bool { return s.data[i]&1 != 0 }

// SetBool writes a bool into slot i.
func (s *Slots) SetBool(i int, v bool) {
	if v {
		s.data[i] = 1
	} else {
		s.data[i] = 0
	}
}

// Int32 reads slot i as an int32.
func (s *Slots) Int32(i int) int32 { return int32(s.data[i]) } //nolint:gosec

// SetInt32 writes an int32 into slot i.
func (s *Slots) SetInt32(i int, v int32) { s.data[i] = Slot(uint32(v)) }

// Int64 reads slot i as an int64.
func (s *Slots) Int64(i int) int64 { return int64(s.data[i]) } //nolint:gosec

// SetInt64 writes an int64 into slot i.
func (s *Slots) SetInt64(i int, v int64) { s.data[i] = Slot(uint64(v)) } //nolint:gosec

// Uint64 reads slot i as a uint64.
func (s *Slots) Uint64(i int) uint64 { return uint64(s.data[i]) }

// SetUint64 writes a uint64 into slot i.
func (s *Slots) SetUint64(i int, v uint64) { s.data[i] = Slot(v) }

// Float32 reads slot i as a float32.
func (s *Slots) Float32(i int) float32 { return math.Float32frombits(uint32(s.data[i])) } //nolint:gosec

// SetFloat32 writes a float32 into slot i.
func (s *Slots) SetFloat32(i int, v float32) { s.data[i] = Slot(math.Float32bits(v)) }

// Float64 reads slot i as a float64.
func (s *Slots) Float64(i int) float64 { return math.Float64frombits(uint64(s.data[i])) }

// SetFloat64 writes a float64 into slot i.
func (s *Slots) SetFloat64(i int, v float64) { s.data[i] = Slot(math.Float64bits(v)) }

// Pointer reads slot i as an untyped pointer.
func (s *Slots) Pointer(i int) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&s.data[i]))
}

// SetPointer writes an untyped pointer into slot i.
func (s *Slots) SetPointer(i int, p unsafe.Pointer) {
	*(*unsafe.Pointer)(unsafe.Pointer(&s.data[i])) = p
}

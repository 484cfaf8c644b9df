// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

//go:build linux && cgo

package jit

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plugify/plugify/internal/descriptor"
)

// TestCallbackRoundTrip emits a callback for (int32, double, int32*) -> int64
// and drives it through a call trampoline: the handler must observe the
// argument slots verbatim, and the value written to the return slot must
// surface as the native return value.
func TestCallbackRoundTrip(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()

	m := descriptor.Method{
		Name: "roundtrip",
		ParamTypes: []descriptor.Param{
			{Type: descriptor.TypeInt32},
			{Type: descriptor.TypeDouble},
			{Type: descriptor.TypeInt32, Ref: true},
		},
		RetType:  descriptor.Param{Type: descriptor.TypeInt64},
		VarIndex: descriptor.NoVarArgs,
	}

	var out int32
	var observed struct {
		a int32
		b float64
		p unsafe.Pointer
	}

	cb, err := rt.NewCallbackTrampoline(&m, nil, func(method *descriptor.Method, userData unsafe.Pointer, args *Slots, ret *Slot) {
		assert.Equal(t, "roundtrip", method.Name)
		observed.a = args.Int32(0)
		observed.b = args.Float64(1)
		observed.p = args.Pointer(2)
		*(*int32)(args.Pointer(2)) = 99
		s := NewSlots(1)
		s.SetInt64(0, 42)
		*ret = *s.At(0)
	}, nil)
	require.NoError(t, err)
	defer cb.Close()

	addr := cb.Emit()
	require.NotZero(t, addr, cb.Error())
	assert.Equal(t, addr, cb.Emit(), "emission must be one-shot")

	call, err := rt.NewCallTrampoline(&m, nil, addr)
	require.NoError(t, err)
	defer call.Close()

	args := NewSlots(3)
	args.SetInt32(0, 7)
	args.SetFloat64(1, 0.5)
	args.SetPointer(2, unsafe.Pointer(&out))

	var ret Slot
	require.NoError(t, call.Call(args, &ret))

	assert.Equal(t, int32(7), observed.a)
	assert.Equal(t, 0.5, observed.b)
	assert.Equal(t, unsafe.Pointer(&out), observed.p)
	assert.Equal(t, int32(99), out)

	result := NewSlots(1)
	*result.At(0) = ret
	assert.Equal(t, int64(42), result.Int64(0))
}

func TestEmitAfterRuntimeCloseFails(t *testing.T) {
	rt := NewRuntime()

	m := descriptor.Method{
		Name:       "noop",
		ParamTypes: nil,
		RetType:    descriptor.Param{Type: descriptor.TypeVoid},
		VarIndex:   descriptor.NoVarArgs,
	}
	cb, err := rt.NewCallbackTrampoline(&m, nil, func(*descriptor.Method, unsafe.Pointer, *Slots, *Slot) {}, nil)
	require.NoError(t, err)

	rt.Close()

	assert.Zero(t, cb.Emit())
	assert.Equal(t, ErrRuntimeInvalid.Error(), cb.Error())
}

func TestEmittedCodeSurvivesRuntimeClose(t *testing.T) {
	rt := NewRuntime()

	m := descriptor.Method{
		Name: "inc",
		ParamTypes: []descriptor.Param{
			{Type: descriptor.TypeInt32},
		},
		RetType:  descriptor.Param{Type: descriptor.TypeInt32},
		VarIndex: descriptor.NoVarArgs,
	}
	cb, err := rt.NewCallbackTrampoline(&m, nil, func(_ *descriptor.Method, _ unsafe.Pointer, args *Slots, ret *Slot) {
		s := NewSlots(1)
		s.SetInt32(0, args.Int32(0)+1)
		*ret = *s.At(0)
	}, nil)
	require.NoError(t, err)
	defer cb.Close()

	addr := cb.Emit()
	require.NotZero(t, addr)

	call, err := rt.NewCallTrampoline(&m, nil, addr)
	require.NoError(t, err)
	defer call.Close()

	args := NewSlots(1)
	args.SetInt32(0, 41)
	var ret Slot
	require.NoError(t, call.Call(args, &ret))

	// Closing the runtime afterwards must not revoke the emitted code; it
	// only blocks future emits.
	rt.Close()

	require.NoError(t, call.Call(args, &ret))
	result := NewSlots(1)
	*result.At(0) = ret
	assert.Equal(t, int32(42), result.Int32(0))

	cb2, err := rt.NewCallbackTrampoline(&m, nil, func(*descriptor.Method, unsafe.Pointer, *Slots, *Slot) {}, nil)
	require.NoError(t, err)
	assert.Zero(t, cb2.Emit())
}

func TestCallbackRejectsWideParam(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()

	m := descriptor.Method{
		Name: "wide",
		ParamTypes: []descriptor.Param{
			{Type: descriptor.TypeString}, // by value: wider than a pointer
		},
		RetType:  descriptor.Param{Type: descriptor.TypeVoid},
		VarIndex: descriptor.NoVarArgs,
	}
	cb, err := rt.NewCallbackTrampoline(&m, nil, func(*descriptor.Method, unsafe.Pointer, *Slots, *Slot) {}, nil)
	require.Error(t, err)
	assert.Zero(t, cb.Emit())
	assert.NotEmpty(t, cb.Error())
}

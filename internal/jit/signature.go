// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package jit

import (
	"errors"
	"runtime"
	"unsafe"

	"github.com/samber/oops"

	"github.com/plugify/plugify/internal/descriptor"
)

// Failure modes surfaced by trampolines.
var (
	// ErrRuntimeInvalid means the backing JIT runtime has been released.
	ErrRuntimeInvalid = errors.New("jit runtime has been released")
	// ErrUnsupportedWidth means a by-value parameter exceeds a machine
	// pointer in width.
	ErrUnsupportedWidth = errors.New("parameter exceeds machine pointer width")
)

// pointerWidth is the machine word size in bytes.
const pointerWidth = int(unsafe.Sizeof(uintptr(0)))

// HiddenReturnPolicy decides whether a return type is passed through a
// hidden leading pointer parameter. The policy is host-specific and supplied
// by the caller.
type HiddenReturnPolicy func(ret descriptor.Param) bool

// DefaultHiddenReturnPolicy returns hidden-pointer returns for aggregate
// types the ABI cannot return in registers.
func DefaultHiddenReturnPolicy(ret descriptor.Param) bool {
	if ret.Array {
		return true
	}
	return ret.Type == descriptor.TypeString
}

// typeWidth returns the by-value width of a parameter in bytes. Aggregates
// report a width beyond the machine pointer so they must travel by
// reference.
func typeWidth(p descriptor.Param) int {
	if p.Ref {
		return pointerWidth
	}
	if p.Array {
		return 2 * pointerWidth
	}
	switch p.Type {
	case descriptor.TypeVoid:
		return 0
	case descriptor.TypeBool, descriptor.TypeChar8, descriptor.TypeInt8, descriptor.TypeUInt8:
		return 1
	case descriptor.TypeChar16, descriptor.TypeInt16, descriptor.TypeUInt16:
		return 2
	case descriptor.TypeInt32, descriptor.TypeUInt32, descriptor.TypeFloat:
		return 4
	case descriptor.TypeInt64, descriptor.TypeUInt64, descriptor.TypeDouble:
		return 8
	case descriptor.TypePointer, descriptor.TypeFunction:
		return pointerWidth
	case descriptor.TypeString:
		return 2 * pointerWidth
	default:
		return 0
	}
}

// ValidateWidths rejects signatures with by-value parameters wider than a
// machine pointer. Such parameters must be passed by reference.
func ValidateWidths(m *descriptor.Method) error {
	for i, p := range m.ParamTypes {
		if typeWidth(p) > pointerWidth {
			return oops.Code("JIT_UNSUPPORTED_WIDTH").
				With("method", m.Name).
				With("parameter", i).
				Wrapf(ErrUnsupportedWidth, "parameter %d of %q", i, m.Name)
		}
	}
	return nil
}

// hostDefaultConv reports whether a calling convention is the host default.
func hostDefaultConv(conv string) bool {
	if conv == descriptor.CallConvDefault {
		return true
	}
	// Off Windows the explicit cdecl tag also names the host default; every
	// other tag, and every explicit tag on Windows, counts as non-default.
	if runtime.GOOS != "windows" {
		return conv == descriptor.CallConvCDecl
	}
	return false
}

// ValidateConvention rejects variadic signatures under a non-host-default
// calling convention: the emitter assumes the host-native convention and
// cross-ABI variadics are unspecified.
func ValidateConvention(m *descriptor.Method) error {
	if m.Variadic() && !hostDefaultConv(m.CallConv) {
		return oops.Code("JIT_UNSUPPORTED_CONVENTION").
			With("method", m.Name).
			Errorf("variadic method %q uses non-default calling convention %q", m.Name, m.CallConv)
	}
	return nil
}

// NormalizeSignature applies the hidden-return rewrite: when the policy
// says the return type needs a hidden pointer, the signature gains a leading
// pointer parameter, the return collapses to pointer, and every slot index
// shifts by one. It reports whether the rewrite happened.
func NormalizeSignature(m *descriptor.Method, policy HiddenReturnPolicy) (descriptor.Method, bool) {
	if policy == nil {
		policy = DefaultHiddenReturnPolicy
	}
	if !policy(m.RetType) {
		return *m, false
	}

	out := *m
	out.ParamTypes = make([]descriptor.Param, 0, len(m.ParamTypes)+1)
	out.ParamTypes = append(out.ParamTypes, descriptor.Param{Type: descriptor.TypePointer})
	out.ParamTypes = append(out.ParamTypes, m.ParamTypes...)
	out.RetType = descriptor.Param{Type: descriptor.TypePointer}
	if out.VarIndex != descriptor.NoVarArgs {
		out.VarIndex++
	}
	return out, true
}

// SlotCount returns the argument slot count of a normalized signature: one
// slot per parameter.
func SlotCount(m *descriptor.Method) int { return len(m.ParamTypes) }

// Prepare validates a signature and applies the hidden-return rewrite,
// returning the normalized form the emitters consume.
func Prepare(m *descriptor.Method, policy HiddenReturnPolicy) (descriptor.Method, error) {
	if err := m.Validate(); err != nil {
		return descriptor.Method{}, oops.Code("JIT_EMIT_ERROR").Wrap(err)
	}
	if err := ValidateConvention(m); err != nil {
		return descriptor.Method{}, err
	}
	normalized, _ := NormalizeSignature(m, policy)
	if err := ValidateWidths(&normalized); err != nil {
		return descriptor.Method{}, err
	}
	return normalized, nil
}

// CallHandler is the uniform dispatch target of every trampoline: the
// original (pre-rewrite) method, opaque user data, the argument slots in
// declaration order and the single return slot.
type CallHandler func(method *descriptor.Method, userData unsafe.Pointer, args *Slots, ret *Slot)

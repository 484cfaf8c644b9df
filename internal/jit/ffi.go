// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

//go:build linux && cgo

package jit

/*
#cgo pkg-config: libffi
#include <ffi.h>
#include <stdlib.h>
#include <stdint.h>

// Allocate a cif on the C heap so it outlives the Go stack frame.
static ffi_cif* plugify_alloc_cif(void) {
	return (ffi_cif*)calloc(1, sizeof(ffi_cif));
}

static int plugify_prep_cif(ffi_cif* cif, unsigned int nargs,
		ffi_type* rtype, ffi_type** atypes) {
	return ffi_prep_cif(cif, FFI_DEFAULT_ABI, nargs, rtype, atypes);
}

static int plugify_prep_cif_var(ffi_cif* cif, unsigned int nfixed,
		unsigned int ntotal, ffi_type* rtype, ffi_type** atypes) {
	return ffi_prep_cif_var(cif, FFI_DEFAULT_ABI, nfixed, ntotal, rtype, atypes);
}

// ffi_call wrapper: accept a generic void* fn to avoid cgo's
// function-pointer type constraints at the call site.
static void plugify_call(ffi_cif* cif, void* fn, void* rvalue, void** avalue) {
	ffi_call(cif, (void (*)(void))fn, rvalue, avalue);
}

static void* plugify_closure_alloc(void** executable) {
	return ffi_closure_alloc(sizeof(ffi_closure), executable);
}
static void plugify_closure_free(void* closure) {
	ffi_closure_free((ffi_closure*)closure);
}

// C thunk bouncing closure invocations into Go with an integer handle.
extern void plugifyCallbackBridge(ffi_cif*, void*, void**, uintptr_t);
static void plugify_callback_thunk(ffi_cif* cif, void* ret, void** args, void* user) {
	plugifyCallbackBridge(cif, ret, args, (uintptr_t)user);
}
static int plugify_prep_closure(void* closure, ffi_cif* cif, void* user, void* executable) {
	return ffi_prep_closure_loc((ffi_closure*)closure, cif,
		plugify_callback_thunk, user, executable);
}
*/
import "C"

import (
	"runtime/cgo"
	"sync"
	"unsafe"

	"github.com/samber/oops"

	"github.com/plugify/plugify/internal/descriptor"
)

// Runtime owns the emission machinery. Trampolines hold a back-reference to
// it; once released, further emits fail but already-emitted code stays valid
// until its trampoline is closed.
type Runtime struct {
	mu       sync.Mutex
	released bool
}

// NewRuntime creates a JIT runtime.
func NewRuntime() *Runtime { return &Runtime{} }

// Close releases the runtime. Emits on trampolines backed by it fail with
// ErrRuntimeInvalid afterwards.
func (rt *Runtime) Close() {
	rt.mu.Lock()
	rt.released = true
	rt.mu.Unlock()
}

func (rt *Runtime) alive() bool {
	if rt == nil {
		return false
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return !rt.released
}

// ffiTypeFor maps a normalized parameter onto its libffi type. Parameters
// reaching the emitter are at most pointer wide; references and arrays
// travel as pointers.
func ffiTypeFor(p descriptor.Param) *C.ffi_type {
	if p.Ref || p.Array {
		return &C.ffi_type_pointer
	}
	switch p.Type {
	case descriptor.TypeVoid:
		return &C.ffi_type_void
	case descriptor.TypeBool, descriptor.TypeUInt8:
		return &C.ffi_type_uint8
	case descriptor.TypeChar8, descriptor.TypeInt8:
		return &C.ffi_type_sint8
	case descriptor.TypeChar16, descriptor.TypeUInt16:
		return &C.ffi_type_uint16
	case descriptor.TypeInt16:
		return &C.ffi_type_sint16
	case descriptor.TypeInt32:
		return &C.ffi_type_sint32
	case descriptor.TypeUInt32:
		return &C.ffi_type_uint32
	case descriptor.TypeInt64:
		return &C.ffi_type_sint64
	case descriptor.TypeUInt64:
		return &C.ffi_type_uint64
	case descriptor.TypeFloat:
		return &C.ffi_type_float
	case descriptor.TypeDouble:
		return &C.ffi_type_double
	default:
		// Pointer, Function, String (post-rewrite) and anything else that
		// survived width validation.
		return &C.ffi_type_pointer
	}
}

// cifState is a prepared call interface plus its C-heap type vector.
type cifState struct {
	cif      *C.ffi_cif
	typesVec unsafe.Pointer
}

// prepareCIF builds a cif for a normalized signature, variadic-aware.
func prepareCIF(m *descriptor.Method) (*cifState, error) {
	n := len(m.ParamTypes)
	var typesVec unsafe.Pointer
	if n > 0 {
		typesVec = C.malloc(C.size_t(n) * C.size_t(unsafe.Sizeof(uintptr(0))))
		vec := unsafe.Slice((**C.ffi_type)(typesVec), n)
		for i, p := range m.ParamTypes {
			vec[i] = ffiTypeFor(p)
		}
	}

	cif := C.plugify_alloc_cif()
	var status C.int
	if m.Variadic() {
		status = C.plugify_prep_cif_var(cif, C.uint(m.VarIndex), C.uint(n),
			ffiTypeFor(m.RetType), (**C.ffi_type)(typesVec))
	} else {
		status = C.plugify_prep_cif(cif, C.uint(n),
			ffiTypeFor(m.RetType), (**C.ffi_type)(typesVec))
	}
	if status != C.FFI_OK {
		C.free(unsafe.Pointer(cif))
		if typesVec != nil {
			C.free(typesVec)
		}
		return nil, oops.Code("JIT_EMIT_ERROR").Errorf("ffi_prep_cif failed: %d", int(status))
	}
	return &cifState{cif: cif, typesVec: typesVec}, nil
}

func (s *cifState) free() {
	if s == nil {
		return
	}
	if s.cif != nil {
		C.free(unsafe.Pointer(s.cif))
	}
	if s.typesVec != nil {
		C.free(s.typesVec)
	}
}

// CallbackTrampoline is a native function emitted for a method signature.
// Incoming arguments are packed into a slot array, the uniform handler runs,
// and the return slot is marshalled back as the native return value.
type CallbackTrampoline struct {
	rt         *Runtime
	method     *descriptor.Method
	normalized descriptor.Method
	handler    CallHandler
	userData   unsafe.Pointer

	once       sync.Once
	handle     cgo.Handle
	closure    unsafe.Pointer
	executable unsafe.Pointer
	state      *cifState
	addr       uintptr
	errstr     string
}

// NewCallbackTrampoline validates the signature and builds an unemitted
// trampoline. Validation failures are recorded on the trampoline and also
// returned.
func (rt *Runtime) NewCallbackTrampoline(m *descriptor.Method, policy HiddenReturnPolicy, handler CallHandler, userData unsafe.Pointer) (*CallbackTrampoline, error) {
	t := &CallbackTrampoline{rt: rt, method: m, handler: handler, userData: userData}
	normalized, err := Prepare(m, policy)
	if err != nil {
		t.errstr = err.Error()
		return t, err
	}
	t.normalized = normalized
	return t, nil
}

// Emit materialises the native function and returns its address. Emission is
// one-shot: later calls return the cached address. A zero address signals
// failure; see Error.
func (t *CallbackTrampoline) Emit() uintptr {
	t.once.Do(t.emit)
	return t.addr
}

func (t *CallbackTrampoline) emit() {
	if t.errstr != "" {
		return
	}
	if !t.rt.alive() {
		t.errstr = ErrRuntimeInvalid.Error()
		return
	}

	state, err := prepareCIF(&t.normalized)
	if err != nil {
		t.errstr = err.Error()
		return
	}

	var executable unsafe.Pointer
	closure := C.plugify_closure_alloc(&executable)
	if closure == nil {
		state.free()
		t.errstr = "ffi_closure_alloc failed"
		return
	}

	t.handle = cgo.NewHandle(t)
	status := C.plugify_prep_closure(closure, state.cif,
		unsafe.Pointer(uintptr(t.handle)), executable) //nolint:govet // handle travels as integer
	if status != C.FFI_OK {
		C.plugify_closure_free(closure)
		t.handle.Delete()
		state.free()
		t.errstr = oops.Code("JIT_EMIT_ERROR").Errorf("ffi_prep_closure failed: %d", int(status)).Error()
		return
	}

	t.state = state
	t.closure = closure
	t.executable = executable
	t.addr = uintptr(executable)
}

// Address returns the emitted address, or zero before Emit or on failure.
func (t *CallbackTrampoline) Address() uintptr { return t.addr }

// Error returns the recorded failure, empty when healthy.
func (t *CallbackTrampoline) Error() string { return t.errstr }

// Close releases the emitted code. The address must not be invoked after.
func (t *CallbackTrampoline) Close() {
	if t.closure != nil {
		C.plugify_closure_free(t.closure)
		t.closure = nil
		t.handle.Delete()
	}
	t.state.free()
	t.state = nil
	t.addr = 0
}

// plugifyCallbackBridge is the Go landing pad for closure invocations. It
// packs the native arguments into slots, dispatches the handler, reloads the
// argument cells from the slots and marshals the return slot out.
//
//export plugifyCallbackBridge
func plugifyCallbackBridge(_ *C.ffi_cif, ret unsafe.Pointer, argv *unsafe.Pointer, user C.uintptr_t) {
	t := cgo.Handle(user).Value().(*CallbackTrampoline)
	n := len(t.normalized.ParamTypes)

	var args []unsafe.Pointer
	if n > 0 {
		args = unsafe.Slice(argv, n)
	}

	slots := NewSlots(n)
	for i, p := range t.normalized.ParamTypes {
		*slots.At(i) = loadArg(p, args[i])
	}

	var retSlot Slot
	t.handler(t.method, t.userData, slots, &retSlot)

	for i, p := range t.normalized.ParamTypes {
		storeArg(p, args[i], *slots.At(i))
	}
	if t.normalized.RetType.Type != descriptor.TypeVoid && ret != nil {
		// Integral returns narrower than a word are stored widened, as
		// libffi requires.
		*(*uint64)(ret) = uint64(retSlot)
	}
}

// loadArg reads one native argument cell into a slot, by declared width.
func loadArg(p descriptor.Param, cell unsafe.Pointer) Slot {
	switch typeWidth(p) {
	case 1:
		return Slot(*(*uint8)(cell))
	case 2:
		return Slot(*(*uint16)(cell))
	case 4:
		return Slot(*(*uint32)(cell))
	default:
		return Slot(*(*uint64)(cell))
	}
}

// storeArg writes a slot back into a native argument cell.
func storeArg(p descriptor.Param, cell unsafe.Pointer, s Slot) {
	switch typeWidth(p) {
	case 1:
		*(*uint8)(cell) = uint8(s)
	case 2:
		*(*uint16)(cell) = uint16(s)
	case 4:
		*(*uint32)(cell) = uint32(s)
	default:
		*(*uint64)(cell) = uint64(s)
	}
}

// CallTrampoline adapts a slot array onto a native indirect call: each slot
// is loaded per the signature, the target is invoked and the return value is
// written into a single result slot.
type CallTrampoline struct {
	rt         *Runtime
	method     *descriptor.Method
	normalized descriptor.Method
	target     uintptr

	once   sync.Once
	state  *cifState
	errstr string
}

// NewCallTrampoline validates the signature and builds an unemitted call
// trampoline for target.
func (rt *Runtime) NewCallTrampoline(m *descriptor.Method, policy HiddenReturnPolicy, target uintptr) (*CallTrampoline, error) {
	t := &CallTrampoline{rt: rt, method: m, target: target}
	normalized, err := Prepare(m, policy)
	if err != nil {
		t.errstr = err.Error()
		return t, err
	}
	t.normalized = normalized
	return t, nil
}

// Error returns the recorded failure, empty when healthy.
func (t *CallTrampoline) Error() string { return t.errstr }

// Close releases the prepared call interface.
func (t *CallTrampoline) Close() {
	t.state.free()
	t.state = nil
}

// Call performs the native call with the given argument slots. ret receives
// the return value; pass nil for void.
func (t *CallTrampoline) Call(args *Slots, ret *Slot) error {
	t.once.Do(func() {
		if t.errstr != "" {
			return
		}
		if !t.rt.alive() {
			t.errstr = ErrRuntimeInvalid.Error()
			return
		}
		state, err := prepareCIF(&t.normalized)
		if err != nil {
			t.errstr = err.Error()
			return
		}
		t.state = state
	})
	if t.errstr != "" {
		return oops.Code("JIT_CALL_FAILED").Errorf("%s", t.errstr)
	}

	n := len(t.normalized.ParamTypes)
	var avalue unsafe.Pointer
	if n > 0 {
		// libffi wants per-argument value pointers; the uniform slot cells
		// hold every supported width in little-endian layout, so each slot
		// address doubles as the value pointer.
		vec := make([]unsafe.Pointer, n)
		for i := 0; i < n; i++ {
			vec[i] = unsafe.Pointer(args.At(i))
		}
		avalue = unsafe.Pointer(&vec[0])
	}

	var rvalue unsafe.Pointer
	var scratch Slot
	if t.normalized.RetType.Type != descriptor.TypeVoid {
		if ret == nil {
			ret = &scratch
		}
		rvalue = unsafe.Pointer(ret)
	}

	C.plugify_call(t.state.cif, unsafe.Pointer(t.target), rvalue, (*unsafe.Pointer)(avalue))
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

//go:build linux && cgo

package loader

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdint.h>
#include <stdlib.h>

// ABI of a language-module library. The factory returns a function table the
// host drives for the life of the module.

typedef struct plugify_plugin_info {
	int64_t id;
	const char* name;
	const char* entry_point;
	const char* base_dir;
} plugify_plugin_info;

typedef struct plugify_method_binding {
	const char* name;
	void* address;
} plugify_method_binding;

typedef struct plugify_load_result {
	int ok;
	const char* error;
	const plugify_method_binding* exports;
	int32_t export_count;
	const plugify_method_binding* imports;
	int32_t import_count;
} plugify_load_result;

typedef struct plugify_language_module {
	int  (*initialize)(void* provider);
	void (*shutdown)(void);
	plugify_load_result (*on_plugin_load)(const plugify_plugin_info*);
	void (*on_plugin_start)(const plugify_plugin_info*);
	void (*on_plugin_update)(const plugify_plugin_info*, double dt);
	void (*on_plugin_end)(const plugify_plugin_info*);
} plugify_language_module;

typedef plugify_language_module* (*plugify_factory_fn)(void);

static void* plugify_dlopen(const char* path, int global) {
	return dlopen(path, RTLD_NOW | (global ? RTLD_GLOBAL : RTLD_LOCAL));
}
static void* plugify_dlsym_clear(void* h, const char* name, char** err) {
	dlerror();
	void* p = dlsym(h, name);
	char* e = dlerror();
	if (e) { if (err) *err = e; return NULL; }
	if (err) *err = NULL;
	return p;
}
static int plugify_dlclose(void* h) { return dlclose(h); }
static const char* plugify_dlerror(void) { return dlerror(); }

static plugify_language_module* plugify_call_factory(void* sym) {
	return ((plugify_factory_fn)sym)();
}
static int plugify_mod_initialize(plugify_language_module* m, void* provider) {
	return m->initialize ? m->initialize(provider) : 0;
}
static void plugify_mod_shutdown(plugify_language_module* m) {
	if (m->shutdown) m->shutdown();
}
static plugify_load_result plugify_mod_on_load(plugify_language_module* m, const plugify_plugin_info* p) {
	plugify_load_result empty = {0};
	return m->on_plugin_load ? m->on_plugin_load(p) : empty;
}
static void plugify_mod_on_start(plugify_language_module* m, const plugify_plugin_info* p) {
	if (m->on_plugin_start) m->on_plugin_start(p);
}
static void plugify_mod_on_update(plugify_language_module* m, const plugify_plugin_info* p, double dt) {
	if (m->on_plugin_update) m->on_plugin_update(p, dt);
}
static void plugify_mod_on_end(plugify_language_module* m, const plugify_plugin_info* p) {
	if (m->on_plugin_end) m->on_plugin_end(p);
}
*/
import "C"

import (
	"os"
	"path/filepath"
	"runtime/cgo"
	"strings"
	"time"
	"unsafe"

	"github.com/samber/oops"

	"github.com/plugify/plugify/internal/manager"
)

// NativeLoader loads module libraries with dlopen and adapts their function
// tables to the manager's LanguageModule interface.
type NativeLoader struct{}

// NewNativeLoader creates the dlopen-backed module loader.
func NewNativeLoader() *NativeLoader { return &NativeLoader{} }

// dlerr returns the last dlerror as a Go string, or a fallback label.
func dlerr() string {
	if e := C.plugify_dlerror(); e != nil {
		return C.GoString(e)
	}
	return "unknown dlerror"
}

// Load opens the module's native library, honouring libraryDirectories and
// the symbol-preference policy, resolves the factory symbol and binds the
// returned table.
func (l *NativeLoader) Load(module *manager.Module, preferOwnSymbols bool) (manager.LanguageModule, func() error, error) {
	desc := module.Descriptor()

	// Dependency libraries are made visible before the module itself opens.
	var depHandles []unsafe.Pointer
	for _, dir := range desc.LibraryDirectories {
		depHandles = append(depHandles, openLibraryDir(filepath.Join(module.BaseDir(), dir))...)
	}

	path := module.LibraryPath()
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	global := 1
	if preferOwnSymbols {
		global = 0
	}
	handle := C.plugify_dlopen(cpath, C.int(global))
	if handle == nil {
		closeAll(depHandles)
		return nil, nil, oops.Code("MODULE_OPEN_FAILED").
			With("module", module.Name()).
			Errorf("dlopen(%q) failed: %s", path, dlerr())
	}

	csym := C.CString(FactorySymbol)
	defer C.free(unsafe.Pointer(csym))
	var cerr *C.char
	sym := C.plugify_dlsym_clear(handle, csym, &cerr)
	if sym == nil {
		msg := "symbol not found"
		if cerr != nil {
			msg = C.GoString(cerr)
		}
		_ = C.plugify_dlclose(handle)
		closeAll(depHandles)
		return nil, nil, oops.Code("MODULE_SYMBOL_MISSING").
			With("module", module.Name()).
			Errorf("dlsym(%q) failed: %s", FactorySymbol, msg)
	}

	table := C.plugify_call_factory(sym)
	if table == nil {
		_ = C.plugify_dlclose(handle)
		closeAll(depHandles)
		return nil, nil, oops.Code("MODULE_FACTORY_FAILED").
			With("module", module.Name()).
			Errorf("%s returned no module table", FactorySymbol)
	}

	native := &nativeModule{table: table}
	unload := func() error {
		native.free()
		closeAll(depHandles)
		if C.plugify_dlclose(handle) != 0 {
			return oops.Code("MODULE_CLOSE_FAILED").Errorf("dlclose failed: %s", dlerr())
		}
		return nil
	}
	return native, unload, nil
}

// openLibraryDir dlopens every shared library in dir with global visibility
// so the module's dependencies resolve.
func openLibraryDir(dir string) []unsafe.Pointer {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var handles []unsafe.Pointer
	for _, entry := range entries {
		if entry.IsDir() || !strings.Contains(entry.Name(), ".so") {
			continue
		}
		cpath := C.CString(filepath.Join(dir, entry.Name()))
		if h := C.plugify_dlopen(cpath, 1); h != nil {
			handles = append(handles, h)
		}
		C.free(unsafe.Pointer(cpath))
	}
	return handles
}

func closeAll(handles []unsafe.Pointer) {
	for _, h := range handles {
		_ = C.plugify_dlclose(h)
	}
}

// nativeModule adapts a C function table to manager.LanguageModule.
type nativeModule struct {
	table          *C.plugify_language_module
	providerHandle cgo.Handle
}

func (n *nativeModule) free() {
	if n.providerHandle != 0 {
		n.providerHandle.Delete()
		n.providerHandle = 0
	}
}

// Initialize hands the module an opaque provider handle.
func (n *nativeModule) Initialize(provider *manager.Provider) error {
	n.providerHandle = cgo.NewHandle(provider)
	ok := C.plugify_mod_initialize(n.table, unsafe.Pointer(uintptr(n.providerHandle))) //nolint:govet // handle travels as integer
	if ok == 0 {
		return oops.Code("MODULE_INIT_FAILED").Errorf("module initialize returned failure")
	}
	return nil
}

// Shutdown stops the module.
func (n *nativeModule) Shutdown() {
	C.plugify_mod_shutdown(n.table)
}

// pluginInfo marshals a plugin view into the C info struct. The returned
// free func releases the C strings after the call returns.
func pluginInfo(plugin *manager.Plugin) (*C.plugify_plugin_info, func()) {
	info := (*C.plugify_plugin_info)(C.calloc(1, C.size_t(unsafe.Sizeof(C.plugify_plugin_info{}))))
	info.id = C.int64_t(plugin.ID())
	info.name = C.CString(plugin.Name())
	info.entry_point = C.CString(plugin.Descriptor().EntryPoint)
	info.base_dir = C.CString(plugin.BaseDir())
	return info, func() {
		C.free(unsafe.Pointer(info.name))
		C.free(unsafe.Pointer(info.entry_point))
		C.free(unsafe.Pointer(info.base_dir))
		C.free(unsafe.Pointer(info))
	}
}

// OnPluginLoad asks the module to instantiate the plugin and converts the
// returned bindings.
func (n *nativeModule) OnPluginLoad(plugin *manager.Plugin) manager.LoadResult {
	info, free := pluginInfo(plugin)
	defer free()

	raw := C.plugify_mod_on_load(n.table, info)
	if raw.ok == 0 {
		msg := "module rejected plugin"
		if raw.error != nil {
			msg = C.GoString(raw.error)
		}
		return manager.LoadResult{Error: msg}
	}

	return manager.LoadResult{
		Exports: bindings(raw.exports, int(raw.export_count)),
		Imports: bindings(raw.imports, int(raw.import_count)),
	}
}

// bindings converts a C binding array.
func bindings(raw *C.plugify_method_binding, count int) []manager.MethodAddress {
	if raw == nil || count <= 0 {
		return nil
	}
	out := make([]manager.MethodAddress, 0, count)
	for _, b := range unsafe.Slice(raw, count) {
		out = append(out, manager.MethodAddress{
			Name:    C.GoString(b.name),
			Address: uintptr(b.address),
		})
	}
	return out
}

// OnPluginStart notifies the module that the plugin is starting.
func (n *nativeModule) OnPluginStart(plugin *manager.Plugin) {
	info, free := pluginInfo(plugin)
	defer free()
	C.plugify_mod_on_start(n.table, info)
}

// OnPluginUpdate ticks the plugin.
func (n *nativeModule) OnPluginUpdate(plugin *manager.Plugin, dt time.Duration) {
	info, free := pluginInfo(plugin)
	defer free()
	C.plugify_mod_on_update(n.table, info, C.double(dt.Seconds()))
}

// OnPluginEnd notifies the module that the plugin is stopping.
func (n *nativeModule) OnPluginEnd(plugin *manager.Plugin) {
	info, free := pluginInfo(plugin)
	defer free()
	C.plugify_mod_on_end(n.table, info)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package manager

import (
	"path/filepath"

	"github.com/plugify/plugify/internal/descriptor"
)

// ModuleState is the lifecycle state of a language module.
type ModuleState int

// Module states. Transitions: NotLoaded -> Loaded | Error; either terminal
// state returns to NotLoaded on teardown.
const (
	ModuleNotLoaded ModuleState = iota
	ModuleLoaded
	ModuleError
)

// String returns the state name.
func (s ModuleState) String() string {
	switch s {
	case ModuleLoaded:
		return "Loaded"
	case ModuleError:
		return "Error"
	default:
		return "NotLoaded"
	}
}

// Module is the runtime representation of one language module package. The
// manager exclusively owns it; references handed out are non-owning views.
type Module struct {
	id         int64
	name       string
	language   string
	desc       *descriptor.LanguageModuleDescriptor
	filePath   string
	baseDir    string
	state      ModuleState
	errstr     string
	iface      LanguageModule
	unload     func() error
	loadedPlugins []*Plugin
}

// newModule builds a NotLoaded module from its local package.
func newModule(id int64, name, descriptorPath string, desc *descriptor.LanguageModuleDescriptor) *Module {
	return &Module{
		id:       id,
		name:     name,
		language: desc.Language,
		desc:     desc,
		filePath: descriptorPath,
		baseDir:  filepath.Dir(descriptorPath),
		state:    ModuleNotLoaded,
	}
}

// ID returns the process-unique module id.
func (m *Module) ID() int64 { return m.id }

// Name returns the package name.
func (m *Module) Name() string { return m.name }

// Language returns the language tag the module serves.
func (m *Module) Language() string { return m.language }

// Descriptor returns the parsed module descriptor.
func (m *Module) Descriptor() *descriptor.LanguageModuleDescriptor { return m.desc }

// FilePath returns the descriptor file path.
func (m *Module) FilePath() string { return m.filePath }

// BaseDir returns the module's installation directory.
func (m *Module) BaseDir() string { return m.baseDir }

// State returns the lifecycle state.
func (m *Module) State() ModuleState { return m.state }

// Error returns the stored failure, empty when healthy.
func (m *Module) Error() string { return m.errstr }

// Interface returns the bound language-module interface, nil before load.
func (m *Module) Interface() LanguageModule { return m.iface }

// LoadedPlugins returns non-owning views of the plugins this module drives.
func (m *Module) LoadedPlugins() []*Plugin { return m.loadedPlugins }

// LibraryPath resolves the native library location from the entry point.
func (m *Module) LibraryPath() string {
	return filepath.Join(m.baseDir, m.desc.EntryPoint)
}

// setError moves the module to Error with the given message.
func (m *Module) setError(msg string) {
	m.state = ModuleError
	m.errstr = msg
}

// setLoaded moves the module to Loaded.
func (m *Module) setLoaded(iface LanguageModule, unload func() error) {
	m.state = ModuleLoaded
	m.iface = iface
	m.unload = unload
}

// reset returns the module to NotLoaded and drops its bindings.
func (m *Module) reset() {
	m.state = ModuleNotLoaded
	m.errstr = ""
	m.iface = nil
	m.unload = nil
	m.loadedPlugins = nil
}

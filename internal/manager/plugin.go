// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package manager

import (
	"path/filepath"

	"github.com/plugify/plugify/internal/descriptor"
)

// PluginState is the lifecycle state of a plugin.
type PluginState int

// Plugin states. A plugin in Loaded, Running or Terminating always belongs
// to a Loaded module.
const (
	PluginNotLoaded PluginState = iota
	PluginError
	PluginLoaded
	PluginRunning
	PluginTerminating
)

// String returns the state name.
func (s PluginState) String() string {
	switch s {
	case PluginError:
		return "Error"
	case PluginLoaded:
		return "Loaded"
	case PluginRunning:
		return "Running"
	case PluginTerminating:
		return "Terminating"
	default:
		return "NotLoaded"
	}
}

// MethodData is the executable callable for an exported method after the
// owning module has bound it.
type MethodData struct {
	Method  *descriptor.Method
	Address uintptr
}

// Plugin is the runtime representation of one plugin package. The manager
// exclusively owns it; references handed out are non-owning views.
type Plugin struct {
	id       int64
	name     string
	desc     *descriptor.PluginDescriptor
	filePath string
	baseDir  string
	state    PluginState
	errstr   string
	module   *Module
	methods  []MethodData
}

// newPlugin builds a NotLoaded plugin from its local package.
func newPlugin(id int64, name, descriptorPath string, desc *descriptor.PluginDescriptor) *Plugin {
	return &Plugin{
		id:       id,
		name:     name,
		desc:     desc,
		filePath: descriptorPath,
		baseDir:  filepath.Dir(descriptorPath),
		state:    PluginNotLoaded,
	}
}

// ID returns the process-unique plugin id, assigned in discovery order.
func (p *Plugin) ID() int64 { return p.id }

// Name returns the package name.
func (p *Plugin) Name() string { return p.name }

// FriendlyName returns the display name, falling back to the package name.
func (p *Plugin) FriendlyName() string {
	if p.desc.FriendlyName != "" {
		return p.desc.FriendlyName
	}
	return p.name
}

// Descriptor returns the parsed plugin descriptor.
func (p *Plugin) Descriptor() *descriptor.PluginDescriptor { return p.desc }

// FilePath returns the descriptor file path.
func (p *Plugin) FilePath() string { return p.filePath }

// BaseDir returns the plugin's installation directory.
func (p *Plugin) BaseDir() string { return p.baseDir }

// State returns the lifecycle state.
func (p *Plugin) State() PluginState { return p.state }

// Error returns the stored failure, empty when healthy.
func (p *Plugin) Error() string { return p.errstr }

// Module returns the owning module, nil until discovery resolved it.
func (p *Plugin) Module() *Module { return p.module }

// Methods returns the bound exported methods after a successful load.
func (p *Plugin) Methods() []MethodData { return p.methods }

// FindMethod returns the bound method by name, or nil.
func (p *Plugin) FindMethod(name string) *MethodData {
	for i := range p.methods {
		if p.methods[i].Method.Name == name {
			return &p.methods[i]
		}
	}
	return nil
}

// setError moves the plugin to Error with the given message.
func (p *Plugin) setError(msg string) {
	p.state = PluginError
	p.errstr = msg
}

// reset returns the plugin to NotLoaded and drops its bindings.
func (p *Plugin) reset() {
	p.state = PluginNotLoaded
	p.errstr = ""
	p.methods = nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package manager

import (
	"errors"
	"sync/atomic"

	"github.com/plugify/plugify/internal/descriptor"
	"github.com/plugify/plugify/internal/logging"
)

// ErrRuntimeGone names the condition of a capability used after the runtime
// was torn down. The Provider's capabilities do not return it; after teardown
// they return zero values.
var ErrRuntimeGone = errors.New("plugify runtime has been torn down")

// Provider is the narrow capability handle given to each language module at
// Initialize. It holds a weak back-reference to the manager: once the
// runtime is torn down every capability degrades instead of keeping the
// runtime alive.
type Provider struct {
	manager  *Manager
	released atomic.Bool
}

// newProvider builds the provider handle for a manager.
func newProvider(m *Manager) *Provider {
	return &Provider{manager: m}
}

// release severs the back-reference at teardown.
func (p *Provider) release() {
	p.released.Store(true)
}

// alive returns the manager while the runtime is up, nil afterwards.
func (p *Provider) alive() *Manager {
	if p == nil || p.released.Load() {
		return nil
	}
	return p.manager
}

// Log forwards a language-module message to the host's logging sink.
func (p *Provider) Log(msg string, severity logging.Severity) {
	m := p.alive()
	if m == nil {
		return
	}
	logging.Log(m.log, severity, msg)
}

// BaseDir returns the root of the installation.
func (p *Provider) BaseDir() string {
	m := p.alive()
	if m == nil {
		return ""
	}
	return m.cfg.BaseDir
}

// IsPreferOwnSymbols reports the symbol-resolution policy for module
// libraries.
func (p *Provider) IsPreferOwnSymbols() bool {
	m := p.alive()
	if m == nil {
		return false
	}
	return m.cfg.PreferOwnSymbols
}

// IsPluginLoaded reports whether a plugin is live, optionally at an exact
// version or, with minimum set, at least that version. Terminating plugins
// do not count as loaded.
func (p *Provider) IsPluginLoaded(name string, version *descriptor.Version, minimum bool) bool {
	m := p.alive()
	if m == nil {
		return false
	}
	plugin := m.FindPlugin(name)
	if plugin == nil {
		return false
	}
	if plugin.state != PluginLoaded && plugin.state != PluginRunning {
		return false
	}
	if version == nil {
		return true
	}
	if minimum {
		return plugin.desc.Version >= *version
	}
	return plugin.desc.Version == *version
}

// IsModuleLoaded reports whether a language module is loaded, with the same
// version semantics as IsPluginLoaded.
func (p *Provider) IsModuleLoaded(name string, version *descriptor.Version, minimum bool) bool {
	m := p.alive()
	if m == nil {
		return false
	}
	module := m.findModuleByNameOrLang(name)
	if module == nil {
		return false
	}
	if module.state != ModuleLoaded {
		return false
	}
	if version == nil {
		return true
	}
	if minimum {
		return module.desc.Version >= *version
	}
	return module.desc.Version == *version
}

// FindPlugin returns a non-owning view of a plugin, or nil.
func (p *Provider) FindPlugin(name string) *Plugin {
	m := p.alive()
	if m == nil {
		return nil
	}
	return m.FindPlugin(name)
}

// FindModule returns a non-owning view of a module by package name or
// language tag, or nil.
func (p *Provider) FindModule(name string) *Module {
	m := p.alive()
	if m == nil {
		return nil
	}
	return m.findModuleByNameOrLang(name)
}

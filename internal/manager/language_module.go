// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

// Package manager turns resolved local packages into a correctly-ordered
// load graph, drives language-module and plugin lifecycles and mediates
// lookups between them.
package manager

import (
	"time"
)

// MethodAddress pairs a method name with the native address a language
// module bound it to.
type MethodAddress struct {
	Name    string
	Address uintptr
}

// LoadResult is a language module's answer to OnPluginLoad: either the bound
// exports (plus optionally resolved imports) or an error message.
type LoadResult struct {
	Exports []MethodAddress
	Imports []MethodAddress
	Error   string
}

// Failed reports whether the module rejected the plugin.
func (r LoadResult) Failed() bool { return r.Error != "" }

// LanguageModule is the capability set a loaded module library exposes. The
// native loader resolves it from the library's factory symbol; tests provide
// in-memory implementations.
type LanguageModule interface {
	// Initialize hands the module its provider handle. An error fails the
	// module.
	Initialize(provider *Provider) error
	// Shutdown releases the module. No plugin of this module is live when
	// called.
	Shutdown()
	// OnPluginLoad instantiates a plugin and binds its exported methods.
	OnPluginLoad(plugin *Plugin) LoadResult
	// OnPluginStart runs after a successful load, before the first update.
	OnPluginStart(plugin *Plugin)
	// OnPluginUpdate advances a running plugin by dt.
	OnPluginUpdate(plugin *Plugin, dt time.Duration)
	// OnPluginEnd stops a terminating plugin.
	OnPluginEnd(plugin *Plugin)
}

// ModuleLoader loads a module's native library and binds its interface.
// unload releases the library handle; it runs after Shutdown.
type ModuleLoader interface {
	Load(module *Module, preferOwnSymbols bool) (iface LanguageModule, unload func() error, err error)
}

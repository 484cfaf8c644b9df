// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

// Package plugify wires the runtime together: configuration, logging, the
// package manager and the plugin manager.
package plugify

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"unsafe"

	"github.com/samber/oops"

	"github.com/plugify/plugify/internal/config"
	"github.com/plugify/plugify/internal/descriptor"
	"github.com/plugify/plugify/internal/jit"
	"github.com/plugify/plugify/internal/loader"
	"github.com/plugify/plugify/internal/logging"
	"github.com/plugify/plugify/internal/manager"
	"github.com/plugify/plugify/internal/pkgmanager"
)

// Version is the runtime release, overridable at link time.
var Version = "0.9.0"

// Plugify is the runtime root. It owns the package manager and the plugin
// manager; everything handed out is a non-owning view valid until Terminate.
type Plugify struct {
	cfg *config.Config
	log *slog.Logger

	packageManager *pkgmanager.Manager
	pluginManager  *manager.Manager
	jitRuntime     *jit.Runtime
	inited         bool
}

// New builds an uninitialized runtime over the given configuration. A nil
// logger falls back to the process default.
func New(cfg *config.Config, log *slog.Logger) (*Plugify, error) {
	if cfg == nil {
		return nil, oops.Code("PLUGIFY_NO_CONFIG").Errorf("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	p := &Plugify{cfg: cfg, log: log}
	p.packageManager = pkgmanager.NewManager(
		pkgmanager.Config{
			BaseDir:        cfg.BaseDir,
			Repositories:   cfg.Repositories,
			RuntimeVersion: Version,
			Verification:   cfg.PackageVerification,
			VerifyURL:      cfg.PackageVerifyURL,
		},
		pkgmanager.WithLogger(log),
	)
	p.pluginManager = manager.NewManager(
		manager.Config{
			BaseDir:          cfg.BaseDir,
			PreferOwnSymbols: cfg.PreferOwnSymbols,
		},
		p.packageManager,
		manager.WithLogger(log),
		manager.WithModuleLoader(loader.NewNativeLoader()),
	)
	p.jitRuntime = jit.NewRuntime()
	return p, nil
}

// Initialize reconciles the package catalogues, then discovers, orders and
// starts the plugin graph.
func (p *Plugify) Initialize() error {
	if p.inited {
		return oops.Code("PLUGIFY_ALREADY_INITIALIZED").Errorf("runtime already initialized")
	}

	p.log.Info("plugify init", "version", Version)

	if err := p.packageManager.Initialize(); err != nil {
		// The only fatal startup condition: no HTTP machinery.
		return oops.Code("PLUGIFY_INIT_FAILED").Wrapf(err, "initialize package manager")
	}
	if err := p.pluginManager.Initialize(); err != nil {
		p.packageManager.Terminate()
		return oops.Code("PLUGIFY_INIT_FAILED").Wrapf(err, "initialize plugin manager")
	}
	if err := p.packageManager.Watch(); err != nil {
		p.log.Warn("package folder watching disabled", "error", err)
	}

	p.inited = true
	return nil
}

// Terminate unwinds the plugin graph and releases the catalogues. Safe to
// call on an uninitialized runtime.
func (p *Plugify) Terminate() {
	if !p.inited {
		return
	}
	p.pluginManager.Terminate()
	p.packageManager.Terminate()
	p.jitRuntime.Close()
	p.inited = false
	p.log.Info("plugify terminated")
}

// IsInitialized reports whether Initialize succeeded.
func (p *Plugify) IsInitialized() bool { return p.inited }

// Update ticks every running plugin.
func (p *Plugify) Update(dt time.Duration) {
	if p.inited {
		p.pluginManager.Update(dt)
	}
}

// Log forwards a message to the runtime's sink at the given severity.
func (p *Plugify) Log(msg string, severity logging.Severity) {
	logging.Log(p.log, severity, msg)
}

// PackageManager returns a non-owning view of the package manager.
func (p *Plugify) PackageManager() *pkgmanager.Manager { return p.packageManager }

// PluginManager returns a non-owning view of the plugin manager.
func (p *Plugify) PluginManager() *manager.Manager { return p.pluginManager }

// Config returns the runtime configuration.
func (p *Plugify) Config() *config.Config { return p.cfg }

// NewMethodCall materialises a native callable for another plugin's bound
// exported method. The trampoline stays valid until closed or until the
// runtime terminates.
func (p *Plugify) NewMethodCall(pluginName, methodName string) (*jit.CallTrampoline, error) {
	plugin := p.pluginManager.FindPlugin(pluginName)
	if plugin == nil {
		return nil, oops.Code("PLUGIFY_PLUGIN_NOT_FOUND").Errorf("plugin %q not found", pluginName)
	}
	data := plugin.FindMethod(methodName)
	if data == nil {
		return nil, oops.Code("PLUGIFY_METHOD_NOT_FOUND").
			Errorf("plugin %q exports no method %q", pluginName, methodName)
	}
	return p.jitRuntime.NewCallTrampoline(data.Method, nil, data.Address)
}

// NewMethodCallback materialises a native function for a signature that
// dispatches into handler. Language modules use it to hand guest functions
// to native callers.
func (p *Plugify) NewMethodCallback(method *descriptor.Method, handler jit.CallHandler, userData unsafe.Pointer) (*jit.CallbackTrampoline, error) {
	return p.jitRuntime.NewCallbackTrampoline(method, nil, handler, userData)
}

// FindResource resolves a plugin-relative resource path. User overrides
// under the base directory win over the plugin's own content.
func (p *Plugify) FindResource(plugin *manager.Plugin, relPath string) (string, bool) {
	override := filepath.Join(p.cfg.BaseDir, relPath)
	if _, err := os.Stat(override); err == nil {
		return override, true
	}
	bundled := filepath.Join(plugin.BaseDir(), relPath)
	if _, err := os.Stat(bundled); err == nil {
		return bundled, true
	}
	return "", false
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package manager

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/samber/oops"

	"github.com/plugify/plugify/internal/descriptor"
	"github.com/plugify/plugify/internal/pkgmanager"
)

// PackageSource supplies the resolved local package set the manager
// discovers from. The plugin manager holds non-owning views of the packages.
type PackageSource interface {
	LocalPackages() []*pkgmanager.LocalPackage
}

// Config carries the plugin manager's slice of the runtime configuration.
type Config struct {
	BaseDir          string
	PreferOwnSymbols bool
}

// Manager owns every runtime Module and Plugin. Lifecycle calls run on the
// caller's goroutine; across plugins, relative ordering follows the
// dependency topological sort.
type Manager struct {
	cfg    Config
	log    *slog.Logger
	source PackageSource
	loader ModuleLoader

	provider *Provider
	modules  []*Module
	plugins  []*Plugin
	ordered  []*Plugin // topological load order
	nextID   int64
	inited   bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithModuleLoader replaces the native library loader, e.g. for tests.
func WithModuleLoader(loader ModuleLoader) Option {
	return func(m *Manager) { m.loader = loader }
}

// NewManager creates a plugin manager over the given package source.
func NewManager(cfg Config, source PackageSource, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		log:    slog.Default(),
		source: source,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize discovers modules and plugins, loads every required language
// module and then loads and starts the plugins in dependency order.
func (m *Manager) Initialize() error {
	if m.inited {
		return oops.Code("MANAGER_ALREADY_INITIALIZED").Errorf("plugin manager already initialized")
	}
	m.inited = true
	m.provider = newProvider(m)

	start := time.Now()
	m.discoverAllModulesAndPlugins()
	m.loadRequiredLanguageModules()
	m.loadAndStartAvailablePlugins()
	m.log.Debug("plugin manager loaded",
		"modules", len(m.modules),
		"plugins", len(m.plugins),
		"elapsed", time.Since(start))
	return nil
}

// IsInitialized reports whether Initialize ran.
func (m *Manager) IsInitialized() bool { return m.inited }

// Terminate unloads plugins in reverse dependency order, then tears modules
// down in reverse discovery order.
func (m *Manager) Terminate() {
	if !m.inited {
		return
	}
	m.terminateAllPlugins()
	m.terminateAllModules()
	if m.provider != nil {
		m.provider.release()
		m.provider = nil
	}
	m.modules = nil
	m.plugins = nil
	m.ordered = nil
	m.nextID = 0
	m.inited = false
}

// Update ticks every running plugin in dependency order.
func (m *Manager) Update(dt time.Duration) {
	for _, plugin := range m.ordered {
		if plugin.state != PluginRunning {
			continue
		}
		plugin.module.iface.OnPluginUpdate(plugin, dt)
	}
}

// discoverAllModulesAndPlugins instantiates runtime objects from the package
// manager's local set. IDs are assigned in discovery order. Plugins whose
// language module has no local counterpart fail immediately.
func (m *Manager) discoverAllModulesAndPlugins() {
	for _, pkg := range m.source.LocalPackages() {
		if desc := pkg.Module(); desc != nil {
			if existing := m.FindModuleFromLang(desc.Language); existing != nil {
				m.log.Warn("duplicate language module ignored",
					"module", pkg.Name,
					"language", desc.Language,
					"kept", existing.Name())
				continue
			}
			m.modules = append(m.modules, newModule(m.nextID, pkg.Name, pkg.Path, desc))
			m.nextID++
		}
	}

	for _, pkg := range m.source.LocalPackages() {
		desc := pkg.Plugin()
		if desc == nil {
			continue
		}
		if m.FindPlugin(pkg.Name) != nil {
			// Discovery uniqueness: one runtime plugin per name.
			m.log.Warn("duplicate plugin ignored", "plugin", pkg.Name)
			continue
		}
		plugin := newPlugin(m.nextID, pkg.Name, pkg.Path, desc)
		m.nextID++

		if module := m.FindModuleFromLang(desc.LanguageModule.Name); module != nil {
			plugin.module = module
		} else {
			plugin.setError(fmt.Sprintf("language module %q is missing", desc.LanguageModule.Name))
			m.log.Error("plugin requires missing language module",
				"plugin", pkg.Name,
				"language", desc.LanguageModule.Name)
		}
		m.plugins = append(m.plugins, plugin)
	}
}

// loadRequiredLanguageModules loads every module some plugin needs, plus the
// force-loaded ones. All modules load before any plugin.
func (m *Manager) loadRequiredLanguageModules() {
	required := map[*Module]struct{}{}
	for _, plugin := range m.plugins {
		if plugin.module != nil {
			required[plugin.module] = struct{}{}
		}
	}

	for _, module := range m.modules {
		_, needed := required[module]
		if !needed && !module.desc.ForceLoad {
			continue
		}
		m.loadModule(module)
	}
}

// loadModule binds one module's native library and initializes it.
func (m *Manager) loadModule(module *Module) {
	if m.loader == nil {
		module.setError("no module loader available")
		observeLifecycle("module_load_failed")
		return
	}

	iface, unload, err := m.loader.Load(module, m.cfg.PreferOwnSymbols)
	if err != nil {
		module.setError(err.Error())
		m.log.Error("language module failed to load",
			"module", module.name, "error", err)
		observeLifecycle("module_load_failed")
		return
	}

	if err := iface.Initialize(m.provider); err != nil {
		module.setError(err.Error())
		if unload != nil {
			_ = unload()
		}
		m.log.Error("language module failed to initialize",
			"module", module.name, "error", err)
		observeLifecycle("module_init_failed")
		return
	}

	module.setLoaded(iface, unload)
	m.log.Info("language module loaded",
		"module", module.name, "language", module.language)
	observeLifecycle("module_loaded")
}

// loadAndStartAvailablePlugins orders the plugins under their dependencies
// and drives each through load and start.
func (m *Manager) loadAndStartAvailablePlugins() {
	m.markCyclicPlugins()
	m.ordered = m.sortPluginsByDependencies()

	for _, plugin := range m.ordered {
		if plugin.state == PluginError {
			continue
		}
		m.loadPlugin(plugin)
	}
}

// loadPlugin drives one plugin through OnPluginLoad and OnPluginStart.
func (m *Manager) loadPlugin(plugin *Plugin) {
	if plugin.module == nil || plugin.module.state != ModuleLoaded {
		plugin.setError(fmt.Sprintf("language module %q is not loaded", plugin.desc.LanguageModule.Name))
		observeLifecycle("plugin_load_failed")
		return
	}

	if failed := m.findFailedDependency(plugin); failed != "" {
		plugin.setError("dependency failed: " + failed)
		m.log.Error("plugin skipped, dependency failed",
			"plugin", plugin.name, "dependency", failed)
		observeLifecycle("plugin_dependency_failed")
		return
	}

	result := plugin.module.iface.OnPluginLoad(plugin)
	if result.Failed() {
		plugin.setError(result.Error)
		m.log.Error("plugin failed to load", "plugin", plugin.name, "error", result.Error)
		observeLifecycle("plugin_load_failed")
		return
	}

	if err := m.checkLoadResult(plugin, &result); err != nil {
		plugin.setError(err.Error())
		m.log.Error("plugin load result rejected", "plugin", plugin.name, "error", err)
		observeLifecycle("plugin_load_failed")
		return
	}

	methods := make([]MethodData, 0, len(result.Exports))
	for _, export := range result.Exports {
		method := findDescriptorMethod(plugin.desc, export.Name)
		methods = append(methods, MethodData{Method: method, Address: export.Address})
	}
	plugin.methods = methods
	plugin.state = PluginLoaded
	plugin.module.loadedPlugins = append(plugin.module.loadedPlugins, plugin)

	plugin.module.iface.OnPluginStart(plugin)
	plugin.state = PluginRunning
	m.log.Info("plugin started", "plugin", plugin.name, "id", plugin.id)
	observeLifecycle("plugin_started")
}

// findFailedDependency returns the name of the first required dependency
// that is not live, or empty when all are satisfied.
func (m *Manager) findFailedDependency(plugin *Plugin) string {
	host := descriptor.HostPlatform()
	for _, dep := range plugin.desc.Dependencies {
		if dep.Optional || !descriptor.SupportsPlatform(dep.SupportedPlatforms, host) {
			continue
		}
		other := m.FindPlugin(dep.Name)
		if other == nil || (other.state != PluginLoaded && other.state != PluginRunning) {
			return dep.Name
		}
	}
	return ""
}

// checkLoadResult cross-checks the module's answer against the descriptor:
// the export set must match exactly, and imports must be satisfiable from
// already-loaded plugins.
func (m *Manager) checkLoadResult(plugin *Plugin, result *LoadResult) error {
	declared := plugin.desc.ExportedMethods
	if len(result.Exports) != len(declared) {
		return oops.Code("PLUGIN_EXPORT_MISMATCH").Errorf(
			"module bound %d methods, descriptor declares %d", len(result.Exports), len(declared))
	}
	for _, export := range result.Exports {
		if findDescriptorMethod(plugin.desc, export.Name) == nil {
			return oops.Code("PLUGIN_EXPORT_MISMATCH").Errorf(
				"module bound undeclared method %q", export.Name)
		}
		if export.Address == 0 {
			return oops.Code("PLUGIN_EXPORT_MISMATCH").Errorf(
				"method %q bound to a null address", export.Name)
		}
	}

	for _, imported := range result.Imports {
		if !m.importSatisfiable(imported.Name) {
			return oops.Code("PLUGIN_IMPORT_UNSATISFIED").Errorf(
				"imported method %q is not exported by any loaded plugin", imported.Name)
		}
	}
	return nil
}

// importSatisfiable reports whether some already-loaded plugin exports the
// named method.
func (m *Manager) importSatisfiable(name string) bool {
	for _, plugin := range m.plugins {
		if plugin.state != PluginLoaded && plugin.state != PluginRunning {
			continue
		}
		if plugin.FindMethod(name) != nil {
			return true
		}
	}
	return false
}

// findDescriptorMethod returns the declared method by name, or nil.
func findDescriptorMethod(desc *descriptor.PluginDescriptor, name string) *descriptor.Method {
	for i := range desc.ExportedMethods {
		if desc.ExportedMethods[i].Name == name {
			return &desc.ExportedMethods[i]
		}
	}
	return nil
}

// terminateAllPlugins unloads plugins in reverse dependency order.
func (m *Manager) terminateAllPlugins() {
	for i := len(m.ordered) - 1; i >= 0; i-- {
		plugin := m.ordered[i]
		switch plugin.state {
		case PluginRunning:
			plugin.state = PluginTerminating
			plugin.module.iface.OnPluginEnd(plugin)
			plugin.reset()
		case PluginLoaded:
			plugin.reset()
		}
	}
}

// terminateAllModules tears modules down in reverse discovery order. Their
// libraries unload strictly after every plugin they back is gone.
func (m *Manager) terminateAllModules() {
	for i := len(m.modules) - 1; i >= 0; i-- {
		module := m.modules[i]
		if module.state == ModuleLoaded {
			module.iface.Shutdown()
			if module.unload != nil {
				if err := module.unload(); err != nil {
					m.log.Warn("module library unload failed",
						"module", module.name, "error", err)
				}
			}
		}
		module.reset()
	}
}

// Modules returns non-owning views of every module in discovery order.
func (m *Manager) Modules() []*Module { return m.modules }

// Plugins returns non-owning views of every plugin in discovery order.
func (m *Manager) Plugins() []*Plugin { return m.plugins }

// FindPlugin returns the plugin with the given name, or nil.
func (m *Manager) FindPlugin(name string) *Plugin {
	for _, plugin := range m.plugins {
		if plugin.name == name {
			return plugin
		}
	}
	return nil
}

// FindPluginFromID returns the plugin with the given id, or nil.
func (m *Manager) FindPluginFromID(id int64) *Plugin {
	for _, plugin := range m.plugins {
		if plugin.id == id {
			return plugin
		}
	}
	return nil
}

// FindModule returns the module with the given package name, or nil.
func (m *Manager) FindModule(name string) *Module {
	for _, module := range m.modules {
		if module.name == name {
			return module
		}
	}
	return nil
}

// FindModuleFromID returns the module with the given id, or nil.
func (m *Manager) FindModuleFromID(id int64) *Module {
	for _, module := range m.modules {
		if module.id == id {
			return module
		}
	}
	return nil
}

// FindModuleFromLang returns the module serving the given language, or nil.
func (m *Manager) FindModuleFromLang(language string) *Module {
	for _, module := range m.modules {
		if module.language == language {
			return module
		}
	}
	return nil
}

// findModuleByNameOrLang resolves a module by package name first, language
// tag second. The provider facade uses it so either handle works.
func (m *Manager) findModuleByNameOrLang(name string) *Module {
	if module := m.FindModule(name); module != nil {
		return module
	}
	return m.FindModuleFromLang(name)
}

// FindModuleFromPath returns the module whose descriptor lives at the given
// path, or nil.
func (m *Manager) FindModuleFromPath(path string) *Module {
	clean := filepath.Clean(path)
	for _, module := range m.modules {
		if filepath.Clean(module.filePath) == clean {
			return module
		}
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package pkgmanager

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/plugify/plugify/internal/descriptor"
	"github.com/plugify/plugify/internal/download"
)

// packageFolder maps a package type onto its installation folder.
func packageFolder(packageType string) string {
	if packageType == descriptor.TypePlugin {
		return "plugins"
	}
	return "modules"
}

// localWalkDepth bounds the descriptor search below the base directory.
const localWalkDepth = 3

// missedDependency pairs a remote package with the version a plugin asked
// for; nil means latest.
type missedDependency struct {
	Remote  *RemotePackage
	Version *descriptor.Version
}

// Config carries the package manager's slice of the runtime configuration.
type Config struct {
	BaseDir        string
	Repositories   []string
	RuntimeVersion string // release of this runtime, for manifest runtime constraints
	Verification   bool
	VerifyURL      string
}

// Manager owns the local and remote package catalogues. All operations run on
// the caller's goroutine except downloader callbacks, which mutate the remote
// catalogue under the manager's mutex.
type Manager struct {
	cfg  Config
	log  *slog.Logger
	host string

	runtimeVersion *semver.Version
	downloader     *download.Downloader

	mu                 sync.Mutex // guards remotePackages during fetches
	localPackages      []*LocalPackage
	remotePackages     []*RemotePackage
	missedPackages     map[string]missedDependency
	conflictedPackages []*LocalPackage

	verified verifiedPackages
	watcher  *watcher
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithDownloader replaces the default downloader, e.g. for tests.
func WithDownloader(d *download.Downloader) Option {
	return func(m *Manager) { m.downloader = d }
}

// WithHostPlatform overrides the detected host platform tag.
func WithHostPlatform(host string) Option {
	return func(m *Manager) { m.host = host }
}

// NewManager creates a package manager. Initialize must be called before use.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:            cfg,
		log:            slog.Default(),
		host:           descriptor.HostPlatform(),
		missedPackages: map[string]missedDependency{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize builds the HTTP machinery and performs the first
// reconciliation. Failure to create the download backend is the only fatal
// condition.
func (m *Manager) Initialize() error {
	if m.downloader == nil {
		m.downloader = download.NewDownloader(download.WithLogger(m.log))
		if m.downloader == nil {
			return oops.Code("PKG_DOWNLOADER_FAILED").Errorf("create HTTP downloader")
		}
	}
	if m.cfg.RuntimeVersion != "" {
		v, err := semver.NewVersion(m.cfg.RuntimeVersion)
		if err != nil {
			m.log.Warn("runtime version unparsable; runtime constraints are ignored",
				"version", m.cfg.RuntimeVersion, "error", err)
		} else {
			m.runtimeVersion = v
		}
	}

	start := time.Now()
	if m.cfg.Verification {
		m.fetchVerifiedPackages()
	}
	m.LoadLocalPackages()
	m.LoadRemotePackages()
	m.FindDependencies()
	m.log.Debug("package manager loaded", "elapsed", time.Since(start))
	return nil
}

// Terminate releases the catalogues and stops the HTTP machinery.
func (m *Manager) Terminate() {
	if m.watcher != nil {
		m.watcher.stop()
		m.watcher = nil
	}
	m.localPackages = nil
	m.remotePackages = nil
	m.missedPackages = map[string]missedDependency{}
	m.conflictedPackages = nil
	if m.downloader != nil {
		m.downloader.Close()
		m.downloader = nil
	}
}

// LoadLocalPackages walks the base directory and parses every descriptor
// file into the local catalogue. Platform-incompatible descriptors are
// dropped silently; on duplicate names the higher version wins.
func (m *Manager) LoadLocalPackages() {
	m.log.Debug("loading local packages", "baseDir", m.cfg.BaseDir)

	m.localPackages = nil

	base := filepath.Clean(m.cfg.BaseDir)
	_ = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable entries are skipped, not fatal
		}
		rel, relErr := filepath.Rel(base, path)
		if relErr != nil {
			return nil //nolint:nilerr
		}
		depth := len(strings.Split(rel, string(os.PathSeparator)))
		if d.IsDir() {
			if depth > localWalkDepth {
				return fs.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		if ext != descriptor.PluginFileExtension && ext != descriptor.ModuleFileExtension {
			return nil
		}
		name := strings.TrimSuffix(filepath.Base(path), ext)
		if name == "" {
			return nil
		}

		pkg := m.readLocalPackage(path, name, ext == descriptor.ModuleFileExtension)
		if pkg == nil {
			return nil
		}
		m.mergeLocalPackage(pkg)
		return nil
	})
}

// readLocalPackage parses one descriptor file. It returns nil when the file
// is invalid (logged) or not applicable to the host platform (silent).
func (m *Manager) readLocalPackage(path, name string, isModule bool) *LocalPackage {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from walking baseDir
	if err != nil {
		m.log.Error("package descriptor unreadable", "package", name, "path", path, "error", err)
		return nil
	}

	if isModule {
		d, err := descriptor.ParseModule(name, data)
		if err != nil {
			m.log.Error("module descriptor rejected", "package", name, "error", err)
			return nil
		}
		if !descriptor.SupportsPlatform(d.SupportedPlatforms, m.host) {
			return nil
		}
		return &LocalPackage{Name: name, Type: d.Language, Path: path, Version: d.Version, Descriptor: d}
	}

	d, err := descriptor.ParsePlugin(name, data)
	if err != nil {
		m.log.Error("plugin descriptor rejected", "package", name, "error", err)
		return nil
	}
	if !descriptor.SupportsPlatform(d.SupportedPlatforms, m.host) {
		return nil
	}
	return &LocalPackage{Name: name, Type: descriptor.TypePlugin, Path: path, Version: d.Version, Descriptor: d}
}

// mergeLocalPackage inserts pkg into the local catalogue, resolving duplicate
// names: higher version wins; on a tie the first stays.
func (m *Manager) mergeLocalPackage(pkg *LocalPackage) {
	existing := m.FindLocalPackage(pkg.Name)
	if existing == nil {
		m.localPackages = append(m.localPackages, pkg)
		return
	}

	if existing.Version != pkg.Version {
		m.log.Warn("duplicate local package, prioritizing newer version",
			"package", pkg.Name,
			"kept", max(existing.Version, pkg.Version),
			"dropped", min(existing.Version, pkg.Version))
		if existing.Version < pkg.Version {
			*existing = *pkg
		}
	} else {
		m.log.Warn("duplicate local package with same version, second location ignored",
			"package", pkg.Name,
			"version", pkg.Version,
			"path", pkg.Path)
	}
}

// LoadRemotePackages fetches every configured repository plus the update URL
// of each local package and merges the manifests into the remote catalogue.
func (m *Manager) LoadRemotePackages() {
	m.log.Debug("loading remote packages")

	m.remotePackages = nil

	fetched := map[string]struct{}{}
	fetchManifest := func(url string) {
		if url == "" {
			return
		}
		if _, done := fetched[url]; done {
			return
		}
		fetched[url] = struct{}{}

		m.downloader.CreateRequest(url, func(statusCode int, _ string, data []byte) {
			if statusCode != download.StatusOK {
				return
			}
			manifest, err := ParseManifest(data)
			if err != nil {
				m.log.Error("package manifest rejected", "url", url, "error", err)
				return
			}
			m.mergeManifest(url, manifest)
		})
	}

	for _, url := range m.cfg.Repositories {
		fetchManifest(url)
	}
	for _, pkg := range m.localPackages {
		fetchManifest(pkg.Descriptor.GetUpdateURL())
	}

	m.downloader.WaitForAllRequests()
}

// mergeManifest folds one fetched manifest into the remote catalogue.
// Callbacks run on downloader workers, so the catalogue is guarded.
func (m *Manager) mergeManifest(url string, manifest *Manifest) {
	for name, pkg := range manifest.Content {
		if name == "" || pkg.Name != name {
			m.log.Error("package manifest has different name in key and object",
				"url", url, "key", name, "name", pkg.Name)
			continue
		}

		m.mu.Lock()
		existing := m.findRemotePackageLocked(name)
		if existing == nil {
			remote := pkg
			m.remotePackages = append(m.remotePackages, &remote)
		} else if existing.Equal(&pkg) {
			existing.MergeVersions(&pkg)
		} else {
			m.log.Warn("remote package exists elsewhere, second location ignored",
				"package", name, "url", url)
		}
		m.mu.Unlock()
	}
}

// FindDependencies computes the missed and conflicted sets from the current
// catalogues.
func (m *Manager) FindDependencies() {
	m.missedPackages = map[string]missedDependency{}
	m.conflictedPackages = nil

	for _, pkg := range m.localPackages {
		plugin := pkg.Plugin()
		if plugin == nil {
			continue
		}

		lang := plugin.LanguageModule.Name
		if m.findLocalModule(lang) == nil {
			if remote := m.findRemoteModule(lang); remote != nil {
				if _, missed := m.missedPackages[lang]; !missed {
					// Language modules default to latest.
					m.missedPackages[lang] = missedDependency{Remote: remote}
				}
			} else {
				m.log.Error("language module dependency not found",
					"package", pkg.Name, "language", lang)
				m.conflictedPackages = append(m.conflictedPackages, pkg)
				continue
			}
		}

		for i := range plugin.Dependencies {
			m.resolveDependency(pkg, &plugin.Dependencies[i])
		}
	}

	for name, dep := range m.missedPackages {
		version := "[latest]"
		if dep.Version != nil {
			version = formatVersion(*dep.Version)
		}
		m.log.Info("required to install",
			"package", name, "type", dep.Remote.Type, "version", version)
	}
	for _, pkg := range m.conflictedPackages {
		m.log.Warn("unable to install due to unresolved conflicts",
			"package", pkg.Name, "type", pkg.Type, "version", pkg.Version)
	}
}

// resolveDependency resolves one declared dependency of plugin pkg into the
// missed or conflicted set.
func (m *Manager) resolveDependency(pkg *LocalPackage, dep *descriptor.Dependency) {
	if dep.Optional || !descriptor.SupportsPlatform(dep.SupportedPlatforms, m.host) {
		return
	}

	if local := m.FindLocalPackage(dep.Name); local != nil {
		if dep.RequestedVersion != nil && *dep.RequestedVersion != local.Version {
			// The user may have pinned a different version deliberately;
			// report, but keep the plugin out of the conflicted set.
			m.log.Error("dependency version mismatch cannot be resolved automatically",
				"package", pkg.Name,
				"dependency", dep.Name,
				"requested", *dep.RequestedVersion,
				"installed", local.Version)
		}
		return
	}

	remote := m.FindRemotePackage(dep.Name)
	if remote == nil {
		m.log.Error("dependency not found", "package", pkg.Name, "dependency", dep.Name)
		m.conflictedPackages = append(m.conflictedPackages, pkg)
		return
	}

	if dep.RequestedVersion != nil && remote.Version(*dep.RequestedVersion) == nil {
		m.log.Error("dependency version not found remotely",
			"package", pkg.Name,
			"dependency", dep.Name,
			"requested", *dep.RequestedVersion)
		m.conflictedPackages = append(m.conflictedPackages, pkg)
		return
	}

	existing, missed := m.missedPackages[dep.Name]
	if !missed {
		m.missedPackages[dep.Name] = missedDependency{Remote: remote, Version: dep.RequestedVersion}
		return
	}

	if dep.RequestedVersion == nil {
		return
	}
	if existing.Version == nil {
		existing.Version = dep.RequestedVersion
		m.missedPackages[dep.Name] = existing
		return
	}
	if *existing.Version != *dep.RequestedVersion {
		m.log.Warn("conflicting dependency versions, prioritizing newer",
			"dependency", dep.Name,
			"kept", max(*existing.Version, *dep.RequestedVersion),
			"dropped", min(*existing.Version, *dep.RequestedVersion))
		if *existing.Version < *dep.RequestedVersion {
			existing.Version = dep.RequestedVersion
			m.missedPackages[dep.Name] = existing
		}
	} else {
		m.log.Warn("same dependency version requested twice, second ignored",
			"dependency", dep.Name,
			"version", *existing.Version,
			"package", pkg.Name)
	}
}

// request wraps a package operation: run the action, await all transfers and
// reconcile the catalogues before returning.
func (m *Manager) request(op string, action func()) {
	start := time.Now()

	action()

	m.downloader.WaitForAllRequests()

	m.LoadLocalPackages()
	m.LoadRemotePackages()
	m.FindDependencies()
	if m.watcher != nil {
		m.watcher.stale.Store(false)
	}

	m.log.Debug("package operation processed", "op", op, "elapsed", time.Since(start))
}

// findLocalModule finds a local package by language tag.
func (m *Manager) findLocalModule(language string) *LocalPackage {
	for _, pkg := range m.localPackages {
		if pkg.Type == language {
			return pkg
		}
	}
	return nil
}

// findRemoteModule finds a remote package by language tag.
func (m *Manager) findRemoteModule(language string) *RemotePackage {
	for _, pkg := range m.remotePackages {
		if pkg.Type == language {
			return pkg
		}
	}
	return nil
}

// FindLocalPackage finds a local package by name.
func (m *Manager) FindLocalPackage(name string) *LocalPackage {
	for _, pkg := range m.localPackages {
		if pkg.Name == name {
			return pkg
		}
	}
	return nil
}

// FindRemotePackage finds a remote package by name.
func (m *Manager) FindRemotePackage(name string) *RemotePackage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findRemotePackageLocked(name)
}

func (m *Manager) findRemotePackageLocked(name string) *RemotePackage {
	for _, pkg := range m.remotePackages {
		if pkg.Name == name {
			return pkg
		}
	}
	return nil
}

// LocalPackages returns the local catalogue. The slice and its entries are
// owned by the manager.
func (m *Manager) LocalPackages() []*LocalPackage { return m.localPackages }

// RemotePackages returns the remote catalogue.
func (m *Manager) RemotePackages() []*RemotePackage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remotePackages
}

// MissedPackages returns the names of remote dependencies not yet installed.
func (m *Manager) MissedPackages() []string {
	names := make([]string, 0, len(m.missedPackages))
	for name := range m.missedPackages {
		names = append(names, name)
	}
	return names
}

// ConflictedPackages returns the local plugins that cannot be satisfied.
func (m *Manager) ConflictedPackages() []*LocalPackage { return m.conflictedPackages }

// HasMissedPackages reports whether any dependency awaits installation.
func (m *Manager) HasMissedPackages() bool { return len(m.missedPackages) > 0 }

// HasConflictedPackages reports whether any plugin is unsatisfiable.
func (m *Manager) HasConflictedPackages() bool { return len(m.conflictedPackages) > 0 }

// MatchLocalPackages returns the local packages whose name matches the glob
// pattern.
func (m *Manager) MatchLocalPackages(pattern string) ([]*LocalPackage, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, oops.Code("PKG_BAD_PATTERN").Wrapf(err, "compile pattern %q", pattern)
	}
	var out []*LocalPackage
	for _, pkg := range m.localPackages {
		if g.Match(pkg.Name) {
			out = append(out, pkg)
		}
	}
	return out, nil
}

// formatVersion renders a package version for logs.
func formatVersion(v descriptor.Version) string {
	return "v" + strconv.Itoa(int(v))
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package pkgmanager

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/plugify/plugify/internal/archive"
	"github.com/plugify/plugify/internal/descriptor"
	"github.com/plugify/plugify/internal/download"
)

// archiveContentType is the only content type accepted for package bundles.
const archiveContentType = "application/zip"

// InstallPackage installs a remote package by name at the requested version,
// or latest when nil.
func (m *Manager) InstallPackage(name string, version *descriptor.Version) {
	if name == "" {
		return
	}
	m.request("install", func() {
		if pkg := m.FindRemotePackage(name); pkg != nil {
			m.installPackage(pkg, version)
		} else {
			m.log.Error("package not found", "package", name)
		}
	})
}

// InstallPackages installs several remote packages at their latest versions.
func (m *Manager) InstallPackages(names []string) {
	m.request("install", func() {
		var notFound []string
		seen := map[string]struct{}{}
		for _, name := range names {
			if name == "" {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			if pkg := m.FindRemotePackage(name); pkg != nil {
				m.installPackage(pkg, nil)
			} else {
				notFound = append(notFound, name)
			}
		}
		if len(notFound) > 0 {
			m.log.Error("packages not found", "packages", notFound)
		}
	})
}

// InstallMissedPackages installs everything the resolver marked as missing.
func (m *Manager) InstallMissedPackages() {
	m.request("install-missed", func() {
		var installing []string
		for name, dep := range m.missedPackages {
			m.installPackage(dep.Remote, dep.Version)
			installing = append(installing, name)
		}
		if len(installing) > 0 {
			m.log.Info("installing missing packages to solve dependency issues",
				"packages", installing)
		}
	})
}

// UninstallConflictedPackages removes every local plugin the resolver marked
// as unsatisfiable.
func (m *Manager) UninstallConflictedPackages() {
	m.request("uninstall-conflicted", func() {
		var removing []string
		for _, pkg := range m.conflictedPackages {
			m.uninstallPackage(pkg, false)
			removing = append(removing, pkg.Name)
		}
		if len(removing) > 0 {
			m.log.Info("uninstalling conflicted packages to solve dependency issues",
				"packages", removing)
		}
	})
}

// UpdatePackage updates a local package by name to the requested version, or
// latest when nil.
func (m *Manager) UpdatePackage(name string, version *descriptor.Version) {
	if name == "" {
		return
	}
	m.request("update", func() {
		if pkg := m.FindLocalPackage(name); pkg != nil {
			m.updatePackage(pkg, version)
		} else {
			m.log.Error("package not found", "package", name)
		}
	})
}

// UpdateAllPackages updates every local package to its latest remote version.
func (m *Manager) UpdateAllPackages() {
	m.request("update-all", func() {
		for _, pkg := range m.localPackages {
			m.updatePackage(pkg, nil)
		}
	})
}

// UninstallPackage removes a local package by name.
func (m *Manager) UninstallPackage(name string) {
	if name == "" {
		return
	}
	m.request("uninstall", func() {
		if pkg := m.FindLocalPackage(name); pkg != nil {
			m.uninstallPackage(pkg, true)
		} else {
			m.log.Error("package not found", "package", name)
		}
	})
}

// UninstallAllPackages removes every local package.
func (m *Manager) UninstallAllPackages() {
	m.request("uninstall-all", func() {
		for _, pkg := range m.localPackages {
			m.uninstallPackage(pkg, false)
		}
		m.localPackages = nil
	})
}

// SnapshotPackages writes a manifest describing the current local set.
func (m *Manager) SnapshotPackages(path string, prettify bool) error {
	content := make(map[string]RemotePackage, len(m.localPackages))
	for _, pkg := range m.localPackages {
		content[pkg.Name] = pkg.Remote()
	}
	if len(content) == 0 {
		m.log.Warn("no local packages to snapshot")
		return nil
	}

	manifest := Manifest{Content: content}
	var data []byte
	var err error
	if prettify {
		data, err = json.MarshalIndent(manifest, "", "  ")
	} else {
		data, err = json.Marshal(manifest)
	}
	if err != nil {
		return oops.Code("PKG_SNAPSHOT_FAILED").Wrapf(err, "encode manifest")
	}

	if err := os.WriteFile(path, data, 0o640); err != nil { //nolint:gosec
		return oops.Code("PKG_SNAPSHOT_FAILED").Wrapf(err, "write manifest %q", path)
	}
	m.log.Debug("snapshot created", "path", path, "packages", len(content))
	return nil
}

// InstallAllPackages reads a manifest from a file (a relative path resolves
// against the base directory) and installs its content. Already-installed
// names are skipped unless reinstall is set.
func (m *Manager) InstallAllPackages(manifestPath string, reinstall bool) {
	if filepath.Ext(manifestPath) != descriptor.ManifestFileExtension {
		m.log.Error("package manifest has wrong extension",
			"path", manifestPath, "want", descriptor.ManifestFileExtension)
		return
	}

	path := manifestPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.cfg.BaseDir, manifestPath)
	}
	m.log.Info("reading package manifest", "path", path)

	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		m.log.Error("package manifest unreadable", "path", path, "error", err)
		return
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		m.log.Error("package manifest rejected", "path", path, "error", err)
		return
	}
	m.installManifest(path, manifest, reinstall)
}

// InstallAllPackagesFromURL fetches a manifest and installs its content.
func (m *Manager) InstallAllPackagesFromURL(manifestURL string, reinstall bool) {
	if manifestURL == "" {
		return
	}
	m.log.Info("reading package manifest", "url", manifestURL)

	// The manifest fetch completes before installation starts; installing
	// from inside the completion callback would nest the request barrier.
	var body []byte
	var fetched bool
	m.downloader.CreateRequest(manifestURL, func(statusCode int, _ string, data []byte) {
		if statusCode != download.StatusOK {
			m.log.Error("package manifest unreachable", "url", manifestURL, "status", statusCode)
			return
		}
		body = append([]byte(nil), data...)
		fetched = true
	})
	m.downloader.WaitForAllRequests()
	if !fetched {
		return
	}

	manifest, err := ParseManifest(body)
	if err != nil {
		m.log.Error("package manifest rejected", "url", manifestURL, "error", err)
		return
	}
	m.installManifest(manifestURL, manifest, reinstall)
}

// installManifest installs manifest content, skipping installed names unless
// reinstall is set.
func (m *Manager) installManifest(source string, manifest *Manifest, reinstall bool) {
	if !reinstall {
		for _, pkg := range m.localPackages {
			delete(manifest.Content, pkg.Name)
		}
	}
	if len(manifest.Content) == 0 {
		m.log.Warn("no packages to install; use the reinstall flag to reinstall installed packages")
		return
	}

	m.request("install-all", func() {
		for name, pkg := range manifest.Content {
			if name == "" || pkg.Name != name {
				m.log.Error("package manifest has different name in key and object",
					"source", source, "key", name, "name", pkg.Name)
				continue
			}
			remote := pkg
			if reinstall && m.FindLocalPackage(name) != nil {
				if entry := m.selectVersion(&remote, nil); entry != nil {
					m.downloadPackage(&remote, entry)
				}
				continue
			}
			m.installPackage(&remote, nil)
		}
	})
}

// installPackage resolves a version entry and downloads it. Installing over
// an existing local package is rejected.
func (m *Manager) installPackage(pkg *RemotePackage, version *descriptor.Version) bool {
	if local := m.FindLocalPackage(pkg.Name); local != nil {
		m.log.Warn("package already installed", "package", pkg.Name, "version", local.Version)
		return false
	}

	entry := m.selectVersion(pkg, version)
	if entry == nil {
		return false
	}
	return m.downloadPackage(pkg, entry)
}

// updatePackage resolves the target version against the remote counterpart
// and downloads it.
func (m *Manager) updatePackage(pkg *LocalPackage, version *descriptor.Version) bool {
	remote := m.FindRemotePackage(pkg.Name)
	if remote == nil {
		m.log.Warn("package has no remote counterpart", "package", pkg.Name)
		return false
	}

	var entry *PackageVersion
	if version != nil {
		entry = m.selectVersion(remote, version)
		if entry == nil {
			return false
		}
		switch {
		case entry.Version > pkg.Version:
			m.log.Info("package will be upgraded",
				"package", pkg.Name, "from", pkg.Version, "to", entry.Version)
		case entry.Version == pkg.Version:
			m.log.Info("package will be reinstalled",
				"package", pkg.Name, "version", pkg.Version)
		default:
			m.log.Info("package will be downgraded",
				"package", pkg.Name, "from", pkg.Version, "to", entry.Version)
		}
	} else {
		entry = m.selectVersion(remote, nil)
		if entry == nil {
			return false
		}
		if entry.Version <= pkg.Version {
			m.log.Warn("package has no update available", "package", pkg.Name)
			return false
		}
		m.log.Info("update available, prioritizing newer version",
			"package", pkg.Name, "from", pkg.Version, "to", entry.Version)
	}

	return m.downloadPackage(remote, entry)
}

// selectVersion picks the requested (or latest) version entry, enforcing the
// platform set and the optional runtime constraint.
func (m *Manager) selectVersion(pkg *RemotePackage, version *descriptor.Version) *PackageVersion {
	var entry *PackageVersion
	if version != nil {
		entry = pkg.Version(*version)
		if entry == nil {
			m.log.Warn("package version has not been found",
				"package", pkg.Name, "version", *version)
			return nil
		}
	} else {
		entry = pkg.LatestVersion()
		if entry == nil {
			m.log.Warn("package has no versions", "package", pkg.Name)
			return nil
		}
	}

	if !descriptor.SupportsPlatform(entry.Platforms, m.host) {
		return nil
	}
	if !m.runtimeCompatible(pkg.Name, entry) {
		return nil
	}
	return entry
}

// runtimeCompatible evaluates the entry's runtime constraint against the
// runtime release, when both sides declare one.
func (m *Manager) runtimeCompatible(name string, entry *PackageVersion) bool {
	if entry.Runtime == "" || m.runtimeVersion == nil {
		return true
	}
	constraint, err := semver.NewConstraint(entry.Runtime)
	if err != nil {
		m.log.Warn("package has invalid runtime constraint",
			"package", name, "constraint", entry.Runtime, "error", err)
		return false
	}
	if !constraint.Check(m.runtimeVersion) {
		m.log.Warn("package version incompatible with this runtime, skipping",
			"package", name,
			"version", entry.Version,
			"constraint", entry.Runtime,
			"runtime", m.runtimeVersion)
		return false
	}
	return true
}

// uninstallPackage removes the package's directory. When remove is set, the
// in-memory entry is dropped as well.
func (m *Manager) uninstallPackage(pkg *LocalPackage, remove bool) bool {
	dir := filepath.Dir(pkg.Path)
	if err := os.RemoveAll(dir); err != nil {
		m.log.Error("package removal failed", "package", pkg.Name, "path", dir, "error", err)
		return false
	}
	if remove {
		for i, p := range m.localPackages {
			if p == pkg {
				m.localPackages = append(m.localPackages[:i], m.localPackages[i+1:]...)
				break
			}
		}
	}
	m.log.Info("package removed", "package", pkg.Name, "version", pkg.Version, "path", dir)
	observeInstall("uninstall")
	return true
}

// downloadPackage fetches the first mirror of a version entry and promotes
// the extracted bundle into the installation folder.
func (m *Manager) downloadPackage(pkg *RemotePackage, entry *PackageVersion) bool {
	if !m.isPackageAuthorized(pkg.Name, entry.Version) {
		m.log.Warn("package is not authorized, aborting", "package", pkg.Name)
		return false
	}
	if len(entry.Mirrors) == 0 {
		m.log.Error("package version has no mirrors",
			"package", pkg.Name, "version", entry.Version)
		return false
	}

	m.log.Debug("start downloading", "package", pkg.Name, "version", entry.Version)

	name := pkg.Name
	folder := packageFolder(pkg.Type)
	extension := descriptor.PluginFileExtension
	if pkg.Type != descriptor.TypePlugin {
		extension = descriptor.ModuleFileExtension
	}
	checksum := entry.Checksum
	version := entry.Version

	m.downloader.CreateRequest(entry.Mirrors[0], func(statusCode int, contentType string, data []byte) {
		if statusCode != download.StatusOK {
			m.log.Error("failed downloading", "package", name, "status", statusCode)
			observeInstall("download_failed")
			return
		}
		m.log.Debug("done downloading", "package", name)

		if contentType != archiveContentType {
			m.log.Error("package is not a zip archive",
				"package", name, "contentType", contentType)
			observeInstall("bad_content_type")
			return
		}
		if !m.isPackageLegit(name, version, checksum, data) {
			m.log.Warn("archive hash does not match expected checksum, aborting",
				"package", name)
			observeInstall("checksum_mismatch")
			return
		}

		finalPath := filepath.Join(m.cfg.BaseDir, folder)
		staging := filepath.Join(finalPath, name+"-"+ulid.Make().String())
		if err := os.MkdirAll(staging, 0o750); err != nil {
			m.log.Error("error creating output directory", "path", staging, "error", err)
			observeInstall("extract_failed")
			return
		}

		if err := archive.Extract(data, staging, extension); err != nil {
			// Staging is left for inspection.
			m.log.Error("failed extracting", "package", name, "error", err)
			observeInstall("extract_failed")
			return
		}
		m.log.Debug("done extracting", "package", name)

		destination := filepath.Join(finalPath, name)
		if err := os.RemoveAll(destination); err != nil {
			m.log.Error("error clearing destination", "path", destination, "error", err)
			observeInstall("promote_failed")
			return
		}
		if err := os.Rename(staging, destination); err != nil {
			m.log.Error("package could not be renamed",
				"package", name, "from", staging, "to", destination, "error", err)
			observeInstall("promote_failed")
			return
		}
		observeInstall("ok")
	})

	return true
}

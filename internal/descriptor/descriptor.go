// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

// Package descriptor defines the typed model for plugin, language-module and
// manifest documents, their JSON parsing and their validation rules.
package descriptor

import (
	"github.com/samber/oops"
)

// File extensions of the on-disk document kinds.
const (
	PluginFileExtension   = ".plugin"
	ModuleFileExtension   = ".module"
	ManifestFileExtension = ".manifest"
)

// TypePlugin is the reserved package type for plugins. A language module may
// not claim it as its language.
const TypePlugin = "plugin"

// Version is a monotonically comparable package version. Greater is newer.
type Version = int32

// LanguageModuleInfo names the language module a plugin targets.
type LanguageModuleInfo struct {
	Name string `json:"name"`
}

// Dependency is a plugin's reference to another plugin it needs at load time.
type Dependency struct {
	Name               string   `json:"name"`
	Optional           bool     `json:"optional,omitempty"`
	SupportedPlatforms []string `json:"supportedPlatforms,omitempty"`
	RequestedVersion   *Version `json:"requestedVersion,omitempty"`
}

// PluginDescriptor is the parsed form of a .plugin document.
type PluginDescriptor struct {
	FileVersion         Version      `json:"fileVersion"`
	Version             Version      `json:"version"`
	FriendlyName        string       `json:"friendlyName,omitempty"`
	Description         string       `json:"description,omitempty"`
	CreatedBy           string       `json:"createdBy,omitempty"`
	CreatedByURL        string       `json:"createdByUrl,omitempty"`
	DocsURL             string       `json:"docsUrl,omitempty"`
	DownloadURL         string       `json:"downloadUrl,omitempty"`
	UpdateURL           string       `json:"updateUrl,omitempty"`
	SupportedPlatforms  []string     `json:"supportedPlatforms,omitempty"`
	ResourceDirectories []string     `json:"resourceDirectories,omitempty"`
	EntryPoint          string       `json:"entryPoint"`
	LanguageModule      LanguageModuleInfo `json:"languageModule"`
	Dependencies        []Dependency `json:"dependencies,omitempty"`
	ExportedMethods     []Method     `json:"exportedMethods,omitempty"`
}

// LanguageModuleDescriptor is the parsed form of a .module document.
type LanguageModuleDescriptor struct {
	FileVersion        Version  `json:"fileVersion"`
	Version            Version  `json:"version"`
	FriendlyName       string   `json:"friendlyName,omitempty"`
	Description        string   `json:"description,omitempty"`
	CreatedBy          string   `json:"createdBy,omitempty"`
	CreatedByURL       string   `json:"createdByUrl,omitempty"`
	DocsURL            string   `json:"docsUrl,omitempty"`
	DownloadURL        string   `json:"downloadUrl,omitempty"`
	UpdateURL          string   `json:"updateUrl,omitempty"`
	SupportedPlatforms []string `json:"supportedPlatforms,omitempty"`
	Language           string   `json:"language"`
	LibraryDirectories []string `json:"libraryDirectories,omitempty"`
	EntryPoint         string   `json:"entryPoint"`
	ForceLoad          bool     `json:"forceLoad,omitempty"`
}

// Descriptor is the read surface shared by both descriptor kinds. The package
// manager and plugin manager only need this much to catalogue a package.
type Descriptor interface {
	GetVersion() Version
	GetUpdateURL() string
	GetDownloadURL() string
	GetSupportedPlatforms() []string
}

// GetVersion returns the package version.
func (d *PluginDescriptor) GetVersion() Version { return d.Version }

// GetUpdateURL returns the manifest URL polled for updates.
func (d *PluginDescriptor) GetUpdateURL() string { return d.UpdateURL }

// GetDownloadURL returns the bundle download URL.
func (d *PluginDescriptor) GetDownloadURL() string { return d.DownloadURL }

// GetSupportedPlatforms returns the platform allow-list, empty meaning all.
func (d *PluginDescriptor) GetSupportedPlatforms() []string { return d.SupportedPlatforms }

// GetVersion returns the package version.
func (d *LanguageModuleDescriptor) GetVersion() Version { return d.Version }

// GetUpdateURL returns the manifest URL polled for updates.
func (d *LanguageModuleDescriptor) GetUpdateURL() string { return d.UpdateURL }

// GetDownloadURL returns the bundle download URL.
func (d *LanguageModuleDescriptor) GetDownloadURL() string { return d.DownloadURL }

// GetSupportedPlatforms returns the platform allow-list, empty meaning all.
func (d *LanguageModuleDescriptor) GetSupportedPlatforms() []string { return d.SupportedPlatforms }

// Validate checks invariants the schema cannot express.
func (d *PluginDescriptor) Validate() error {
	if d.EntryPoint == "" {
		return oops.Code("DESCRIPTOR_INVALID").Errorf("entryPoint is required")
	}
	if d.LanguageModule.Name == "" {
		return oops.Code("DESCRIPTOR_INVALID").Errorf("languageModule.name is required")
	}
	for i := range d.ExportedMethods {
		if err := d.ExportedMethods[i].Validate(); err != nil {
			return oops.Code("DESCRIPTOR_INVALID").Wrapf(err, "exported method %q", d.ExportedMethods[i].Name)
		}
	}
	return nil
}

// Validate checks invariants the schema cannot express. The language token
// "plugin" is reserved for plugins and rejected here.
func (d *LanguageModuleDescriptor) Validate() error {
	if d.Language == "" {
		return oops.Code("DESCRIPTOR_INVALID").Errorf("language is required")
	}
	if d.Language == TypePlugin {
		return oops.Code("DESCRIPTOR_RESERVED_NAME").Errorf("forbidden language name %q", TypePlugin)
	}
	if d.EntryPoint == "" {
		return oops.Code("DESCRIPTOR_INVALID").Errorf("entryPoint is required")
	}
	return nil
}

// DedupeDependencies removes duplicate dependency entries by name, keeping
// the first occurrence. It reports whether anything was removed.
func (d *PluginDescriptor) DedupeDependencies() bool {
	var removed bool
	d.Dependencies, removed = removeDuplicates(d.Dependencies, func(dep Dependency) string { return dep.Name })
	return removed
}

// DedupeMethods removes duplicate exported methods by name, keeping the
// first occurrence. It reports whether anything was removed.
func (d *PluginDescriptor) DedupeMethods() bool {
	var removed bool
	d.ExportedMethods, removed = removeDuplicates(d.ExportedMethods, func(m Method) string { return m.Name })
	return removed
}

// removeDuplicates keeps the first element per key, preserving order.
func removeDuplicates[T any](in []T, key func(T) string) ([]T, bool) {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, v := range in {
		k := key(v)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out, len(out) != len(in)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

// Package pkgmanager reconciles local package bundles on disk with one or
// more remote manifests and performs install, update and uninstall
// operations.
package pkgmanager

import (
	"encoding/json"
	"slices"

	"github.com/samber/oops"

	"github.com/plugify/plugify/internal/descriptor"
)

// LocalPackage is a package present on disk: a parsed descriptor plus its
// location. Uniqueness key is the name.
type LocalPackage struct {
	Name       string
	Type       string // "plugin" or a language tag
	Path       string // descriptor file path
	Version    descriptor.Version
	Descriptor descriptor.Descriptor
}

// Plugin returns the plugin descriptor, or nil when the package is a module.
func (p *LocalPackage) Plugin() *descriptor.PluginDescriptor {
	d, _ := p.Descriptor.(*descriptor.PluginDescriptor)
	return d
}

// Module returns the module descriptor, or nil when the package is a plugin.
func (p *LocalPackage) Module() *descriptor.LanguageModuleDescriptor {
	d, _ := p.Descriptor.(*descriptor.LanguageModuleDescriptor)
	return d
}

// PackageVersion is one installable release of a remote package.
type PackageVersion struct {
	Version   descriptor.Version `json:"version"`
	Runtime   string             `json:"runtime,omitempty"` // semver constraint on the runtime release
	Platforms []string           `json:"platforms,omitempty"`
	Mirrors   []string           `json:"mirrors"`
	Checksum  string             `json:"checksum,omitempty"`
}

// RemotePackage is a package known from a manifest. Equality is (name, type).
type RemotePackage struct {
	Name     string           `json:"name"`
	Type     string           `json:"type"`
	Author   string           `json:"author,omitempty"`
	Describe string           `json:"description,omitempty"`
	Versions []PackageVersion `json:"versions"`
}

// Equal reports whether two remote packages denote the same package.
func (p *RemotePackage) Equal(other *RemotePackage) bool {
	return p.Name == other.Name && p.Type == other.Type
}

// Version returns the entry for an exact version, or nil.
func (p *RemotePackage) Version(version descriptor.Version) *PackageVersion {
	for i := range p.Versions {
		if p.Versions[i].Version == version {
			return &p.Versions[i]
		}
	}
	return nil
}

// LatestVersion returns the highest version entry, or nil when empty.
func (p *RemotePackage) LatestVersion() *PackageVersion {
	var latest *PackageVersion
	for i := range p.Versions {
		if latest == nil || p.Versions[i].Version > latest.Version {
			latest = &p.Versions[i]
		}
	}
	return latest
}

// MergeVersions unions other's version entries into p, keyed by version
// number. Existing entries win.
func (p *RemotePackage) MergeVersions(other *RemotePackage) {
	for _, v := range other.Versions {
		if p.Version(v.Version) == nil {
			p.Versions = append(p.Versions, v)
		}
	}
	slices.SortFunc(p.Versions, func(a, b PackageVersion) int {
		return int(a.Version) - int(b.Version)
	})
}

// Remote converts a local package into the remote form used by snapshots.
func (p *LocalPackage) Remote() RemotePackage {
	var mirrors []string
	if url := p.Descriptor.GetDownloadURL(); url != "" {
		mirrors = []string{url}
	}
	return RemotePackage{
		Name: p.Name,
		Type: p.Type,
		Versions: []PackageVersion{{
			Version:   p.Version,
			Platforms: p.Descriptor.GetSupportedPlatforms(),
			Mirrors:   mirrors,
		}},
	}
}

// Manifest is a catalogue mapping package names to remote packages. Its wire
// format is the bare JSON object.
type Manifest struct {
	Content map[string]RemotePackage
}

// MarshalJSON writes the bare name -> package object.
func (m Manifest) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Content) //nolint:wrapcheck
}

// UnmarshalJSON reads the bare name -> package object.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &m.Content) //nolint:wrapcheck
}

// ParseManifest decodes a manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, oops.Code("MANIFEST_INVALID").Wrapf(err, "decode package manifest")
	}
	return &m, nil
}

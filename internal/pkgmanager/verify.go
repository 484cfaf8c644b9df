// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package pkgmanager

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/plugify/plugify/internal/descriptor"
	"github.com/plugify/plugify/internal/download"
)

// defaultVerifyURL is polled for the verified package list when verification
// is enabled and no custom URL is configured.
const defaultVerifyURL = "https://raw.githubusercontent.com/plugify-project/verified_packages/main/verified_packages.json"

// verifiedPackageDetails whitelists the versions of one package, with the
// expected archive checksum per version.
type verifiedPackageDetails struct {
	Versions map[descriptor.Version]string `json:"versions"` // version -> sha256 hex
}

// verifiedPackages is the whitelist document.
type verifiedPackages struct {
	Verified map[string]verifiedPackageDetails `json:"verified"`
}

// fetchVerifiedPackages loads the whitelist used by the integrity hooks.
func (m *Manager) fetchVerifiedPackages() {
	url := m.cfg.VerifyURL
	if url == "" {
		m.log.Info("custom verified packages URL not found in config, using default URL")
		url = defaultVerifyURL
	} else {
		m.log.Info("found custom verified packages URL in config", "url", url)
	}

	m.downloader.CreateRequest(url, func(statusCode int, _ string, data []byte) {
		if statusCode != download.StatusOK {
			m.log.Error("verified packages list not found", "url", url, "status", statusCode)
			return
		}
		var packages verifiedPackages
		if err := json.Unmarshal(data, &packages); err != nil {
			m.log.Error("verified packages list rejected", "url", url, "error", err)
			return
		}
		m.verified = packages
		if len(m.verified.Verified) == 0 {
			m.log.Warn("empty verified packages list")
		}
	})
	m.downloader.WaitForAllRequests()
}

// isPackageAuthorized reports whether a package version is whitelisted.
// Always true when verification is disabled.
func (m *Manager) isPackageAuthorized(name string, version descriptor.Version) bool {
	if !m.cfg.Verification {
		return true
	}
	details, ok := m.verified.Verified[name]
	if !ok {
		return false
	}
	_, ok = details.Versions[version]
	return ok
}

// isPackageLegit verifies the archive bytes against the expected SHA-256.
// With verification enabled a whitelisted checksum replaces the manifest one;
// with neither present the archive passes only when verification is disabled.
func (m *Manager) isPackageLegit(name string, version descriptor.Version, checksum string, data []byte) bool {
	expected := checksum
	if m.cfg.Verification {
		if details, ok := m.verified.Verified[name]; ok {
			if whitelisted, ok := details.Versions[version]; ok && whitelisted != "" {
				expected = whitelisted
			}
		}
	}
	if expected == "" {
		return !m.cfg.Verification
	}

	sum := sha256.Sum256(data)
	computed := hex.EncodeToString(sum[:])
	if computed != expected {
		m.log.Debug("checksum mismatch",
			"package", name, "expected", expected, "computed", computed)
		return false
	}
	return true
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package pkgmanager

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plugify/plugify/internal/descriptor"
	"github.com/plugify/plugify/internal/download"
)

// writePluginFile writes a plugin descriptor under dir/plugins/<name>/.
func writePluginFile(t *testing.T, baseDir, name string, version descriptor.Version, language string, extra map[string]any) string {
	t.Helper()
	doc := map[string]any{
		"fileVersion":    1,
		"version":        version,
		"entryPoint":     "bin/" + name,
		"languageModule": map[string]any{"name": language},
	}
	for k, v := range extra {
		doc[k] = v
	}
	dir := filepath.Join(baseDir, "plugins", name)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, name+descriptor.PluginFileExtension)
	require.NoError(t, os.WriteFile(path, data, 0o640))
	return path
}

// writeModuleFile writes a module descriptor under dir/modules/<name>/.
func writeModuleFile(t *testing.T, baseDir, name string, version descriptor.Version, language string) string {
	t.Helper()
	doc := map[string]any{
		"fileVersion": 1,
		"version":     version,
		"language":    language,
		"entryPoint":  "bin/lib" + name,
	}
	dir := filepath.Join(baseDir, "modules", name)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, name+descriptor.ModuleFileExtension)
	require.NoError(t, os.WriteFile(path, data, 0o640))
	return path
}

// newTestManager builds an initialized-enough manager over a temp base dir.
func newTestManager(t *testing.T, baseDir string, repositories ...string) *Manager {
	t.Helper()
	d := download.NewDownloader()
	t.Cleanup(d.Close)
	m := NewManager(
		Config{BaseDir: baseDir, Repositories: repositories},
		WithDownloader(d),
	)
	return m
}

func TestLoadLocalPackages(t *testing.T) {
	baseDir := t.TempDir()
	writePluginFile(t, baseDir, "alpha", 3, "python", nil)
	writeModuleFile(t, baseDir, "py", 5, "python")

	m := newTestManager(t, baseDir)
	m.LoadLocalPackages()

	require.Len(t, m.LocalPackages(), 2)

	alpha := m.FindLocalPackage("alpha")
	require.NotNil(t, alpha)
	assert.Equal(t, descriptor.TypePlugin, alpha.Type)
	assert.Equal(t, descriptor.Version(3), alpha.Version)
	require.NotNil(t, alpha.Plugin())

	py := m.FindLocalPackage("py")
	require.NotNil(t, py)
	assert.Equal(t, "python", py.Type)
	require.NotNil(t, py.Module())
}

func TestLoadLocalPackagesDropsForeignPlatform(t *testing.T) {
	baseDir := t.TempDir()
	writePluginFile(t, baseDir, "other", 1, "python", map[string]any{
		"supportedPlatforms": []string{"never_platform"},
	})

	m := newTestManager(t, baseDir)
	m.LoadLocalPackages()

	assert.Empty(t, m.LocalPackages())
}

func TestLoadLocalPackagesDuplicateHigherVersionWins(t *testing.T) {
	baseDir := t.TempDir()
	// Same name in two trees: plugins/dup and modules/... not sensible, use
	// two sibling plugin folders instead.
	writePluginFile(t, baseDir, "dup", 1, "python", nil)
	dir := filepath.Join(baseDir, "plugins", "dup-old")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	data, err := json.Marshal(map[string]any{
		"fileVersion":    1,
		"version":        4,
		"entryPoint":     "bin/dup",
		"languageModule": map[string]any{"name": "python"},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dup"+descriptor.PluginFileExtension), data, 0o640))

	m := newTestManager(t, baseDir)
	m.LoadLocalPackages()

	pkg := m.FindLocalPackage("dup")
	require.NotNil(t, pkg)
	assert.Equal(t, descriptor.Version(4), pkg.Version)
	assert.Len(t, m.LocalPackages(), 1)
}

// serveManifests exposes named manifests over httptest.
func serveManifests(t *testing.T, manifests map[string]map[string]RemotePackage) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, content := range manifests {
		data, err := json.Marshal(content)
		require.NoError(t, err)
		mux.HandleFunc("/"+path, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(data)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLoadRemotePackagesMergesVersionSets(t *testing.T) {
	srv := serveManifests(t, map[string]map[string]RemotePackage{
		"a.manifest": {
			"libX": {Name: "libX", Type: "plugin", Versions: []PackageVersion{
				{Version: 1, Mirrors: []string{"http://mirror/1"}},
			}},
		},
		"b.manifest": {
			"libX": {Name: "libX", Type: "plugin", Versions: []PackageVersion{
				{Version: 2, Mirrors: []string{"http://mirror/2"}},
			}},
		},
	})

	m := newTestManager(t, t.TempDir(), srv.URL+"/a.manifest", srv.URL+"/b.manifest")
	m.LoadRemotePackages()

	pkg := m.FindRemotePackage("libX")
	require.NotNil(t, pkg)

	// Catalogue merge law: the version set is the union across manifests.
	require.Len(t, pkg.Versions, 2)
	assert.NotNil(t, pkg.Version(1))
	assert.NotNil(t, pkg.Version(2))
	require.NotNil(t, pkg.LatestVersion())
	assert.Equal(t, descriptor.Version(2), pkg.LatestVersion().Version)
}

func TestLoadRemotePackagesRejectsKeyMismatch(t *testing.T) {
	srv := serveManifests(t, map[string]map[string]RemotePackage{
		"bad.manifest": {
			"libX": {Name: "libY", Type: "plugin", Versions: []PackageVersion{{Version: 1}}},
		},
	})

	m := newTestManager(t, t.TempDir(), srv.URL+"/bad.manifest")
	m.LoadRemotePackages()

	assert.Nil(t, m.FindRemotePackage("libX"))
	assert.Nil(t, m.FindRemotePackage("libY"))
}

func TestLoadRemotePackagesIgnoresConflictingType(t *testing.T) {
	srv := serveManifests(t, map[string]map[string]RemotePackage{
		"a.manifest": {
			"py": {Name: "py", Type: "python", Versions: []PackageVersion{{Version: 1}}},
		},
		"b.manifest": {
			"py": {Name: "py", Type: "plugin", Versions: []PackageVersion{{Version: 9}}},
		},
	})

	m := newTestManager(t, t.TempDir(), srv.URL+"/a.manifest", srv.URL+"/b.manifest")
	m.LoadRemotePackages()

	pkg := m.FindRemotePackage("py")
	require.NotNil(t, pkg)
	// One of the two won; the other was ignored rather than merged.
	assert.Len(t, pkg.Versions, 1)
}

func TestFindDependenciesMissingModuleConflicts(t *testing.T) {
	baseDir := t.TempDir()
	writePluginFile(t, baseDir, "alpha", 1, "ruby", nil)

	m := newTestManager(t, baseDir)
	m.LoadLocalPackages()
	m.FindDependencies()

	require.Len(t, m.ConflictedPackages(), 1)
	assert.Equal(t, "alpha", m.ConflictedPackages()[0].Name)
	assert.Empty(t, m.MissedPackages())
}

func TestFindDependenciesModuleFoundRemotely(t *testing.T) {
	baseDir := t.TempDir()
	writePluginFile(t, baseDir, "alpha", 1, "python", nil)
	srv := serveManifests(t, map[string]map[string]RemotePackage{
		"repo.manifest": {
			"py": {Name: "py", Type: "python", Versions: []PackageVersion{{Version: 3}}},
		},
	})

	m := newTestManager(t, baseDir, srv.URL+"/repo.manifest")
	m.LoadLocalPackages()
	m.LoadRemotePackages()
	m.FindDependencies()

	assert.Empty(t, m.ConflictedPackages())
	// Missed language modules are keyed by language tag.
	assert.ElementsMatch(t, []string{"python"}, m.MissedPackages())
}

func TestFindDependenciesHigherRequestedVersionWins(t *testing.T) {
	baseDir := t.TempDir()
	writeModuleFile(t, baseDir, "py", 1, "python")
	writePluginFile(t, baseDir, "a", 1, "python", map[string]any{
		"dependencies": []map[string]any{{"name": "libX", "requestedVersion": 1}},
	})
	writePluginFile(t, baseDir, "b", 1, "python", map[string]any{
		"dependencies": []map[string]any{{"name": "libX", "requestedVersion": 2}},
	})
	srv := serveManifests(t, map[string]map[string]RemotePackage{
		"repo.manifest": {
			"libX": {Name: "libX", Type: "plugin", Versions: []PackageVersion{
				{Version: 1}, {Version: 2},
			}},
		},
	})

	m := newTestManager(t, baseDir, srv.URL+"/repo.manifest")
	m.LoadLocalPackages()
	m.LoadRemotePackages()
	m.FindDependencies()

	require.Contains(t, m.missedPackages, "libX")
	dep := m.missedPackages["libX"]
	require.NotNil(t, dep.Version)
	assert.Equal(t, descriptor.Version(2), *dep.Version)
	assert.Empty(t, m.ConflictedPackages())
}

func TestFindDependenciesUnavailableVersionConflicts(t *testing.T) {
	baseDir := t.TempDir()
	writeModuleFile(t, baseDir, "py", 1, "python")
	writePluginFile(t, baseDir, "a", 1, "python", map[string]any{
		"dependencies": []map[string]any{{"name": "libX", "requestedVersion": 9}},
	})
	srv := serveManifests(t, map[string]map[string]RemotePackage{
		"repo.manifest": {
			"libX": {Name: "libX", Type: "plugin", Versions: []PackageVersion{{Version: 1}}},
		},
	})

	m := newTestManager(t, baseDir, srv.URL+"/repo.manifest")
	m.LoadLocalPackages()
	m.LoadRemotePackages()
	m.FindDependencies()

	require.Len(t, m.ConflictedPackages(), 1)
	assert.Equal(t, "a", m.ConflictedPackages()[0].Name)
}

func TestFindDependenciesLocalVersionMismatchIsNotConflict(t *testing.T) {
	baseDir := t.TempDir()
	writeModuleFile(t, baseDir, "py", 1, "python")
	writePluginFile(t, baseDir, "libX", 2, "python", nil)
	writePluginFile(t, baseDir, "a", 1, "python", map[string]any{
		"dependencies": []map[string]any{{"name": "libX", "requestedVersion": 1}},
	})

	m := newTestManager(t, baseDir)
	m.LoadLocalPackages()
	m.FindDependencies()

	// Logged, but the user may pin differently; not conflicted.
	assert.Empty(t, m.ConflictedPackages())
	assert.Empty(t, m.MissedPackages())
}

func TestFindDependenciesDeterminism(t *testing.T) {
	baseDir := t.TempDir()
	writePluginFile(t, baseDir, "alpha", 1, "ruby", nil)
	writePluginFile(t, baseDir, "beta", 1, "python", map[string]any{
		"dependencies": []map[string]any{{"name": "libX", "requestedVersion": 2}},
	})
	srv := serveManifests(t, map[string]map[string]RemotePackage{
		"repo.manifest": {
			"py":   {Name: "py", Type: "python", Versions: []PackageVersion{{Version: 1}}},
			"libX": {Name: "libX", Type: "plugin", Versions: []PackageVersion{{Version: 2}}},
		},
	})

	m := newTestManager(t, baseDir, srv.URL+"/repo.manifest")
	m.LoadLocalPackages()
	m.LoadRemotePackages()

	m.FindDependencies()
	firstMissed := m.MissedPackages()
	firstConflicted := len(m.ConflictedPackages())

	m.FindDependencies()
	assert.ElementsMatch(t, firstMissed, m.MissedPackages())
	assert.Equal(t, firstConflicted, len(m.ConflictedPackages()))
}

func TestSnapshotPackagesRoundTrip(t *testing.T) {
	baseDir := t.TempDir()
	writePluginFile(t, baseDir, "A", 1, "python", nil)
	writeModuleFile(t, baseDir, "py", 3, "python")

	m := newTestManager(t, baseDir)
	m.LoadLocalPackages()

	path := filepath.Join(t.TempDir(), "snapshot"+descriptor.ManifestFileExtension)
	require.NoError(t, m.SnapshotPackages(path, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	manifest, err := ParseManifest(data)
	require.NoError(t, err)

	require.Len(t, manifest.Content, 2)
	assert.Equal(t, descriptor.Version(1), manifest.Content["A"].Versions[0].Version)
	assert.Equal(t, descriptor.Version(3), manifest.Content["py"].Versions[0].Version)
	assert.Equal(t, "python", manifest.Content["py"].Type)
}

// buildBundle builds a zip bundle holding a descriptor plus content files.
func buildBundle(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestInstallUninstallRoundTrip(t *testing.T) {
	baseDir := t.TempDir()

	pluginDoc := `{"fileVersion":1,"version":2,"entryPoint":"bin/libX","languageModule":{"name":"python"}}`
	bundle := buildBundle(t, map[string]string{
		"libX.plugin":  pluginDoc,
		"bin/libX.py":  "print('x')",
	})

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/repo.manifest", func(w http.ResponseWriter, _ *http.Request) {
		manifest := map[string]RemotePackage{
			"libX": {Name: "libX", Type: "plugin", Versions: []PackageVersion{
				{Version: 2, Mirrors: []string{srv.URL + "/libX.zip"}},
			}},
		}
		_ = json.NewEncoder(w).Encode(manifest)
	})
	mux.HandleFunc("/libX.zip", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(bundle)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	m := newTestManager(t, baseDir, srv.URL+"/repo.manifest")
	m.LoadLocalPackages()
	m.LoadRemotePackages()

	m.InstallPackage("libX", nil)

	installed := m.FindLocalPackage("libX")
	require.NotNil(t, installed)
	assert.Equal(t, descriptor.Version(2), installed.Version)

	content, err := os.ReadFile(filepath.Join(baseDir, "plugins", "libX", "bin", "libX.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('x')", string(content))

	// Installing again is rejected: the package is already present.
	m.InstallPackage("libX", nil)
	assert.Len(t, m.LocalPackages(), 1)

	m.UninstallPackage("libX")
	assert.Nil(t, m.FindLocalPackage("libX"))
	_, statErr := os.Stat(filepath.Join(baseDir, "plugins", "libX"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestInstallRejectsChecksumMismatch(t *testing.T) {
	baseDir := t.TempDir()
	bundle := buildBundle(t, map[string]string{
		"libX.plugin": `{"fileVersion":1,"version":1,"entryPoint":"bin/libX","languageModule":{"name":"python"}}`,
	})

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/repo.manifest", func(w http.ResponseWriter, _ *http.Request) {
		manifest := map[string]RemotePackage{
			"libX": {Name: "libX", Type: "plugin", Versions: []PackageVersion{
				{Version: 1, Mirrors: []string{srv.URL + "/libX.zip"}, Checksum: "deadbeef"},
			}},
		}
		_ = json.NewEncoder(w).Encode(manifest)
	})
	mux.HandleFunc("/libX.zip", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(bundle)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	m := newTestManager(t, baseDir, srv.URL+"/repo.manifest")
	m.LoadRemotePackages()
	m.InstallPackage("libX", nil)

	assert.Nil(t, m.FindLocalPackage("libX"))
}

func TestInstallAcceptsMatchingChecksum(t *testing.T) {
	baseDir := t.TempDir()
	bundle := buildBundle(t, map[string]string{
		"libX.plugin": `{"fileVersion":1,"version":1,"entryPoint":"bin/libX","languageModule":{"name":"python"}}`,
	})
	sum := sha256.Sum256(bundle)
	checksum := hex.EncodeToString(sum[:])

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/repo.manifest", func(w http.ResponseWriter, _ *http.Request) {
		manifest := map[string]RemotePackage{
			"libX": {Name: "libX", Type: "plugin", Versions: []PackageVersion{
				{Version: 1, Mirrors: []string{srv.URL + "/libX.zip"}, Checksum: checksum},
			}},
		}
		_ = json.NewEncoder(w).Encode(manifest)
	})
	mux.HandleFunc("/libX.zip", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(bundle)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	m := newTestManager(t, baseDir, srv.URL+"/repo.manifest")
	m.LoadRemotePackages()
	m.InstallPackage("libX", nil)

	assert.NotNil(t, m.FindLocalPackage("libX"))
}

func TestInstallRejectsWrongContentType(t *testing.T) {
	baseDir := t.TempDir()
	bundle := buildBundle(t, map[string]string{
		"libX.plugin": `{"fileVersion":1,"version":1,"entryPoint":"bin/libX","languageModule":{"name":"python"}}`,
	})

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/repo.manifest", func(w http.ResponseWriter, _ *http.Request) {
		manifest := map[string]RemotePackage{
			"libX": {Name: "libX", Type: "plugin", Versions: []PackageVersion{
				{Version: 1, Mirrors: []string{srv.URL + "/libX.zip"}},
			}},
		}
		_ = json.NewEncoder(w).Encode(manifest)
	})
	mux.HandleFunc("/libX.zip", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write(bundle)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	m := newTestManager(t, baseDir, srv.URL+"/repo.manifest")
	m.LoadRemotePackages()
	m.InstallPackage("libX", nil)

	assert.Nil(t, m.FindLocalPackage("libX"))
}

func TestMatchLocalPackages(t *testing.T) {
	baseDir := t.TempDir()
	writePluginFile(t, baseDir, "libX", 1, "python", nil)
	writePluginFile(t, baseDir, "libY", 1, "python", nil)
	writePluginFile(t, baseDir, "other", 1, "python", nil)

	m := newTestManager(t, baseDir)
	m.LoadLocalPackages()

	matched, err := m.MatchLocalPackages("lib*")
	require.NoError(t, err)
	names := make([]string, 0, len(matched))
	for _, pkg := range matched {
		names = append(names, pkg.Name)
	}
	assert.ElementsMatch(t, []string{"libX", "libY"}, names)

	_, err = m.MatchLocalPackages("[")
	assert.Error(t, err)
}

func TestRuntimeConstraintSkipsIncompatible(t *testing.T) {
	d := download.NewDownloader()
	t.Cleanup(d.Close)
	m := NewManager(
		Config{BaseDir: t.TempDir(), RuntimeVersion: "1.2.0"},
		WithDownloader(d),
	)
	require.NoError(t, m.Initialize())

	pkg := &RemotePackage{Name: "libX", Type: "plugin", Versions: []PackageVersion{
		{Version: 1, Runtime: ">= 2.0.0", Mirrors: []string{"http://mirror/1"}},
	}}
	assert.Nil(t, m.selectVersion(pkg, nil))

	pkg.Versions[0].Runtime = ">= 1.0.0"
	assert.NotNil(t, m.selectVersion(pkg, nil))
}

func TestRemotePackageVersionSelection(t *testing.T) {
	pkg := &RemotePackage{Name: "x", Type: "plugin", Versions: []PackageVersion{
		{Version: 1}, {Version: 3}, {Version: 2},
	}}
	assert.Equal(t, descriptor.Version(3), pkg.LatestVersion().Version)
	require.NotNil(t, pkg.Version(2))
	assert.Nil(t, pkg.Version(9))
}

func TestManifestWireFormatIsBareObject(t *testing.T) {
	manifest := Manifest{Content: map[string]RemotePackage{
		"x": {Name: "x", Type: "plugin", Versions: []PackageVersion{{Version: 1}}},
	}}
	data, err := json.Marshal(manifest)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	_, hasWrapper := raw["content"]
	assert.False(t, hasWrapper)
	assert.Contains(t, raw, "x")

	back, err := ParseManifest(data)
	require.NoError(t, err)
	assert.Equal(t, manifest.Content, back.Content)
}

func TestPackageFolder(t *testing.T) {
	assert.Equal(t, "plugins", packageFolder(descriptor.TypePlugin))
	assert.Equal(t, "modules", packageFolder("python"))
}

func ExampleManifest() {
	manifest := Manifest{Content: map[string]RemotePackage{
		"sample": {Name: "sample", Type: "plugin", Versions: []PackageVersion{{Version: 1, Mirrors: []string{"https://mirrors.plugify.net/sample.zip"}}}},
	}}
	data, _ := json.Marshal(manifest)
	fmt.Println(string(data))
	// Output: {"sample":{"name":"sample","type":"plugin","versions":[{"version":1,"mirrors":["https://mirrors.plugify.net/sample.zip"]}]}}
}

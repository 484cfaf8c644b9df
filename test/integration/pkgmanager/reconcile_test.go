// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

//go:build integration

package pkgmanager_test

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/plugify/plugify/internal/descriptor"
	"github.com/plugify/plugify/internal/download"
	"github.com/plugify/plugify/internal/pkgmanager"
)

// bundle builds an in-memory zip from name -> content pairs.
func bundle(files map[string]string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		Expect(err).NotTo(HaveOccurred())
		_, err = f.Write([]byte(content))
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(w.Close()).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("end-to-end reconciliation", func() {
	var (
		baseDir    string
		srv        *httptest.Server
		downloader *download.Downloader
		pm         *pkgmanager.Manager
	)

	BeforeEach(func() {
		baseDir = GinkgoT().TempDir()

		// One plugin is installed locally and depends on a language module
		// plus a library plugin, both only available from the repository.
		pluginDir := filepath.Join(baseDir, "plugins", "app")
		Expect(os.MkdirAll(pluginDir, 0o750)).To(Succeed())
		appDoc := `{
			"fileVersion": 1,
			"version": 1,
			"entryPoint": "bin/app",
			"languageModule": { "name": "python" },
			"dependencies": [ { "name": "libX", "requestedVersion": 2 } ]
		}`
		Expect(os.WriteFile(filepath.Join(pluginDir, "app.plugin"), []byte(appDoc), 0o640)).To(Succeed())

		moduleBundle := bundle(map[string]string{
			"py.module":  `{"fileVersion":1,"version":3,"language":"python","entryPoint":"bin/libpy"}`,
			"bin/libpy":  "\x7fELF",
		})
		libBundle := bundle(map[string]string{
			"libX.plugin": `{"fileVersion":1,"version":2,"entryPoint":"bin/libX","languageModule":{"name":"python"}}`,
		})

		mux := http.NewServeMux()
		mux.HandleFunc("/repo.manifest", func(w http.ResponseWriter, _ *http.Request) {
			manifest := map[string]pkgmanager.RemotePackage{
				"py": {Name: "py", Type: "python", Versions: []pkgmanager.PackageVersion{
					{Version: 3, Mirrors: []string{srv.URL + "/py.zip"}},
				}},
				"libX": {Name: "libX", Type: "plugin", Versions: []pkgmanager.PackageVersion{
					{Version: 2, Mirrors: []string{srv.URL + "/libX.zip"}},
				}},
			}
			Expect(json.NewEncoder(w).Encode(manifest)).To(Succeed())
		})
		mux.HandleFunc("/py.zip", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/zip")
			_, _ = w.Write(moduleBundle)
		})
		mux.HandleFunc("/libX.zip", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/zip")
			_, _ = w.Write(libBundle)
		})
		srv = httptest.NewServer(mux)

		downloader = download.NewDownloader()
		pm = pkgmanager.NewManager(
			pkgmanager.Config{BaseDir: baseDir, Repositories: []string{srv.URL + "/repo.manifest"}},
			pkgmanager.WithDownloader(downloader),
		)
		Expect(pm.Initialize()).To(Succeed())
	})

	AfterEach(func() {
		pm.Terminate()
		srv.Close()
	})

	It("resolves the missing dependencies from the repository", func() {
		Expect(pm.MissedPackages()).To(ConsistOf("python", "libX"))
		Expect(pm.ConflictedPackages()).To(BeEmpty())
	})

	It("installs the missed packages and converges", func() {
		pm.InstallMissedPackages()

		By("materialising the bundles on disk")
		Expect(filepath.Join(baseDir, "modules", "py", "py.module")).To(BeARegularFile())
		Expect(filepath.Join(baseDir, "plugins", "libX", "libX.plugin")).To(BeARegularFile())

		By("re-resolving to a clean catalogue")
		Expect(pm.MissedPackages()).To(BeEmpty())
		Expect(pm.ConflictedPackages()).To(BeEmpty())
		Expect(pm.FindLocalPackage("py")).NotTo(BeNil())
		Expect(pm.FindLocalPackage("libX")).NotTo(BeNil())
	})

	It("round-trips the local set through a snapshot", func() {
		pm.InstallMissedPackages()

		path := filepath.Join(baseDir, "snapshot"+descriptor.ManifestFileExtension)
		Expect(pm.SnapshotPackages(path, true)).To(Succeed())

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		manifest, err := pkgmanager.ParseManifest(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(manifest.Content).To(HaveKey("app"))
		Expect(manifest.Content).To(HaveKey("py"))
		Expect(manifest.Content).To(HaveKey("libX"))
	})

	It("restores the filesystem on uninstall", func() {
		pm.InstallMissedPackages()
		pm.UninstallPackage("libX")

		Expect(filepath.Join(baseDir, "plugins", "libX")).NotTo(BeADirectory())
		Expect(pm.FindLocalPackage("libX")).To(BeNil())
		// The dependency is missed again after reconciliation.
		Expect(pm.MissedPackages()).To(ConsistOf("libX"))
	})
})

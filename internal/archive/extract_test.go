// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildZip assembles an in-memory zip from name -> content pairs.
func buildZip(t *testing.T, files map[string]string) []byte {
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

func TestExtract(t *testing.T) {
	dest := t.TempDir()
	data := buildZip(t, map[string]string{
		"example.plugin":  `{"version":1}`,
		"bin/example.py":  "print('hi')",
		"assets/logo.txt": "logo",
	})

	require.NoError(t, Extract(data, dest, ".plugin"))

	content, err := os.ReadFile(filepath.Join(dest, "bin", "example.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('hi')", string(content))

	_, err = os.Stat(filepath.Join(dest, "example.plugin"))
	assert.NoError(t, err)
}

func TestExtractMissingDescriptor(t *testing.T) {
	dest := t.TempDir()
	data := buildZip(t, map[string]string{"readme.txt": "no descriptor here"})

	err := Extract(data, dest, ".plugin")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingDescriptor))

	// Nothing may have been written.
	entries, readErr := os.ReadDir(dest)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestExtractRejectsTraversal(t *testing.T) {
	dest := t.TempDir()
	data := buildZip(t, map[string]string{
		"ok.plugin":         `{}`,
		"../escape.txt":     "outside",
		"nested/../../x.sh": "outside",
	})

	err := Extract(data, dest, ".plugin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes destination")

	_, statErr := os.Stat(filepath.Join(filepath.Dir(dest), "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtractRejectsGarbage(t *testing.T) {
	err := Extract([]byte("not a zip"), t.TempDir(), ".plugin")
	assert.Error(t, err)
}

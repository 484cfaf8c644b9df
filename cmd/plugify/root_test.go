// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmdHasSubcommands(t *testing.T) {
	cmd := NewRootCmd()

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["package"])
	assert.True(t, names["status"])
}

func TestPackageListCommand(t *testing.T) {
	baseDir := t.TempDir()
	pluginDir := filepath.Join(baseDir, "plugins", "sample")
	require.NoError(t, os.MkdirAll(pluginDir, 0o750))
	doc := map[string]any{
		"fileVersion":    1,
		"version":        2,
		"entryPoint":     "bin/sample",
		"languageModule": map[string]any{"name": "python"},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "sample.plugin"), data, 0o640))

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"package", "list", "--baseDir", baseDir})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "sample [plugin] v2")
}

func TestStatusCommand(t *testing.T) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"status", "--baseDir", t.TempDir()})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "local packages")
}

func TestInstallRequiresTarget(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"package", "install", "--baseDir", t.TempDir()})

	assert.Error(t, cmd.Execute())
}

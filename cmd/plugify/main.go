// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

// Package main is the entry point for the Plugify runtime CLI.
package main

import (
	"fmt"
	"os"

	"github.com/plugify/plugify/internal/plugify"
)

// Build information set at build time.
var (
	commit = "unknown"
	date   = "unknown"
)

func main() {
	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", plugify.Version, commit, date)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

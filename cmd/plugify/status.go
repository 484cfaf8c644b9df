// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/plugify/plugify/internal/plugify"
)

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the resolution state of the installation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pm, err := newPackageManager(cmd.Flags())
			if err != nil {
				return err
			}
			defer pm.Terminate()

			cmd.Printf("plugify %s\n", plugify.Version)
			cmd.Printf("local packages:      %d\n", len(pm.LocalPackages()))
			cmd.Printf("remote packages:     %d\n", len(pm.RemotePackages()))
			cmd.Printf("missing packages:    %d\n", len(pm.MissedPackages()))
			cmd.Printf("conflicted packages: %d\n", len(pm.ConflictedPackages()))
			return nil
		},
	}
}

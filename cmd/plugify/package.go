// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/plugify/plugify/internal/descriptor"
	"github.com/plugify/plugify/internal/pkgmanager"
	"github.com/plugify/plugify/internal/plugify"
)

// newPackageManager builds an initialized package manager for one-shot
// package commands.
func newPackageManager(flags *pflag.FlagSet) (*pkgmanager.Manager, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	pm := pkgmanager.NewManager(pkgmanager.Config{
		BaseDir:        cfg.BaseDir,
		Repositories:   cfg.Repositories,
		RuntimeVersion: plugify.Version,
		Verification:   cfg.PackageVerification,
		VerifyURL:      cfg.PackageVerifyURL,
	})
	if err := pm.Initialize(); err != nil {
		return nil, err
	}
	return pm, nil
}

// NewPackageCmd creates the package command group.
func NewPackageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "package",
		Short: "Install, update, remove and inspect packages",
	}
	cmd.AddCommand(newPackageListCmd())
	cmd.AddCommand(newPackageInstallCmd())
	cmd.AddCommand(newPackageUpdateCmd())
	cmd.AddCommand(newPackageUninstallCmd())
	cmd.AddCommand(newPackageSnapshotCmd())
	cmd.AddCommand(newPackageInstallAllCmd())
	return cmd
}

func newPackageListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List local packages and their resolution state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pm, err := newPackageManager(cmd.Flags())
			if err != nil {
				return err
			}
			defer pm.Terminate()

			for _, pkg := range pm.LocalPackages() {
				cmd.Printf("%s [%s] v%d\t%s\n", pkg.Name, pkg.Type, pkg.Version, pkg.Path)
			}
			if missed := pm.MissedPackages(); len(missed) > 0 {
				cmd.Printf("missing: %s\n", strings.Join(missed, ", "))
			}
			for _, pkg := range pm.ConflictedPackages() {
				cmd.Printf("conflicted: %s\n", pkg.Name)
			}
			return nil
		},
	}
}

func newPackageInstallCmd() *cobra.Command {
	var version int32
	var missing bool
	cmd := &cobra.Command{
		Use:   "install [name...]",
		Short: "Install remote packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := newPackageManager(cmd.Flags())
			if err != nil {
				return err
			}
			defer pm.Terminate()

			switch {
			case missing:
				pm.InstallMissedPackages()
			case len(args) == 1 && cmd.Flags().Changed("version"):
				v := descriptor.Version(version)
				pm.InstallPackage(args[0], &v)
			case len(args) > 0:
				pm.InstallPackages(args)
			default:
				return fmt.Errorf("nothing to install: pass package names or --missing")
			}
			return nil
		},
	}
	cmd.Flags().Int32Var(&version, "version", 0, "exact version to install (single package only)")
	cmd.Flags().BoolVar(&missing, "missing", false, "install every missed dependency")
	return cmd
}

func newPackageUpdateCmd() *cobra.Command {
	var version int32
	var all bool
	cmd := &cobra.Command{
		Use:   "update [name...]",
		Short: "Update local packages from their remote counterparts",
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := newPackageManager(cmd.Flags())
			if err != nil {
				return err
			}
			defer pm.Terminate()

			switch {
			case all:
				pm.UpdateAllPackages()
			case len(args) == 1 && cmd.Flags().Changed("version"):
				v := descriptor.Version(version)
				pm.UpdatePackage(args[0], &v)
			case len(args) > 0:
				for _, name := range args {
					pm.UpdatePackage(name, nil)
				}
			default:
				return fmt.Errorf("nothing to update: pass package names or --all")
			}
			return nil
		},
	}
	cmd.Flags().Int32Var(&version, "version", 0, "exact version to update to (single package only)")
	cmd.Flags().BoolVar(&all, "all", false, "update every local package")
	return cmd
}

func newPackageUninstallCmd() *cobra.Command {
	var all, conflicted bool
	cmd := &cobra.Command{
		Use:   "uninstall [pattern...]",
		Short: "Remove local packages (names may be glob patterns)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := newPackageManager(cmd.Flags())
			if err != nil {
				return err
			}
			defer pm.Terminate()

			switch {
			case all:
				pm.UninstallAllPackages()
			case conflicted:
				pm.UninstallConflictedPackages()
			case len(args) > 0:
				for _, pattern := range args {
					matched, err := pm.MatchLocalPackages(pattern)
					if err != nil {
						return err
					}
					if len(matched) == 0 {
						cmd.Printf("no package matches %q\n", pattern)
						continue
					}
					for _, pkg := range matched {
						pm.UninstallPackage(pkg.Name)
					}
				}
			default:
				return fmt.Errorf("nothing to uninstall: pass patterns, --all or --conflicted")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "remove every local package")
	cmd.Flags().BoolVar(&conflicted, "conflicted", false, "remove every conflicted package")
	return cmd
}

func newPackageSnapshotCmd() *cobra.Command {
	var pretty bool
	cmd := &cobra.Command{
		Use:   "snapshot <path>",
		Short: "Write a manifest describing the local package set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := newPackageManager(cmd.Flags())
			if err != nil {
				return err
			}
			defer pm.Terminate()
			return pm.SnapshotPackages(args[0], pretty)
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent the manifest JSON")
	return cmd
}

func newPackageInstallAllCmd() *cobra.Command {
	var reinstall bool
	cmd := &cobra.Command{
		Use:   "install-all <manifest>",
		Short: "Install every package of a manifest file or URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := newPackageManager(cmd.Flags())
			if err != nil {
				return err
			}
			defer pm.Terminate()

			source := args[0]
			if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
				pm.InstallAllPackagesFromURL(source, reinstall)
			} else {
				pm.InstallAllPackages(source, reinstall)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reinstall, "reinstall", false, "reinstall packages that are already present")
	return cmd
}

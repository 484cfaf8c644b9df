// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/plugify/plugify/internal/config"
	"github.com/plugify/plugify/internal/logging"
	"github.com/plugify/plugify/internal/plugify"
)

// configFile is the global config file path flag.
var configFile string

// NewRootCmd creates the root command for the Plugify CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugify",
		Short: "Plugify - a multi-language plugin runtime",
		Long: `Plugify discovers, resolves and supervises plugins written in multiple
languages, each driven by a loadable language module.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (JSON)")
	cmd.PersistentFlags().String("baseDir", "", "root of the installation")
	cmd.PersistentFlags().StringSlice("repositories", nil, "manifest URLs fetched on reconciliation")
	cmd.PersistentFlags().String("logSeverity", "", "minimum log severity (verbose..fatal)")
	cmd.PersistentFlags().String("logFormat", "", "log output format: json or text")
	cmd.PersistentFlags().Bool("preferOwnSymbols", false, "bind module symbols locally instead of host-global")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewPackageCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}

// loadConfig resolves the effective configuration for a command and installs
// the default logger per its logging options.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	logging.SetDefault("plugify", plugify.Version, cfg.LogFormat, logging.ParseSeverity(cfg.LogSeverity))
	return cfg, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/plugify/plugify/internal/observability"
	"github.com/plugify/plugify/internal/plugify"
)

// updateInterval paces the plugin update tick.
const updateInterval = 50 * time.Millisecond

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the runtime and supervise the plugin graph",
		Long: `Reconcile the package catalogues, load every required language module,
start the plugins in dependency order and tick them until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}

			runtime, err := plugify.New(cfg, slog.Default())
			if err != nil {
				return err
			}
			if err := runtime.Initialize(); err != nil {
				return err
			}
			defer runtime.Terminate()

			if cfg.ObservabilityAddr != "" {
				obs := observability.NewServer(cfg.ObservabilityAddr, runtime.IsInitialized)
				if _, err := obs.Start(); err != nil {
					return err
				}
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = obs.Stop(ctx)
				}()
			}

			if pm := runtime.PackageManager(); pm.HasMissedPackages() {
				slog.Warn("missing dependencies detected; run 'plugify package install --missing'",
					"packages", pm.MissedPackages())
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			ticker := time.NewTicker(updateInterval)
			defer ticker.Stop()

			last := time.Now()
			for {
				select {
				case now := <-ticker.C:
					runtime.Update(now.Sub(last))
					last = now
				case sig := <-stop:
					slog.Info("shutting down", "signal", sig.String())
					return nil
				}
			}
		},
	}
	return cmd
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

// Package config loads the runtime configuration: defaults, then a JSON
// config file, then command-line flag overrides.
package config

import (
	"errors"
	"io/fs"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config is the runtime configuration.
type Config struct {
	// BaseDir is the root of the installation. Required.
	BaseDir string `koanf:"baseDir"`
	// Repositories are manifest URLs fetched on every reconciliation.
	Repositories []string `koanf:"repositories"`
	// LogSeverity is the minimum severity forwarded to the sink.
	LogSeverity string `koanf:"logSeverity"`
	// LogFormat selects "json" or "text" output.
	LogFormat string `koanf:"logFormat"`
	// PreferOwnSymbols binds module-library symbols locally instead of
	// host-global.
	PreferOwnSymbols bool `koanf:"preferOwnSymbols"`
	// PackageVerification enables the integrity hooks.
	PackageVerification bool `koanf:"packageVerification"`
	// PackageVerifyURL overrides the verified package list location.
	PackageVerifyURL string `koanf:"packageVerifyUrl"`
	// ObservabilityAddr exposes /healthz/liveness, /healthz/readiness and
	// /metrics when set.
	ObservabilityAddr string `koanf:"observabilityAddr"`
}

// defaults applied below file and flag values.
var defaults = map[string]any{
	"logSeverity": "info",
	"logFormat":   "json",
}

// Load builds the configuration from defaults, an optional JSON config file
// and an optional flag set, in increasing precedence.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").Wrapf(err, "load defaults")
	}

	if path != "" {
		if err := k.Load(file.Provider(path), json.Parser()); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, oops.Code("CONFIG_LOAD_FAILED").Wrapf(err, "load config file %q", path)
			}
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").Wrapf(err, "load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").Wrapf(err, "decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.BaseDir == "" {
		return oops.Code("CONFIG_INVALID").Errorf("baseDir is required")
	}
	return nil
}

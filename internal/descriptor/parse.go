// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package descriptor

import (
	"encoding/json"
	"log/slog"

	"github.com/samber/oops"
)

// ParsePlugin parses and validates a .plugin document. Duplicate
// dependencies and exported methods are de-duplicated, first wins, with a
// warning attributed to name.
func ParsePlugin(name string, data []byte) (*PluginDescriptor, error) {
	if err := ValidateSchema("plugin", data); err != nil {
		return nil, oops.With("package", name).Wrap(err)
	}

	var d PluginDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, oops.Code("DESCRIPTOR_INVALID").With("package", name).Wrapf(err, "decode plugin descriptor")
	}
	if err := d.Validate(); err != nil {
		return nil, oops.With("package", name).Wrap(err)
	}

	if d.DedupeDependencies() {
		slog.Warn("plugin descriptor has multiple dependencies with same name", "package", name)
	}
	if d.DedupeMethods() {
		slog.Warn("plugin descriptor has multiple methods with same name", "package", name)
	}
	return &d, nil
}

// ParseModule parses and validates a .module document.
func ParseModule(name string, data []byte) (*LanguageModuleDescriptor, error) {
	if err := ValidateSchema("module", data); err != nil {
		return nil, oops.With("package", name).Wrap(err)
	}

	var d LanguageModuleDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, oops.Code("DESCRIPTOR_INVALID").With("package", name).Wrapf(err, "decode module descriptor")
	}
	if err := d.Validate(); err != nil {
		return nil, oops.With("package", name).Wrap(err)
	}
	return &d, nil
}

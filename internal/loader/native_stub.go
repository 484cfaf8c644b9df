// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

//go:build !linux || !cgo

package loader

import (
	"errors"

	"github.com/plugify/plugify/internal/manager"
)

// ErrUnsupportedHost is reported when native module loading is unavailable
// on this platform or build.
var ErrUnsupportedHost = errors.New("native module loading is not available on this host")

// NativeLoader is the stand-in loader on hosts without dlopen support.
type NativeLoader struct{}

// NewNativeLoader creates the stub loader.
func NewNativeLoader() *NativeLoader { return &NativeLoader{} }

// Load always fails on the stub.
func (l *NativeLoader) Load(module *manager.Module, preferOwnSymbols bool) (manager.LanguageModule, func() error, error) {
	return nil, nil, ErrUnsupportedHost
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

// Package loader binds language-module native libraries to the manager's
// LanguageModule interface. Libraries export a single factory symbol
// returning a function table; the loader resolves it and adapts the table.
package loader

// FactorySymbol is the symbol every language-module library must export.
const FactorySymbol = "Plugify_GetLanguageModule"

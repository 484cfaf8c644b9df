// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

// Command gen-schema generates the descriptor JSON Schema files.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/plugify/plugify/internal/descriptor"
)

func main() {
	for _, kind := range descriptor.SchemaKinds {
		schema, err := descriptor.GenerateSchema(kind)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating %s schema: %v\n", kind, err)
			os.Exit(1)
		}

		outPath := filepath.Join("schemas", kind+".schema.json")
		if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating directory: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(outPath, schema, 0o600); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Generated %s\n", outPath)
	}
}

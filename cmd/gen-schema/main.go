// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

// Command gen-schema generates the JSON Schema files for the plugin
// request and response envelopes.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/passy/passy/internal/bridge"
)

func main() {
	outputs := []struct {
		name string
		gen  func() ([]byte, error)
	}{
		{"plugin-request.schema.json", bridge.GenerateRequestSchema},
		{"plugin-response.schema.json", bridge.GenerateResponseSchema},
	}

	if err := os.MkdirAll("schemas", 0o750); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directory: %v\n", err)
		os.Exit(1)
	}

	for _, out := range outputs {
		schema, err := out.gen()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating %s: %v\n", out.name, err)
			os.Exit(1)
		}

		outPath := filepath.Join("schemas", out.name)
		if err := os.WriteFile(outPath, schema, 0o600); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Generated %s\n", outPath)
	}
}

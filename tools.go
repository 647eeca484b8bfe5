// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

//go:build tools

// Package main pins tool and test dependencies to go.mod.
// See https://go.dev/wiki/Modules#how-can-i-track-tool-dependencies-for-a-module
package main

import (
	// Integration suite runner
	_ "github.com/onsi/ginkgo/v2/ginkgo"
	_ "github.com/onsi/gomega"

	// Unit test tooling
	_ "github.com/stretchr/testify/require"
	_ "pgregory.net/rapid"
)

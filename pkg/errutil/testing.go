// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

package errutil

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode asserts that err is an oops error whose outermost code is
// code.
func AssertErrorCode(t testing.TB, err error, code string) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	assert.Equal(t, code, oopsErr.Code())
}

// AssertCoded asserts that err carries code and still matches sentinel with
// errors.Is. Bridge failures are reported both ways, so callers can branch on
// either.
func AssertCoded(t testing.TB, err error, sentinel error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel), "expected %v in chain of %v", sentinel, err)
	AssertErrorCode(t, err, code)
}

// AssertErrorContext asserts that err carries value under key in its oops
// context, such as the plugin or request id a failure belongs to.
func AssertErrorContext(t testing.TB, err error, key string, value any) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	got, ok := oopsErr.Context()[key]
	require.True(t, ok, "context has no %q: %v", key, oopsErr.Context())
	assert.Equal(t, value, got, "context %q", key)
}

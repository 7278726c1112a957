// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode asserts that err is an oops error carrying code.
func AssertErrorCode(t testing.TB, err error, code string) {
	t.Helper()
	requireOops(t, err)
	assert.Equal(t, code, Code(err), "oops code of %q", err.Error())
}

// AssertErrorIs asserts that err wraps target and carries code. Auth errors
// pair a sentinel for callers with a code for logs.
func AssertErrorIs(t testing.TB, err, target error, code string) {
	t.Helper()
	require.ErrorIs(t, err, target)
	AssertErrorCode(t, err, code)
}

// AssertErrorContext asserts that err carries key with value in its oops
// context.
func AssertErrorContext(t testing.TB, err error, key string, value any) {
	t.Helper()
	fields := requireOops(t, err).Context()
	got, found := fields[key]
	require.Truef(t, found, "oops context has no %q: %v", key, fields)
	assert.Equal(t, value, got)
}

func requireOops(t testing.TB, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.Truef(t, ok, "expected oops error, got %T: %v", err, err)
	return oopsErr
}

// Package testutil holds helpers shared by package tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// AssertEqual stops the test when got and want differ.
func AssertEqual(t testing.TB, want, got any) {
	t.Helper()
	require.Equal(t, want, got)
}

func AssertNoError(t testing.TB, err error) {
	t.Helper()
	require.NoError(t, err)
}

func AssertError(t testing.TB, err error) {
	t.Helper()
	require.Error(t, err)
}

// Package testutil holds shared helpers for gating slow or
// environment-dependent tests.
package testutil

import (
	"os"
	"testing"
)

// SkipIfShort skips the test under `go test -short`.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping in short mode")
	}
}

// RequireIntegration gates container-backed integration tests. They are
// skipped in short mode, and in CI unless INTEGRATION_TESTS=1 opts in.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("INTEGRATION_TESTS") == "" && os.Getenv("CI") != "" {
		t.Skip("skipping integration test (set INTEGRATION_TESTS=1 to run)")
	}
}

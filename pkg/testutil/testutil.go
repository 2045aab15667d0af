// Package testutil contains common test utilities.
package testutil

import (
	"os"
	"path/filepath"
)

// Cleanuper wraps the Cleanup method. It is a subset of [testing.TB], thus
// satisfied by [*testing.T] and [*testing.B].
type Cleanuper interface {
	Cleanup(func())
}

// TempDirer wraps the TempDir method; it is satisfied by [*testing.T].
type TempDirer interface {
	TempDir() string
}

// TempFile returns the path of a not yet existing file inside a fresh
// temporary directory that is removed when the test finishes.
func TempFile(t TempDirer, name string) string {
	return filepath.Join(t.TempDir(), name)
}

// WriteTempFile writes content to a file in a fresh temporary directory and
// returns its path.
func WriteTempFile(t TempDirer, name, content string) string {
	path := TempFile(t, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		panic(err)
	}
	return path
}

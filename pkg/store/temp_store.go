package store

import (
	"os"
	"path/filepath"
	"testing"
)

// MustTempStore returns a Store backed by a temporary file. The store is
// closed and the file removed when the test finishes.
func MustTempStore(t testing.TB) DBStore {
	name := filepath.Join(t.TempDir(), "xyfit.db")
	st, err := NewStore(name)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
		os.Remove(name)
	})
	return st
}

// Package storetest keeps test suites against storedefs.Store.
package storetest

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"src.xyfit.dev/pkg/store/storedefs"
)

// TestDefinitions tests the definition functionality of a Store.
func TestDefinitions(t *testing.T, store storedefs.Store) {
	defs, err := store.Definitions()
	if err != nil || len(defs) != 0 {
		t.Errorf("Definitions() of an empty store -> %v, %v, want no definitions", defs, err)
	}

	for _, d := range []storedefs.Definition{
		{Name: "F", Formula: "F(a) = a*x"},
		{Name: "G", Formula: "G(b) = F(b) + F(2*b)"},
		{Name: "H", Formula: "H(c) = c"},
	} {
		if err := store.AddDefinition(d.Name, d.Formula); err != nil {
			t.Errorf("AddDefinition(%q) -> %v", d.Name, err)
		}
	}
	// Replacing moves the definition to the end.
	if err := store.AddDefinition("F", "F(a) = a*x^2"); err != nil {
		t.Errorf("AddDefinition(F) again -> %v", err)
	}
	if err := store.DelDefinition("H"); err != nil {
		t.Errorf("DelDefinition(H) -> %v", err)
	}
	if err := store.DelDefinition("H"); !errors.Is(err, storedefs.ErrNoDefinition) {
		t.Errorf("DelDefinition(H) again -> %v, want ErrNoDefinition", err)
	}

	want := []storedefs.Definition{
		{Name: "G", Formula: "G(b) = F(b) + F(2*b)"},
		{Name: "F", Formula: "F(a) = a*x^2"},
	}
	defs, err = store.Definitions()
	if err != nil {
		t.Errorf("Definitions() -> error %v", err)
	}
	if diff := cmp.Diff(want, defs, cmpopts.IgnoreFields(storedefs.Definition{}, "Seq")); diff != "" {
		t.Errorf("Definitions() (-want +got):\n%s", diff)
	}
	if len(defs) == 2 && defs[0].Seq >= defs[1].Seq {
		t.Errorf("sequence numbers %d, %d are not increasing", defs[0].Seq, defs[1].Seq)
	}
}

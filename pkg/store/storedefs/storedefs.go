// Package storedefs contains definitions of the store API.
//
// It is a separate package so that packages that only depend on the store API
// do not need to depend on the concrete implementation.
package storedefs

import "errors"

// ErrNoDefinition is returned by DelDefinition when there is no definition
// with the given name.
var ErrNoDefinition = errors.New("no such definition")

// Store is an interface satisfied by the storage service.
type Store interface {
	AddDefinition(name, formula string) error
	DelDefinition(name string) error
	Definitions() ([]Definition, error)
}

// Definition is a stored function type definition.
type Definition struct {
	Name    string
	Formula string
	Seq     int
}

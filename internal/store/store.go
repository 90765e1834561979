package store

import (
	"errors"

	"cosem-go/internal/cosem"
)

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for object snapshots.
type Store interface {
	// Object operations. Objects are keyed by class id and logical name and
	// rebuilt through the factory on load.
	SaveObject(obj cosem.Object) error
	LoadObject(f *cosem.Factory, classID uint16, ln cosem.LogicalName) (cosem.Object, error)
	DeleteObject(classID uint16, ln cosem.LogicalName) error
	ListObjects(f *cosem.Factory) ([]cosem.Object, error)

	// SaveCollection writes every object of c in a single transaction.
	SaveCollection(c *cosem.Collection) error

	// UpdateObject atomically loads, modifies, and saves an object in a single
	// transaction. Returns ErrNotFound if the object does not exist.
	UpdateObject(f *cosem.Factory, classID uint16, ln cosem.LogicalName, fn func(obj cosem.Object) error) error

	// Session parameters
	SaveSession(state *SessionState) error
	GetSession() (*SessionState, error)

	// Close the store
	Close() error
}

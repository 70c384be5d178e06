// Package backend defines the pluggable storage providers for address books and the registry
// through which they are looked up by name.
package backend

import (
	"context"
	"errors"
	"time"

	"gitlab.com/dirk.krummacker/addressbooks-service/internal/model"
)

var (
	// ErrNotFound is returned when a backend, address book or contact does not exist.
	ErrNotFound = errors.New("backend: not found")

	// ErrNotImplemented is returned when a backend lacks the capability for an operation.
	ErrNotImplemented = errors.New("backend: not implemented")

	// ErrOperationFailed is returned when a backend refuses a create, update or delete.
	ErrOperationFailed = errors.New("backend: operation failed")
)

// Capability is a bit set of the address book operations a backend offers.
type Capability int

const (
	Create Capability = 1 << iota
	Read
	Update
	Delete
)

// AllCapabilities is what a writable backend supports.
const AllCapabilities = Create | Read | Update | Delete

// ReadOnlyCapabilities is what a read-only backend supports. Contacts can still be added to and
// removed from its existing address books.
const ReadOnlyCapabilities = Read

// Has returns true if every bit of c is set.
func (caps Capability) Has(c Capability) bool {
	return caps&c == c
}

// Names returns the permission names for the set bits, in a fixed order.
func (caps Capability) Names() []string {
	names := []string{}
	for _, p := range []struct {
		c    Capability
		name string
	}{{Create, "create"}, {Read, "read"}, {Update, "update"}, {Delete, "delete"}} {
		if caps.Has(p.c) {
			names = append(names, p.name)
		}
	}
	return names
}

// Backend is a provider of address books, identified by its name.
type Backend interface {
	Name() string
	Supports(c Capability) bool
	AddressBooksForUser(ctx context.Context, user string) ([]AddressBook, error)
	AddressBook(ctx context.Context, user string, id string) (AddressBook, error)
	CreateAddressBook(ctx context.Context, user string, props model.Properties) (string, error)
	DeleteAddressBook(ctx context.Context, user string, id string) error
	Close() error
}

// AddressBook is a collection of contacts belonging to exactly one backend.
type AddressBook interface {
	Metadata() model.AddressBook
	DisplayName() string

	// LastModified returns nil if the backend does not track modification times.
	LastModified() *time.Time

	Children(ctx context.Context) ([]*model.Contact, error)
	Child(ctx context.Context, id string) (*model.Contact, error)

	// AddChild stores a copy of the contact under a new id and returns that id. A nil contact
	// creates a new empty one.
	AddChild(ctx context.Context, contact *model.Contact) (string, error)

	DeleteChild(ctx context.Context, id string) error
	Update(ctx context.Context, props model.Properties) error
}

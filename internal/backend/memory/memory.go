// Package memory implements a backend that keeps address books in process memory. It serves
// as a scratch backend for shared address books and as the backend double in tests, which is
// why every mutating operation can be made to fail on purpose.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gitlab.com/dirk.krummacker/addressbooks-service/internal/backend"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/model"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/vcard"
)

// Failures selects operations that report failure instead of doing their work.
type Failures struct {
	CreateAddressBook bool
	DeleteAddressBook bool
	Update            bool
	AddChild          bool
	DeleteChild       bool
}

// Backend is an in-memory address book provider.
type Backend struct {
	name  string
	caps  backend.Capability
	now   func() time.Time
	mu    sync.RWMutex
	books map[string]*book
	fail  Failures
}

type book struct {
	meta     model.AddressBook
	contacts map[string]*model.Contact
}

// New returns an empty backend with the given name and capabilities.
func New(name string, caps backend.Capability) *Backend {
	return &Backend{
		name:  name,
		caps:  caps,
		now:   func() time.Time { return time.Now().UTC().Truncate(time.Second) },
		books: make(map[string]*book),
	}
}

// SetFailures replaces the set of operations that fail.
func (b *Backend) SetFailures(f Failures) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = f
}

// SetClock replaces the time source used for modification times.
func (b *Backend) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Seed inserts an address book with a fixed id and the given contacts. The contact ids are kept;
// missing ETags are computed.
func (b *Backend) Seed(owner string, id string, displayName string, contacts ...*model.Contact) {
	b.mu.Lock()
	defer b.mu.Unlock()
	modified := b.now()
	bk := &book{
		meta: model.AddressBook{
			ID:           id,
			Owner:        owner,
			DisplayName:  displayName,
			LastModified: &modified,
		},
		contacts: make(map[string]*model.Contact, len(contacts)),
	}
	for _, c := range contacts {
		stored := *c
		stored.AddressBookID = id
		if stored.ETag == "" {
			stored.ETag = vcard.ETag(stored.Data)
		}
		if stored.LastModified == nil {
			stored.LastModified = &modified
		}
		bk.contacts[stored.ID] = &stored
	}
	b.books[id] = bk
}

func (b *Backend) Name() string {
	return b.name
}

func (b *Backend) Supports(c backend.Capability) bool {
	return b.caps.Has(c)
}

func (b *Backend) AddressBooksForUser(ctx context.Context, user string) ([]backend.AddressBook, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var ids []string
	for id, bk := range b.books {
		if bk.meta.Owner == user {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	books := make([]backend.AddressBook, 0, len(ids))
	for _, id := range ids {
		books = append(books, &addressBook{backend: b, id: id})
	}
	return books, nil
}

func (b *Backend) AddressBook(ctx context.Context, user string, id string) (backend.AddressBook, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bk, ok := b.books[id]
	if !ok || bk.meta.Owner != user {
		return nil, fmt.Errorf("address book %q: %w", id, backend.ErrNotFound)
	}
	return &addressBook{backend: b, id: id}, nil
}

func (b *Backend) CreateAddressBook(ctx context.Context, user string, props model.Properties) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail.CreateAddressBook {
		return "", fmt.Errorf("create address book: %w", backend.ErrOperationFailed)
	}
	id := backend.NewID()
	modified := b.now()
	meta := model.AddressBook{ID: id, Owner: user, LastModified: &modified}
	applyProperties(&meta, props)
	b.books[id] = &book{meta: meta, contacts: make(map[string]*model.Contact)}
	return id, nil
}

func (b *Backend) DeleteAddressBook(ctx context.Context, user string, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, ok := b.books[id]
	if !ok || bk.meta.Owner != user {
		return fmt.Errorf("address book %q: %w", id, backend.ErrNotFound)
	}
	if b.fail.DeleteAddressBook {
		return fmt.Errorf("delete address book %q: %w", id, backend.ErrOperationFailed)
	}
	delete(b.books, id)
	return nil
}

func (b *Backend) Close() error {
	return nil
}

// addressBook is a handle on a stored book; it reads the current state on every call.
type addressBook struct {
	backend *Backend
	id      string
}

// lookup must be called with the backend lock held.
func (a *addressBook) lookup() (*book, error) {
	bk, ok := a.backend.books[a.id]
	if !ok {
		return nil, fmt.Errorf("address book %q: %w", a.id, backend.ErrNotFound)
	}
	return bk, nil
}

func (a *addressBook) Metadata() model.AddressBook {
	a.backend.mu.RLock()
	defer a.backend.mu.RUnlock()
	bk, err := a.lookup()
	if err != nil {
		return model.AddressBook{ID: a.id, Backend: a.backend.name}
	}
	meta := bk.meta
	meta.Backend = a.backend.name
	meta.Permissions = a.backend.caps.Names()
	return meta
}

func (a *addressBook) DisplayName() string {
	return a.Metadata().DisplayName
}

func (a *addressBook) LastModified() *time.Time {
	return a.Metadata().LastModified
}

func (a *addressBook) Children(ctx context.Context) ([]*model.Contact, error) {
	a.backend.mu.RLock()
	defer a.backend.mu.RUnlock()
	bk, err := a.lookup()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(bk.contacts))
	for id := range bk.contacts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	children := make([]*model.Contact, 0, len(ids))
	for _, id := range ids {
		c := *bk.contacts[id]
		children = append(children, &c)
	}
	return children, nil
}

func (a *addressBook) Child(ctx context.Context, id string) (*model.Contact, error) {
	a.backend.mu.RLock()
	defer a.backend.mu.RUnlock()
	bk, err := a.lookup()
	if err != nil {
		return nil, err
	}
	stored, ok := bk.contacts[id]
	if !ok {
		return nil, fmt.Errorf("contact %q: %w", id, backend.ErrNotFound)
	}
	c := *stored
	return &c, nil
}

func (a *addressBook) AddChild(ctx context.Context, contact *model.Contact) (string, error) {
	a.backend.mu.Lock()
	defer a.backend.mu.Unlock()
	bk, err := a.lookup()
	if err != nil {
		return "", err
	}
	if a.backend.fail.AddChild {
		return "", fmt.Errorf("add contact: %w", backend.ErrOperationFailed)
	}
	id := backend.NewID()
	data := ""
	if contact != nil {
		data = contact.Data
	} else {
		data, err = vcard.NewCard(id)
		if err != nil {
			return "", fmt.Errorf("add contact: %w", err)
		}
	}
	modified := a.backend.now()
	bk.contacts[id] = &model.Contact{
		ID:            id,
		AddressBookID: a.id,
		Data:          data,
		ETag:          vcard.ETag(data),
		LastModified:  &modified,
	}
	bk.meta.LastModified = &modified
	return id, nil
}

func (a *addressBook) DeleteChild(ctx context.Context, id string) error {
	a.backend.mu.Lock()
	defer a.backend.mu.Unlock()
	bk, err := a.lookup()
	if err != nil {
		return err
	}
	if _, ok := bk.contacts[id]; !ok {
		return fmt.Errorf("contact %q: %w", id, backend.ErrNotFound)
	}
	if a.backend.fail.DeleteChild {
		return fmt.Errorf("delete contact %q: %w", id, backend.ErrOperationFailed)
	}
	delete(bk.contacts, id)
	modified := a.backend.now()
	bk.meta.LastModified = &modified
	return nil
}

func (a *addressBook) Update(ctx context.Context, props model.Properties) error {
	a.backend.mu.Lock()
	defer a.backend.mu.Unlock()
	bk, err := a.lookup()
	if err != nil {
		return err
	}
	if a.backend.fail.Update {
		return fmt.Errorf("update address book %q: %w", a.id, backend.ErrOperationFailed)
	}
	applyProperties(&bk.meta, props)
	modified := a.backend.now()
	bk.meta.LastModified = &modified
	return nil
}

func applyProperties(meta *model.AddressBook, props model.Properties) {
	if props.DisplayName != nil {
		meta.DisplayName = *props.DisplayName
	}
	if props.Description != nil {
		meta.Description = *props.Description
	}
}

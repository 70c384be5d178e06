package addressbook

import (
	"context"
	"fmt"
	"net/http"

	"gitlab.com/dirk.krummacker/addressbooks-service/internal/backend"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/l10n"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/model"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/vcard"
)

// ListAddressBooks returns the metadata of all address books of the user, backend by backend.
func (c *Controller) ListAddressBooks(ctx context.Context, req Request) *Envelope {
	const op = "listAddressBooks"
	addressBooks := []model.AddressBook{}
	for _, b := range c.registry.All() {
		books, err := b.AddressBooksForUser(ctx, req.User)
		if err != nil {
			return c.failure(req, op, err, l10n.InternalError)
		}
		for _, book := range books {
			addressBooks = append(addressBooks, book.Metadata())
		}
	}
	return c.success(op, http.StatusOK, map[string]any{"addressbooks": addressBooks})
}

// GetAddressBook returns the contacts of an address book. Contacts that cannot be serialized are
// left out. For HEAD requests only the caching headers are set, and if the client's copy is
// current the envelope says 304 without a body.
func (c *Controller) GetAddressBook(ctx context.Context, req Request, backendName string, id string) *Envelope {
	const op = "getAddressBook"
	_, book, failed := c.resolve(ctx, req, op, backendName, id)
	if failed != nil {
		return failed
	}
	env := newEnvelope(http.StatusOK, nil)
	lastModified := book.LastModified()
	setCacheHeaders(env, lastModified)
	if notModified(req, env.ETag, lastModified) {
		env.Status = http.StatusNotModified
		return c.done(op, env)
	}
	if req.Method == http.MethodHead {
		return c.done(op, env)
	}
	children, err := book.Children(ctx)
	if err != nil {
		return c.failure(req, op, err, l10n.InternalError)
	}
	env.Body = map[string]any{"contacts": c.serializer.StructuredList(children)}
	return c.done(op, env)
}

// ExportAddressBook returns all contacts of an address book as one vCard download.
func (c *Controller) ExportAddressBook(ctx context.Context, req Request, backendName string, id string) *Envelope {
	const op = "exportAddressBook"
	_, book, failed := c.resolve(ctx, req, op, backendName, id)
	if failed != nil {
		return failed
	}
	children, err := book.Children(ctx)
	if err != nil {
		return c.failure(req, op, err, l10n.InternalError)
	}
	env := newEnvelope(http.StatusOK, nil)
	setCacheHeaders(env, book.LastModified())
	env.Text = vcard.Export(children)
	env.ContentType = "text/directory"
	env.Filename = vcard.Filename(book.DisplayName())
	return c.done(op, env)
}

// AddAddressBook creates an address book in the backend and returns its metadata.
func (c *Controller) AddAddressBook(ctx context.Context, req Request, backendName string, props model.Properties) *Envelope {
	const op = "addAddressBook"
	b, err := c.registry.Lookup(backendName)
	if err != nil {
		return c.lookupFailure(req, op, err, l10n.BackendNotFound)
	}
	if !b.Supports(backend.Create) {
		return c.failure(req, op, fmt.Errorf("create address book in %q: %w", backendName, backend.ErrNotImplemented), l10n.NotImplemented)
	}
	id, err := b.CreateAddressBook(ctx, req.User, props)
	if err != nil {
		return c.operationFailed(req, op, err, l10n.ErrorCreatingAddressBook)
	}
	book, err := b.AddressBook(ctx, req.User, id)
	if err != nil {
		return c.operationFailed(req, op, err, l10n.ErrorCreatingAddressBook)
	}
	return c.success(op, http.StatusCreated, book.Metadata())
}

// UpdateAddressBook applies the submitted properties and returns the new metadata.
func (c *Controller) UpdateAddressBook(ctx context.Context, req Request, backendName string, id string, props model.Properties) *Envelope {
	const op = "updateAddressBook"
	b, book, failed := c.resolve(ctx, req, op, backendName, id)
	if failed != nil {
		return failed
	}
	if !b.Supports(backend.Update) {
		return c.failure(req, op, fmt.Errorf("update address book in %q: %w", backendName, backend.ErrNotImplemented), l10n.NotImplemented)
	}
	if err := book.Update(ctx, props); err != nil {
		return c.failure(req, op, err, l10n.ErrorUpdatingAddressBook)
	}
	return c.success(op, http.StatusOK, book.Metadata())
}

// DeleteAddressBook deletes an address book with all its contacts.
func (c *Controller) DeleteAddressBook(ctx context.Context, req Request, backendName string, id string) *Envelope {
	const op = "deleteAddressBook"
	b, err := c.registry.Lookup(backendName)
	if err != nil {
		return c.lookupFailure(req, op, err, l10n.BackendNotFound)
	}
	// TODO: check the user's permissions on shared address books once backends expose them.
	if !b.Supports(backend.Delete) {
		return c.failure(req, op, fmt.Errorf("delete address book in %q: %w", backendName, backend.ErrNotImplemented), l10n.NotImplemented)
	}
	if err := b.DeleteAddressBook(ctx, req.User, id); err != nil {
		return c.failure(req, op, err, l10n.ErrorDeletingAddressBook)
	}
	return c.success(op, http.StatusOK, map[string]any{})
}

package addressbook

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"gitlab.com/dirk.krummacker/addressbooks-service/internal/l10n"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/model"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/vcard"
)

// AddChild creates a contact in the address book and returns it. An empty card creates an empty
// contact, otherwise the card must be a valid vCard.
func (c *Controller) AddChild(ctx context.Context, req Request, backendName string, id string, card []byte) *Envelope {
	const op = "addChild"
	_, book, failed := c.resolve(ctx, req, op, backendName, id)
	if failed != nil {
		return failed
	}
	var contact *model.Contact
	if len(card) > 0 {
		if _, err := vcard.Parse(string(card)); err != nil {
			return c.failure(req, op, fmt.Errorf("%w: %v", ErrInvalidContact, err), l10n.InvalidContact)
		}
		contact = &model.Contact{Data: string(card)}
	}
	contactID, err := book.AddChild(ctx, contact)
	if err != nil {
		return c.operationFailed(req, op, err, l10n.ErrorCreatingContact)
	}
	created, err := book.Child(ctx, contactID)
	if err != nil {
		return c.operationFailed(req, op, err, l10n.ErrorCreatingContact)
	}
	structured, err := c.serializer.Structured(created)
	if err != nil {
		return c.failure(req, op, err, l10n.InternalError)
	}
	env := c.success(op, http.StatusCreated, structured)
	env.ETag = created.ETag
	env.Header.Set("Location", ContactPath(backendName, id, contactID))
	return env
}

// GetChild returns a single contact.
func (c *Controller) GetChild(ctx context.Context, req Request, backendName string, id string, contactID string) *Envelope {
	const op = "getChild"
	_, book, failed := c.resolve(ctx, req, op, backendName, id)
	if failed != nil {
		return failed
	}
	contact, err := book.Child(ctx, contactID)
	if err != nil {
		return c.lookupFailure(req, op, err, l10n.ContactNotFound)
	}
	env := newEnvelope(http.StatusOK, nil)
	env.ETag = contact.ETag
	env.LastModified = contact.LastModified
	if notModified(req, contact.ETag, contact.LastModified) {
		env.Status = http.StatusNotModified
		return c.done(op, env)
	}
	structured, err := c.serializer.Structured(contact)
	if err != nil {
		return c.failure(req, op, err, l10n.InternalError)
	}
	env.Body = structured
	return c.done(op, env)
}

// DeleteChild deletes a contact from the address book.
func (c *Controller) DeleteChild(ctx context.Context, req Request, backendName string, id string, contactID string) *Envelope {
	const op = "deleteChild"
	_, book, failed := c.resolve(ctx, req, op, backendName, id)
	if failed != nil {
		return failed
	}
	if err := book.DeleteChild(ctx, contactID); err != nil {
		return c.failure(req, op, err, l10n.ErrorDeletingContact)
	}
	return c.success(op, http.StatusOK, map[string]any{})
}

// MoveChild moves a contact to another address book, possibly in another backend. The move is
// a copy followed by a delete and is not atomic. Once the copy is confirmed the move succeeds:
// if the contact cannot be removed from the source it stays in both address books, which is
// logged but not reported to the client.
func (c *Controller) MoveChild(ctx context.Context, req Request, backendName string, id string, contactID string, target model.Target) *Envelope {
	const op = "moveChild"
	_, from, failed := c.resolve(ctx, req, op, backendName, id)
	if failed != nil {
		return failed
	}
	_, to, failed := c.resolve(ctx, req, op, target.Backend, target.ID)
	if failed != nil {
		return failed
	}

	// Copy and confirm that the copy can be read back.
	contact, err := from.Child(ctx, contactID)
	if err != nil {
		return c.operationFailed(req, op, err, l10n.ErrorRetrievingContact)
	}
	copyID, err := to.AddChild(ctx, contact)
	if err != nil {
		return c.operationFailed(req, op, err, l10n.ErrorSavingContact)
	}
	copied, err := to.Child(ctx, copyID)
	if err != nil {
		return c.operationFailed(req, op, err, l10n.ErrorSavingContact)
	}

	// Remove the original.
	if err := from.DeleteChild(ctx, contactID); err != nil {
		c.metrics.MoveSourceDeleteFailed()
		c.logger.Warn(l10n.ErrorRemovingContact,
			zap.String("user", req.User),
			zap.String("backend", backendName),
			zap.String("addressbook", id),
			zap.String("contact", contactID),
			zap.String("targetBackend", target.Backend),
			zap.String("targetAddressbook", target.ID),
			zap.String("copy", copyID),
			zap.Error(err))
	}

	structured, err := c.serializer.Structured(copied)
	if err != nil {
		return c.failure(req, op, err, l10n.InternalError)
	}
	env := c.success(op, http.StatusOK, structured)
	env.ETag = copied.ETag
	return env
}

// Package addressbook resolves address books in their backends, performs the requested
// operation and shapes the result into a response envelope. It knows nothing about routing;
// the HTTP layer only turns requests into calls and envelopes into responses.
package addressbook

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"gitlab.com/dirk.krummacker/addressbooks-service/internal/backend"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/l10n"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/metrics"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/vcard"
)

// ErrInvalidContact is returned when a submitted vCard cannot be decoded.
var ErrInvalidContact = errors.New("addressbook: invalid contact")

// Request carries what the operations need to know about the HTTP request.
type Request struct {
	// User is the authenticated user the address books belong to.
	User string

	// Method is GET or HEAD for reads. HEAD only produces the headers.
	Method string

	AcceptLanguage  string
	IfNoneMatch     string
	IfModifiedSince string
}

// Envelope is the response of an operation. Failures are envelopes too: Err holds the cause and
// Body the localized message.
type Envelope struct {
	Status       int
	Header       http.Header
	LastModified *time.Time
	ETag         string

	// Body is sent as JSON unless Text is set.
	Body any

	// Text is sent as a download named Filename.
	Text        []byte
	ContentType string
	Filename    string

	Err     error
	Message string
}

// Controller performs the address book operations against the registered backends.
type Controller struct {
	registry   *backend.Registry
	serializer *vcard.Serializer
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// New returns a controller. The logger and metrics may be nil.
func New(registry *backend.Registry, serializer *vcard.Serializer, logger *zap.Logger, m *metrics.Metrics) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		registry:   registry,
		serializer: serializer,
		logger:     logger,
		metrics:    m,
	}
}

// resolve looks up the backend and the address book. The returned envelope is non-nil if either
// does not exist.
func (c *Controller) resolve(ctx context.Context, req Request, op string, backendName string, id string) (backend.Backend, backend.AddressBook, *Envelope) {
	b, err := c.registry.Lookup(backendName)
	if err != nil {
		return nil, nil, c.lookupFailure(req, op, err, l10n.BackendNotFound)
	}
	book, err := b.AddressBook(ctx, req.User, id)
	if err != nil {
		return nil, nil, c.lookupFailure(req, op, err, l10n.AddressBookNotFound)
	}
	return b, book, nil
}

// success counts the operation and returns an envelope with the given status and body.
func (c *Controller) success(op string, status int, body any) *Envelope {
	return c.done(op, newEnvelope(status, body))
}

// done counts a successful operation.
func (c *Controller) done(op string, env *Envelope) *Envelope {
	c.metrics.Observe(op, false)
	return env
}

func newEnvelope(status int, body any) *Envelope {
	return &Envelope{Status: status, Header: http.Header{}, Body: body}
}

// failure turns an error into an envelope whose status follows from the error's kind.
func (c *Controller) failure(req Request, op string, err error, key string) *Envelope {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, backend.ErrNotImplemented):
		status = http.StatusNotImplemented
		key = l10n.NotImplemented
	case errors.Is(err, backend.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidContact):
		status = http.StatusBadRequest
		key = l10n.InvalidContact
	}
	return c.failureWithStatus(req, op, status, err, key)
}

// lookupFailure reports a failed lookup. The not found message is only used if nothing was found,
// any other error is an internal one.
func (c *Controller) lookupFailure(req Request, op string, err error, notFoundKey string) *Envelope {
	key := l10n.InternalError
	if errors.Is(err, backend.ErrNotFound) {
		key = notFoundKey
	}
	return c.failure(req, op, err, key)
}

// operationFailed reports an error as a failed backend operation, whatever its kind.
func (c *Controller) operationFailed(req Request, op string, err error, key string) *Envelope {
	if !errors.Is(err, backend.ErrOperationFailed) {
		err = errors.Join(backend.ErrOperationFailed, err)
	}
	return c.failureWithStatus(req, op, http.StatusInternalServerError, err, key)
}

func (c *Controller) failureWithStatus(req Request, op string, status int, err error, key string) *Envelope {
	c.metrics.Observe(op, true)
	c.logger.Info("operation failed",
		zap.String("operation", op),
		zap.String("user", req.User),
		zap.Int("status", status),
		zap.Error(err))
	message := l10n.Translate(req.AcceptLanguage, key)
	return &Envelope{
		Status:  status,
		Header:  http.Header{},
		Body:    map[string]string{"message": message},
		Err:     err,
		Message: message,
	}
}

// Fingerprint returns the ETag of an address book with the given modification time.
func Fingerprint(lastModified time.Time) string {
	sum := md5.Sum([]byte(strconv.FormatInt(lastModified.Unix(), 10)))
	return hex.EncodeToString(sum[:])
}

// setCacheHeaders adds the validation headers if the modification time is known.
func setCacheHeaders(env *Envelope, lastModified *time.Time) {
	if lastModified == nil {
		return
	}
	env.Header.Set("Cache-Control", "private, must-revalidate")
	env.LastModified = lastModified
	env.ETag = Fingerprint(*lastModified)
}

// notModified returns true if the client's cached copy is still current. If-None-Match takes
// precedence over If-Modified-Since.
func notModified(req Request, etag string, lastModified *time.Time) bool {
	if req.IfNoneMatch != "" {
		if etag == "" {
			return false
		}
		for _, candidate := range strings.Split(req.IfNoneMatch, ",") {
			candidate = strings.TrimSpace(candidate)
			candidate = strings.TrimPrefix(candidate, "W/")
			if candidate == "*" || strings.Trim(candidate, `"`) == etag {
				return true
			}
		}
		return false
	}
	if req.IfModifiedSince != "" && lastModified != nil {
		since, err := http.ParseTime(req.IfModifiedSince)
		if err == nil && !lastModified.Truncate(time.Second).After(since) {
			return true
		}
	}
	return false
}

// ContactPath returns the path under which a contact can be retrieved.
func ContactPath(backendName string, addressBookID string, contactID string) string {
	return "/addressbooks/" + url.PathEscape(backendName) +
		"/" + url.PathEscape(addressBookID) +
		"/contacts/" + url.PathEscape(contactID)
}

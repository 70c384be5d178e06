package addressbook

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"testing"
	"time"

	govcard "github.com/emersion/go-vcard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"gitlab.com/dirk.krummacker/addressbooks-service/internal/backend"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/backend/memory"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/metrics"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/model"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/vcard"
)

// fixedTime is the modification time of all seeded address books.
var fixedTime = time.Date(2023, time.March, 2, 12, 0, 0, 0, time.UTC)

// dirk is the request of the user owning all seeded address books.
var dirk = Request{User: "dirk", Method: http.MethodGet}

// fixture holds a controller on two memory backends: "local" with the address book "home"
// containing the contacts A and B, and "shared" with the empty address book "team".
type fixture struct {
	controller *Controller
	local      *memory.Backend
	shared     *memory.Backend
	logs       *observer.ObservedLogs
}

// card returns the vCard text of a contact.
func card(uid string, name string) string {
	return "BEGIN:VCARD\r\nVERSION:3.0\r\nUID:" + uid + "\r\nFN:" + name + "\r\nEND:VCARD\r\n"
}

// createFixture sets up the backends and the controller.
func createFixture(t *testing.T) *fixture {
	local := memory.New("local", backend.AllCapabilities)
	shared := memory.New("shared", backend.AllCapabilities)
	for _, b := range []*memory.Backend{local, shared} {
		b.SetClock(func() time.Time { return fixedTime })
	}
	local.Seed("dirk", "home", "Family and Friends",
		&model.Contact{ID: "A", Data: card("A", "Adam Krummacker")},
		&model.Contact{ID: "B", Data: card("B", "Berta Krummacker")},
	)
	shared.Seed("dirk", "team", "Team")

	registry, err := backend.NewRegistry(local, shared)
	require.NoError(t, err)
	serializer, err := vcard.NewSerializer(0, nil)
	require.NoError(t, err)
	core, logs := observer.New(zapcore.DebugLevel)
	return &fixture{
		controller: New(registry, serializer, zap.New(core), metrics.New()),
		local:      local,
		shared:     shared,
		logs:       logs,
	}
}

// uids returns the sorted UIDs of all contacts in an address book.
func uids(t *testing.T, b backend.Backend, id string) []string {
	book, err := b.AddressBook(context.Background(), "dirk", id)
	require.NoError(t, err)
	children, err := book.Children(context.Background())
	require.NoError(t, err)
	var result []string
	for _, child := range children {
		parsed, err := vcard.Parse(child.Data)
		require.NoError(t, err)
		result = append(result, parsed.Value(govcard.FieldUID))
	}
	sort.Strings(result)
	return result
}

func TestListAddressBooks(t *testing.T) {
	f := createFixture(t)

	env := f.controller.ListAddressBooks(context.Background(), dirk)
	require.Equal(t, http.StatusOK, env.Status)
	books := env.Body.(map[string]any)["addressbooks"].([]model.AddressBook)
	require.Len(t, books, 2)
	assert.Equal(t, "home", books[0].ID)
	assert.Equal(t, "local", books[0].Backend)
	assert.Equal(t, "team", books[1].ID)
	assert.Equal(t, "shared", books[1].Backend)

	env = f.controller.ListAddressBooks(context.Background(), Request{User: "mallory"})
	require.Equal(t, http.StatusOK, env.Status)
	assert.Empty(t, env.Body.(map[string]any)["addressbooks"])
}

func TestGetAddressBook(t *testing.T) {
	f := createFixture(t)

	env := f.controller.GetAddressBook(context.Background(), dirk, "local", "home")
	require.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, "private, must-revalidate", env.Header.Get("Cache-Control"))
	assert.Equal(t, fixedTime, *env.LastModified)
	assert.Equal(t, Fingerprint(fixedTime), env.ETag)
	contacts := env.Body.(map[string]any)["contacts"].([]map[string]any)
	assert.Len(t, contacts, 2)
}

// TestGetAddressBookDropsCorruptContacts expects the contacts that cannot be serialized to be
// left out without failing the request.
func TestGetAddressBookDropsCorruptContacts(t *testing.T) {
	f := createFixture(t)
	f.local.Seed("dirk", "broken", "Broken",
		&model.Contact{ID: "A", Data: card("A", "Adam")},
		&model.Contact{ID: "B", Data: ""},
		&model.Contact{ID: "C", Data: "BEGIN:VCARD\r\nFN:no end\r\n"},
	)

	env := f.controller.GetAddressBook(context.Background(), dirk, "local", "broken")
	require.Equal(t, http.StatusOK, env.Status)
	contacts := env.Body.(map[string]any)["contacts"].([]map[string]any)
	require.Len(t, contacts, 1)
	assert.Equal(t, "A", contacts[0]["id"])
}

func TestGetAddressBookNotModified(t *testing.T) {
	f := createFixture(t)

	req := dirk
	req.IfNoneMatch = `"` + Fingerprint(fixedTime) + `"`
	env := f.controller.GetAddressBook(context.Background(), req, "local", "home")
	assert.Equal(t, http.StatusNotModified, env.Status)
	assert.Nil(t, env.Body)

	req = dirk
	req.IfModifiedSince = fixedTime.Format(http.TimeFormat)
	env = f.controller.GetAddressBook(context.Background(), req, "local", "home")
	assert.Equal(t, http.StatusNotModified, env.Status)

	req = dirk
	req.IfModifiedSince = fixedTime.Add(-time.Hour).Format(http.TimeFormat)
	env = f.controller.GetAddressBook(context.Background(), req, "local", "home")
	assert.Equal(t, http.StatusOK, env.Status)

	req = dirk
	req.IfNoneMatch = `"outdated"`
	env = f.controller.GetAddressBook(context.Background(), req, "local", "home")
	assert.Equal(t, http.StatusOK, env.Status)
}

// TestGetAddressBookHead expects only the caching headers for a HEAD request.
func TestGetAddressBookHead(t *testing.T) {
	f := createFixture(t)

	env := f.controller.GetAddressBook(context.Background(), Request{User: "dirk", Method: http.MethodHead}, "local", "home")
	assert.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, Fingerprint(fixedTime), env.ETag)
	assert.Nil(t, env.Body)
}

func TestGetAddressBookNotFound(t *testing.T) {
	f := createFixture(t)

	tests := []struct{ backend, id string }{
		{"local", "work"},
		{"ldap", "home"},
		{"shared", "home"},
	}
	for _, test := range tests {
		env := f.controller.GetAddressBook(context.Background(), dirk, test.backend, test.id)
		assert.Equal(t, http.StatusNotFound, env.Status, test.backend+"/"+test.id)
		assert.True(t, errors.Is(env.Err, backend.ErrNotFound))
		assert.NotEmpty(t, env.Message)
	}

	env := f.controller.GetAddressBook(context.Background(), Request{User: "mallory"}, "local", "home")
	assert.Equal(t, http.StatusNotFound, env.Status)
}

func TestExportAddressBook(t *testing.T) {
	f := createFixture(t)

	env := f.controller.ExportAddressBook(context.Background(), dirk, "local", "home")
	require.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, "text/directory", env.ContentType)
	assert.Equal(t, "Family_and_Friends.vcf", env.Filename)
	assert.Equal(t, card("A", "Adam Krummacker")+"\r\n"+card("B", "Berta Krummacker")+"\r\n", string(env.Text))
	assert.Equal(t, Fingerprint(fixedTime), env.ETag)
}

func TestAddAddressBook(t *testing.T) {
	f := createFixture(t)

	name := "Work"
	env := f.controller.AddAddressBook(context.Background(), dirk, "local", model.Properties{DisplayName: &name})
	require.Equal(t, http.StatusCreated, env.Status)
	created := env.Body.(model.AddressBook)
	assert.Equal(t, "Work", created.DisplayName)
	assert.Equal(t, "local", created.Backend)

	env = f.controller.GetAddressBook(context.Background(), dirk, "local", created.ID)
	assert.Equal(t, http.StatusOK, env.Status)
}

// TestAddAddressBookNotImplemented expects a read only backend to refuse every change before
// anything is touched.
func TestAddAddressBookNotImplemented(t *testing.T) {
	readOnly := memory.New("readonly", backend.ReadOnlyCapabilities)
	registry, err := backend.NewRegistry(readOnly)
	require.NoError(t, err)
	serializer, err := vcard.NewSerializer(0, nil)
	require.NoError(t, err)
	controller := New(registry, serializer, nil, nil)

	env := controller.AddAddressBook(context.Background(), dirk, "readonly", model.Properties{})
	assert.Equal(t, http.StatusNotImplemented, env.Status)
	assert.True(t, errors.Is(env.Err, backend.ErrNotImplemented))
	books, err := readOnly.AddressBooksForUser(context.Background(), "dirk")
	require.NoError(t, err)
	assert.Empty(t, books)

	env = controller.DeleteAddressBook(context.Background(), dirk, "readonly", "home")
	assert.Equal(t, http.StatusNotImplemented, env.Status)

	readOnly.Seed("dirk", "home", "Family")
	name := "Relatives"
	env = controller.UpdateAddressBook(context.Background(), dirk, "readonly", "home", model.Properties{DisplayName: &name})
	assert.Equal(t, http.StatusNotImplemented, env.Status)
	book, err := readOnly.AddressBook(context.Background(), "dirk", "home")
	require.NoError(t, err)
	assert.Equal(t, "Family", book.DisplayName())
}

func TestAddAddressBookFailure(t *testing.T) {
	f := createFixture(t)
	f.local.SetFailures(memory.Failures{CreateAddressBook: true})

	req := dirk
	req.AcceptLanguage = "de-DE"
	env := f.controller.AddAddressBook(context.Background(), req, "local", model.Properties{})
	assert.Equal(t, http.StatusInternalServerError, env.Status)
	assert.True(t, errors.Is(env.Err, backend.ErrOperationFailed))
	assert.Equal(t, "Fehler beim Erstellen des Adressbuchs", env.Message)
	assert.Equal(t, map[string]string{"message": env.Message}, env.Body)
}

func TestUpdateAddressBook(t *testing.T) {
	f := createFixture(t)

	name := "Relatives"
	env := f.controller.UpdateAddressBook(context.Background(), dirk, "local", "home", model.Properties{DisplayName: &name})
	require.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, "Relatives", env.Body.(model.AddressBook).DisplayName)

	f.local.SetFailures(memory.Failures{Update: true})
	env = f.controller.UpdateAddressBook(context.Background(), dirk, "local", "home", model.Properties{DisplayName: &name})
	assert.Equal(t, http.StatusInternalServerError, env.Status)
	assert.True(t, errors.Is(env.Err, backend.ErrOperationFailed))
	assert.Equal(t, "Error updating address book", env.Message)
}

func TestDeleteAddressBook(t *testing.T) {
	f := createFixture(t)

	f.local.SetFailures(memory.Failures{DeleteAddressBook: true})
	env := f.controller.DeleteAddressBook(context.Background(), dirk, "local", "home")
	assert.Equal(t, http.StatusInternalServerError, env.Status)
	assert.True(t, errors.Is(env.Err, backend.ErrOperationFailed))

	f.local.SetFailures(memory.Failures{})
	env = f.controller.DeleteAddressBook(context.Background(), dirk, "local", "home")
	assert.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, map[string]any{}, env.Body)

	env = f.controller.GetAddressBook(context.Background(), dirk, "local", "home")
	assert.Equal(t, http.StatusNotFound, env.Status)
	env = f.controller.DeleteAddressBook(context.Background(), dirk, "local", "home")
	assert.Equal(t, http.StatusNotFound, env.Status)
}

// TestAddChild expects the Location header to lead back to the new contact.
func TestAddChild(t *testing.T) {
	f := createFixture(t)

	env := f.controller.AddChild(context.Background(), dirk, "local", "home", nil)
	require.Equal(t, http.StatusCreated, env.Status)
	contactID := env.Body.(map[string]any)["id"].(string)
	assert.Equal(t, ContactPath("local", "home", contactID), env.Header.Get("Location"))
	assert.NotEmpty(t, env.ETag)

	got := f.controller.GetChild(context.Background(), dirk, "local", "home", contactID)
	require.Equal(t, http.StatusOK, got.Status)
	assert.Equal(t, env.ETag, got.ETag)

	list := f.controller.GetAddressBook(context.Background(), dirk, "local", "home")
	var ids []string
	for _, contact := range list.Body.(map[string]any)["contacts"].([]map[string]any) {
		ids = append(ids, contact["id"].(string))
	}
	assert.Contains(t, ids, contactID)
}

func TestAddChildWithCard(t *testing.T) {
	f := createFixture(t)

	env := f.controller.AddChild(context.Background(), dirk, "local", "home", []byte(card("C", "Carla")))
	require.Equal(t, http.StatusCreated, env.Status)
	assert.Equal(t, []string{"A", "B", "C"}, uids(t, f.local, "home"))

	env = f.controller.AddChild(context.Background(), dirk, "local", "home", []byte("no vCard"))
	assert.Equal(t, http.StatusBadRequest, env.Status)
	assert.True(t, errors.Is(env.Err, ErrInvalidContact))
}

func TestAddChildFailure(t *testing.T) {
	f := createFixture(t)
	f.local.SetFailures(memory.Failures{AddChild: true})

	env := f.controller.AddChild(context.Background(), dirk, "local", "home", nil)
	assert.Equal(t, http.StatusInternalServerError, env.Status)
	assert.True(t, errors.Is(env.Err, backend.ErrOperationFailed))
	assert.Equal(t, "Error creating contact.", env.Message)
	assert.Empty(t, env.Header.Get("Location"))
}

func TestGetChild(t *testing.T) {
	f := createFixture(t)

	env := f.controller.GetChild(context.Background(), dirk, "local", "home", "A")
	require.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, vcard.ETag(card("A", "Adam Krummacker")), env.ETag)
	require.NotNil(t, env.LastModified)
	assert.Equal(t, fixedTime, *env.LastModified)

	since := Request{User: "dirk", Method: http.MethodGet, IfModifiedSince: fixedTime.Format(http.TimeFormat)}
	env = f.controller.GetChild(context.Background(), since, "local", "home", "A")
	assert.Equal(t, http.StatusNotModified, env.Status)
	assert.Nil(t, env.Body)
}

func TestGetChildNotFound(t *testing.T) {
	f := createFixture(t)

	env := f.controller.GetChild(context.Background(), dirk, "local", "home", "Z")
	assert.Equal(t, http.StatusNotFound, env.Status)
	assert.Equal(t, "contact not found", env.Message)
}

func TestDeleteChild(t *testing.T) {
	f := createFixture(t)

	env := f.controller.DeleteChild(context.Background(), dirk, "local", "home", "A")
	assert.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, []string{"B"}, uids(t, f.local, "home"))

	env = f.controller.DeleteChild(context.Background(), dirk, "local", "home", "A")
	assert.Equal(t, http.StatusNotFound, env.Status)

	f.local.SetFailures(memory.Failures{DeleteChild: true})
	env = f.controller.DeleteChild(context.Background(), dirk, "local", "home", "B")
	assert.Equal(t, http.StatusInternalServerError, env.Status)
	assert.True(t, errors.Is(env.Err, backend.ErrOperationFailed))
	assert.Equal(t, "Error deleting contact.", env.Message)
}

// TestMoveChild moves contact A from local/home to shared/team.
func TestMoveChild(t *testing.T) {
	f := createFixture(t)

	env := f.controller.MoveChild(context.Background(), dirk, "local", "home", "A", model.Target{Backend: "shared", ID: "team"})
	require.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, []string{"B"}, uids(t, f.local, "home"))
	assert.Equal(t, []string{"A"}, uids(t, f.shared, "team"))

	moved := env.Body.(map[string]any)
	assert.Equal(t, "team", moved["metadata"].(map[string]any)["addressbookid"])
	got := f.controller.GetChild(context.Background(), dirk, "shared", "team", moved["id"].(string))
	assert.Equal(t, http.StatusOK, got.Status)
	assert.Equal(t, 0, f.logs.FilterMessage("Error removing contact from other address book.").Len())
}

// TestMoveChildSourceDeleteFails expects the move to succeed with the contact left in both
// address books when the source cannot be cleaned up.
func TestMoveChildSourceDeleteFails(t *testing.T) {
	f := createFixture(t)
	f.local.SetFailures(memory.Failures{DeleteChild: true})

	env := f.controller.MoveChild(context.Background(), dirk, "local", "home", "A", model.Target{Backend: "shared", ID: "team"})
	require.Equal(t, http.StatusOK, env.Status)
	assert.Nil(t, env.Err)
	assert.Equal(t, []string{"A", "B"}, uids(t, f.local, "home"))
	assert.Equal(t, []string{"A"}, uids(t, f.shared, "team"))

	warnings := f.logs.FilterMessage("Error removing contact from other address book.").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, zapcore.WarnLevel, warnings[0].Level)
	assert.Equal(t, "A", warnings[0].ContextMap()["contact"])
}

func TestMoveChildMissingContact(t *testing.T) {
	f := createFixture(t)

	env := f.controller.MoveChild(context.Background(), dirk, "local", "home", "Z", model.Target{Backend: "shared", ID: "team"})
	assert.Equal(t, http.StatusInternalServerError, env.Status)
	assert.True(t, errors.Is(env.Err, backend.ErrOperationFailed))
	assert.Equal(t, "Error retrieving contact.", env.Message)
	assert.Empty(t, uids(t, f.shared, "team"))
}

// TestMoveChildCopyFails expects the source to be untouched if the copy cannot be saved.
func TestMoveChildCopyFails(t *testing.T) {
	f := createFixture(t)
	f.shared.SetFailures(memory.Failures{AddChild: true})

	env := f.controller.MoveChild(context.Background(), dirk, "local", "home", "A", model.Target{Backend: "shared", ID: "team"})
	assert.Equal(t, http.StatusInternalServerError, env.Status)
	assert.Equal(t, "Error saving contact.", env.Message)
	assert.Equal(t, []string{"A", "B"}, uids(t, f.local, "home"))
	assert.Empty(t, uids(t, f.shared, "team"))
}

func TestMoveChildUnknownTarget(t *testing.T) {
	f := createFixture(t)

	env := f.controller.MoveChild(context.Background(), dirk, "local", "home", "A", model.Target{Backend: "shared", ID: "nowhere"})
	assert.Equal(t, http.StatusNotFound, env.Status)
	assert.Equal(t, []string{"A", "B"}, uids(t, f.local, "home"))
}

var errBadConnection = errors.New("driver: bad connection")

// flaky is a memory backend that has lost its database connection. Either the address books or
// only their contacts cannot be read.
type flaky struct {
	*memory.Backend
	contactsOnly bool
}

func (f *flaky) AddressBook(ctx context.Context, user string, id string) (backend.AddressBook, error) {
	if !f.contactsOnly {
		return nil, errBadConnection
	}
	book, err := f.Backend.AddressBook(ctx, user, id)
	if err != nil {
		return nil, err
	}
	return flakyBook{book}, nil
}

type flakyBook struct {
	backend.AddressBook
}

func (flakyBook) Child(ctx context.Context, id string) (*model.Contact, error) {
	return nil, errBadConnection
}

// TestLookupErrors expects failures other than missing entities to be reported as internal errors.
func TestLookupErrors(t *testing.T) {
	local := memory.New("local", backend.AllCapabilities)
	local.Seed("dirk", "home", "Family", &model.Contact{ID: "A", Data: card("A", "Adam Krummacker")})
	broken := &flaky{Backend: local}
	registry, err := backend.NewRegistry(broken)
	require.NoError(t, err)
	serializer, err := vcard.NewSerializer(0, nil)
	require.NoError(t, err)
	controller := New(registry, serializer, nil, metrics.New())

	env := controller.GetAddressBook(context.Background(), dirk, "local", "home")
	assert.Equal(t, http.StatusInternalServerError, env.Status)
	assert.True(t, errors.Is(env.Err, errBadConnection))
	assert.Equal(t, "internal error", env.Message)

	broken.contactsOnly = true
	env = controller.GetChild(context.Background(), dirk, "local", "home", "A")
	assert.Equal(t, http.StatusInternalServerError, env.Status)
	assert.Equal(t, "internal error", env.Message)

	env = controller.GetChild(context.Background(), dirk, "local", "work", "A")
	assert.Equal(t, http.StatusNotFound, env.Status)
	assert.Equal(t, "address book not found", env.Message)
}

func TestContactPath(t *testing.T) {
	assert.Equal(t, "/addressbooks/local/home/contacts/4711", ContactPath("local", "home", "4711"))
	assert.Equal(t, "/addressbooks/local/my%20book/contacts/a%2Fb", ContactPath("local", "my book", "a/b"))
}

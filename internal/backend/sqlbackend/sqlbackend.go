// Package sqlbackend implements a backend that stores address books and contacts in a relational
// database. MySQL is used in production, SQLite for local runs and tests.
package sqlbackend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"gitlab.com/dirk.krummacker/addressbooks-service/internal/backend"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/model"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/vcard"
)

// bookRow is an address book as stored in the addressbooks table. Times are unix seconds so that
// both drivers store them the same way.
type bookRow struct {
	ID           string        `db:"id"`
	Owner        string        `db:"owner"`
	DisplayName  string        `db:"displayname"`
	Description  string        `db:"description"`
	LastModified sql.NullInt64 `db:"lastmodified"`
}

// contactRow is a contact as stored in the contacts table.
type contactRow struct {
	ID            string        `db:"id"`
	AddressBookID string        `db:"addressbookid"`
	Data          string        `db:"data"`
	ETag          string        `db:"etag"`
	LastModified  sql.NullInt64 `db:"lastmodified"`
}

// Backend is an address book provider on top of a sqlx database handle.
type Backend struct {
	name string
	caps backend.Capability
	db   *sqlx.DB
	now  func() time.Time

	// Prepared statements offer a significant speed increase if executed many times.
	insertBook       *sqlx.NamedStmt
	selectBooks      *sqlx.Stmt
	selectBook       *sqlx.Stmt
	deleteBook       *sqlx.Stmt
	deleteBookItems  *sqlx.Stmt
	touchBook        *sqlx.Stmt
	insertContact    *sqlx.NamedStmt
	selectContacts   *sqlx.Stmt
	selectContact    *sqlx.Stmt
	deleteContactRow *sqlx.Stmt
}

// Open connects to the database. For SQLite the dsn is the database file name.
func Open(driver string, dsn string) (*sqlx.DB, error) {
	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// Every SQLite connection to ":memory:" would see its own database.
		sqlDB.SetMaxOpenConns(1)
	}
	return Wrap(sqlDB, driver), nil
}

// Wrap returns the sqlx handle for an already opened database. The database argument can be a
// real database for production use or a mock database within unit tests.
func Wrap(sqlDB *sql.DB, driver string) *sqlx.DB {
	if driver == "sqlite" {
		// sqlx only knows the bind variable style under the cgo driver's name.
		driver = "sqlite3"
	}
	return sqlx.NewDb(sqlDB, driver)
}

// New prepares all statements and returns the backend.
func New(name string, caps backend.Capability, db *sqlx.DB) (*Backend, error) {
	b := &Backend{
		name: name,
		caps: caps,
		db:   db,
		now:  func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
	var err error
	prepare := func(query string) *sqlx.Stmt {
		if err != nil {
			return nil
		}
		var stmt *sqlx.Stmt
		stmt, err = db.Preparex(query)
		return stmt
	}
	prepareNamed := func(query string) *sqlx.NamedStmt {
		if err != nil {
			return nil
		}
		var stmt *sqlx.NamedStmt
		stmt, err = db.PrepareNamed(query)
		return stmt
	}

	b.insertBook = prepareNamed(`
		INSERT INTO addressbooks (id, owner, displayname, description, lastmodified)
		VALUES (:id, :owner, :displayname, :description, :lastmodified)
	`)
	b.selectBooks = prepare(`
		SELECT id, owner, displayname, description, lastmodified
		FROM addressbooks WHERE owner = ? ORDER BY id
	`)
	b.selectBook = prepare(`
		SELECT id, owner, displayname, description, lastmodified
		FROM addressbooks WHERE id = ? AND owner = ?
	`)
	b.deleteBook = prepare(`
		DELETE FROM addressbooks WHERE id = ? AND owner = ?
	`)
	b.deleteBookItems = prepare(`
		DELETE FROM contacts WHERE addressbookid = ?
	`)
	b.touchBook = prepare(`
		UPDATE addressbooks SET lastmodified = ? WHERE id = ?
	`)
	b.insertContact = prepareNamed(`
		INSERT INTO contacts (id, addressbookid, data, etag, lastmodified)
		VALUES (:id, :addressbookid, :data, :etag, :lastmodified)
	`)
	b.selectContacts = prepare(`
		SELECT id, addressbookid, data, etag, lastmodified
		FROM contacts WHERE addressbookid = ? ORDER BY id
	`)
	b.selectContact = prepare(`
		SELECT id, addressbookid, data, etag, lastmodified
		FROM contacts WHERE id = ? AND addressbookid = ?
	`)
	b.deleteContactRow = prepare(`
		DELETE FROM contacts WHERE id = ? AND addressbookid = ?
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return b, nil
}

// SetClock replaces the time source used for modification times.
func (b *Backend) SetClock(now func() time.Time) {
	b.now = now
}

func (b *Backend) Name() string {
	return b.name
}

func (b *Backend) Supports(c backend.Capability) bool {
	return b.caps.Has(c)
}

func (b *Backend) AddressBooksForUser(ctx context.Context, user string) ([]backend.AddressBook, error) {
	var rows []bookRow
	if err := b.selectBooks.SelectContext(ctx, &rows, user); err != nil {
		return nil, fmt.Errorf("select address books: %w", err)
	}
	books := make([]backend.AddressBook, 0, len(rows))
	for _, row := range rows {
		books = append(books, b.handle(row))
	}
	return books, nil
}

func (b *Backend) AddressBook(ctx context.Context, user string, id string) (backend.AddressBook, error) {
	var rows []bookRow
	if err := b.selectBook.SelectContext(ctx, &rows, id, user); err != nil {
		return nil, fmt.Errorf("select address book: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("address book %q: %w", id, backend.ErrNotFound)
	}
	return b.handle(rows[0]), nil
}

func (b *Backend) CreateAddressBook(ctx context.Context, user string, props model.Properties) (string, error) {
	row := bookRow{
		ID:           backend.NewID(),
		Owner:        user,
		LastModified: unix(b.now()),
	}
	if props.DisplayName != nil {
		row.DisplayName = *props.DisplayName
	}
	if props.Description != nil {
		row.Description = *props.Description
	}
	if _, err := b.insertBook.ExecContext(ctx, row); err != nil {
		return "", fmt.Errorf("create address book: %w: %v", backend.ErrOperationFailed, err)
	}
	return row.ID, nil
}

// DeleteAddressBook removes the address book row and its contacts in one transaction.
func (b *Backend) DeleteAddressBook(ctx context.Context, user string, id string) (err error) {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w: %v", backend.ErrOperationFailed, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.StmtxContext(ctx, b.deleteBook).ExecContext(ctx, id, user)
	if err != nil {
		return fmt.Errorf("delete address book: %w: %v", backend.ErrOperationFailed, err)
	}
	if err := expectOneRow(result, "address book", id); err != nil {
		return err
	}
	if _, err := tx.StmtxContext(ctx, b.deleteBookItems).ExecContext(ctx, id); err != nil {
		return fmt.Errorf("delete contacts of address book: %w: %v", backend.ErrOperationFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w: %v", backend.ErrOperationFailed, err)
	}
	return nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) handle(row bookRow) *addressBook {
	return &addressBook{backend: b, row: row}
}

// addressBook is a snapshot of an address book row plus the backend to reach its contacts.
type addressBook struct {
	backend *Backend
	row     bookRow
}

func (a *addressBook) Metadata() model.AddressBook {
	return model.AddressBook{
		ID:           a.row.ID,
		Backend:      a.backend.name,
		Owner:        a.row.Owner,
		DisplayName:  a.row.DisplayName,
		Description:  a.row.Description,
		LastModified: toTime(a.row.LastModified),
		Permissions:  a.backend.caps.Names(),
	}
}

func (a *addressBook) DisplayName() string {
	return a.row.DisplayName
}

func (a *addressBook) LastModified() *time.Time {
	return toTime(a.row.LastModified)
}

func (a *addressBook) Children(ctx context.Context) ([]*model.Contact, error) {
	var rows []contactRow
	if err := a.backend.selectContacts.SelectContext(ctx, &rows, a.row.ID); err != nil {
		return nil, fmt.Errorf("select contacts: %w", err)
	}
	children := make([]*model.Contact, 0, len(rows))
	for _, row := range rows {
		children = append(children, toContact(row))
	}
	return children, nil
}

func (a *addressBook) Child(ctx context.Context, id string) (*model.Contact, error) {
	var rows []contactRow
	if err := a.backend.selectContact.SelectContext(ctx, &rows, id, a.row.ID); err != nil {
		return nil, fmt.Errorf("select contact: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("contact %q: %w", id, backend.ErrNotFound)
	}
	return toContact(rows[0]), nil
}

func (a *addressBook) AddChild(ctx context.Context, contact *model.Contact) (string, error) {
	id := backend.NewID()
	var data string
	if contact != nil {
		data = contact.Data
	} else {
		var err error
		if data, err = vcard.NewCard(id); err != nil {
			return "", fmt.Errorf("add contact: %w", err)
		}
	}
	modified := unix(a.backend.now())
	row := contactRow{
		ID:            id,
		AddressBookID: a.row.ID,
		Data:          data,
		ETag:          vcard.ETag(data),
		LastModified:  modified,
	}
	if _, err := a.backend.insertContact.ExecContext(ctx, row); err != nil {
		return "", fmt.Errorf("add contact: %w: %v", backend.ErrOperationFailed, err)
	}
	a.touch(ctx, modified)
	return id, nil
}

func (a *addressBook) DeleteChild(ctx context.Context, id string) error {
	result, err := a.backend.deleteContactRow.ExecContext(ctx, id, a.row.ID)
	if err != nil {
		return fmt.Errorf("delete contact: %w: %v", backend.ErrOperationFailed, err)
	}
	if err := expectOneRow(result, "contact", id); err != nil {
		return err
	}
	a.touch(ctx, unix(a.backend.now()))
	return nil
}

// Update changes the submitted properties, and only those.
func (a *addressBook) Update(ctx context.Context, props model.Properties) error {
	modified := unix(a.backend.now())
	var args []interface{}
	query := "UPDATE addressbooks SET "
	if props.DisplayName != nil {
		args = append(args, *props.DisplayName)
		query += "displayname = ?, "
	}
	if props.Description != nil {
		args = append(args, *props.Description)
		query += "description = ?, "
	}
	args = append(args, modified, a.row.ID)
	query += "lastmodified = ? WHERE id = ?"

	result, err := a.backend.db.ExecContext(ctx, a.backend.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("update address book: %w: %v", backend.ErrOperationFailed, err)
	}
	if err := expectOneRow(result, "address book", a.row.ID); err != nil {
		return err
	}
	if props.DisplayName != nil {
		a.row.DisplayName = *props.DisplayName
	}
	if props.Description != nil {
		a.row.Description = *props.Description
	}
	a.row.LastModified = modified
	return nil
}

// touch records a change of the address book's contents. A failure only leaves the
// modification time behind, so it is not reported.
func (a *addressBook) touch(ctx context.Context, modified sql.NullInt64) {
	if _, err := a.backend.touchBook.ExecContext(ctx, modified, a.row.ID); err == nil {
		a.row.LastModified = modified
	}
}

func expectOneRow(result sql.Result, kind string, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %q: %w: %v", kind, id, backend.ErrOperationFailed, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %q: %w", kind, id, backend.ErrNotFound)
	}
	return nil
}

func toContact(row contactRow) *model.Contact {
	return &model.Contact{
		ID:            row.ID,
		AddressBookID: row.AddressBookID,
		Data:          row.Data,
		ETag:          row.ETag,
		LastModified:  toTime(row.LastModified),
	}
}

func unix(t time.Time) sql.NullInt64 {
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func toTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}

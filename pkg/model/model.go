// Package model contains the data structures of the REST API as seen by clients.
package model

import "time"

// AddressBook is the metadata of an address book.
type AddressBook struct {
	ID           string     `json:"id"`
	Backend      string     `json:"backend"`
	Owner        string     `json:"owner"`
	DisplayName  string     `json:"displayname"`
	Description  string     `json:"description"`
	LastModified *time.Time `json:"lastmodified,omitempty"`
	Permissions  []string   `json:"permissions"`
}

// AddressBooks is the response for all address books of a user.
type AddressBooks struct {
	AddressBooks []AddressBook `json:"addressbooks"`
}

// Contact is a contact in its structured form. Data maps vCard property names to their values.
type Contact struct {
	ID       string             `json:"id"`
	Metadata ContactMetadata    `json:"metadata"`
	Data     map[string][]Field `json:"data"`
}

// ContactMetadata describes where a contact is stored. LastModified is in unix seconds.
type ContactMetadata struct {
	ID            string `json:"id"`
	AddressBookID string `json:"addressbookid"`
	ETag          string `json:"etag"`
	DisplayName   string `json:"displayname"`
	LastModified  int64  `json:"lastmodified,omitempty"`
}

// Field is one value of a vCard property.
type Field struct {
	Value      string              `json:"value"`
	Parameters map[string][]string `json:"parameters"`
}

// Contacts is the response for an address book.
type Contacts struct {
	Contacts []Contact `json:"contacts"`
}

// Error is the response body of a failed request.
type Error struct {
	Message string `json:"message"`
}

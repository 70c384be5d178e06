package model

import "time"

// AddressBook is the metadata of an address book as it is handed out to clients. The contacts
// themselves are not part of it.
type AddressBook struct {
	ID           string     `json:"id"`
	Backend      string     `json:"backend"`
	Owner        string     `json:"owner"`
	DisplayName  string     `json:"displayname"`
	Description  string     `json:"description"`
	LastModified *time.Time `json:"lastmodified,omitempty"`
	Permissions  []string   `json:"permissions"`
}

// Contact is a single vCard record within an address book. Data holds the vCard text form.
type Contact struct {
	ID            string     `json:"id"`
	AddressBookID string     `json:"addressbookid"`
	Data          string     `json:"data"`
	ETag          string     `json:"etag"`
	LastModified  *time.Time `json:"lastmodified,omitempty"`
}

// Properties are the submitted fields for creating or updating an address book. All fields are
// optional; only the non-nil ones are applied.
type Properties struct {
	DisplayName *string `json:"displayname,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Empty returns true if no property was submitted.
func (p Properties) Empty() bool {
	return p.DisplayName == nil && p.Description == nil
}

// Target identifies the address book a contact is moved to.
type Target struct {
	Backend string `json:"backend"`
	ID      string `json:"id"`
}

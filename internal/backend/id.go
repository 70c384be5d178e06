package backend

import "github.com/google/uuid"

// NewID returns a time ordered UUID for a new address book or contact, falling back to a random
// one.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

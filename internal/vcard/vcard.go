// Package vcard converts contacts between their vCard text form and the structured form that is
// sent to clients as JSON.
package vcard

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	govcard "github.com/emersion/go-vcard"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"gitlab.com/dirk.krummacker/addressbooks-service/internal/model"
)

// lineEnd terminates every record of an export.
const lineEnd = "\r\n"

// defaultCacheSize is the number of structured contacts kept in memory.
const defaultCacheSize = 4096

// ErrNoCard is returned when a text contains no vCard at all.
var ErrNoCard = errors.New("vcard: no card found")

// NewCard returns the text form of a new empty vCard with the given UID.
func NewCard(uid string) (string, error) {
	card := govcard.Card{}
	card.SetValue(govcard.FieldVersion, "3.0")
	card.SetValue(govcard.FieldUID, uid)
	card.SetValue(govcard.FieldFormattedName, "")
	return Encode(card)
}

// Encode returns the text form of the card.
func Encode(card govcard.Card) (string, error) {
	var buf bytes.Buffer
	if err := govcard.NewEncoder(&buf).Encode(card); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Parse decodes the first vCard of the text.
func Parse(text string) (govcard.Card, error) {
	card, err := govcard.NewDecoder(strings.NewReader(text)).Decode()
	if err == io.EOF {
		return nil, ErrNoCard
	}
	if err != nil {
		return nil, fmt.Errorf("vcard: %w", err)
	}
	return card, nil
}

// ETag returns the content fingerprint of a contact's text form.
func ETag(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Export concatenates the text forms of all contacts, each followed by CRLF.
func Export(contacts []*model.Contact) []byte {
	var buf bytes.Buffer
	for _, contact := range contacts {
		buf.WriteString(contact.Data)
		buf.WriteString(lineEnd)
	}
	return buf.Bytes()
}

// Filename returns the download name of an exported address book.
func Filename(displayName string) string {
	return strings.ReplaceAll(displayName, " ", "_") + ".vcf"
}

// Serializer produces the structured form of contacts. Results are cached by content, so that
// large address books are not decoded again on every request.
type Serializer struct {
	cache  *lru.Cache[string, map[string]any]
	logger *zap.Logger
}

// NewSerializer returns a serializer with a cache of the given size. A size below one uses the
// default size.
func NewSerializer(size int, logger *zap.Logger) (*Serializer, error) {
	if size < 1 {
		size = defaultCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[string, map[string]any](size)
	if err != nil {
		return nil, err
	}
	return &Serializer{cache: cache, logger: logger}, nil
}

// Structured returns the structured form of the contact:
//
//	{"id": ..., "metadata": {...}, "data": {"FN": [{"value": ..., "parameters": {...}}]}}
//
// The returned map is shared and must not be modified.
func (s *Serializer) Structured(contact *model.Contact) (map[string]any, error) {
	key := contact.AddressBookID + "/" + contact.ID + "/" + contact.ETag
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}
	card, err := Parse(contact.Data)
	if err != nil {
		return nil, err
	}
	data := make(map[string]any, len(card))
	for name, fields := range card {
		values := make([]map[string]any, 0, len(fields))
		for _, field := range fields {
			params := map[string][]string{}
			for k, v := range field.Params {
				params[k] = v
			}
			values = append(values, map[string]any{
				"value":      field.Value,
				"parameters": params,
			})
		}
		data[name] = values
	}
	metadata := map[string]any{
		"id":            contact.ID,
		"addressbookid": contact.AddressBookID,
		"etag":          contact.ETag,
		"displayname":   card.Value(govcard.FieldFormattedName),
	}
	if contact.LastModified != nil {
		metadata["lastmodified"] = contact.LastModified.Unix()
	}
	structured := map[string]any{
		"id":       contact.ID,
		"metadata": metadata,
		"data":     data,
	}
	s.cache.Add(key, structured)
	return structured, nil
}

// StructuredList returns the structured forms of all contacts that can be decoded. Contacts that
// cannot be decoded are left out.
func (s *Serializer) StructuredList(contacts []*model.Contact) []map[string]any {
	list := make([]map[string]any, 0, len(contacts))
	for _, contact := range contacts {
		structured, err := s.Structured(contact)
		if err != nil {
			s.logger.Debug("skipping contact",
				zap.String("addressbook", contact.AddressBookID),
				zap.String("contact", contact.ID),
				zap.Error(err))
			continue
		}
		list = append(list, structured)
	}
	return list
}

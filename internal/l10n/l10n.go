// Package l10n translates the failure messages that are sent to clients.
package l10n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys. The key is the English text.
const (
	ErrorCreatingAddressBook = "Error creating address book"
	ErrorUpdatingAddressBook = "Error updating address book"
	ErrorDeletingAddressBook = "Error deleting address book"
	ErrorCreatingContact     = "Error creating contact."
	ErrorDeletingContact     = "Error deleting contact."
	ErrorRetrievingContact   = "Error retrieving contact."
	ErrorSavingContact       = "Error saving contact."
	ErrorRemovingContact     = "Error removing contact from other address book."
	NotImplemented           = "Not implemented"
	BackendNotFound          = "backend not found"
	AddressBookNotFound      = "address book not found"
	ContactNotFound          = "contact not found"
	InvalidContact           = "invalid vCard"
	InternalError            = "internal error"
)

var german = map[string]string{
	ErrorCreatingAddressBook: "Fehler beim Erstellen des Adressbuchs",
	ErrorUpdatingAddressBook: "Fehler beim Aktualisieren des Adressbuchs",
	ErrorDeletingAddressBook: "Fehler beim Löschen des Adressbuchs",
	ErrorCreatingContact:     "Fehler beim Erstellen des Kontakts.",
	ErrorDeletingContact:     "Fehler beim Löschen des Kontakts.",
	ErrorRetrievingContact:   "Fehler beim Abrufen des Kontakts.",
	ErrorSavingContact:       "Fehler beim Speichern des Kontakts.",
	ErrorRemovingContact:     "Fehler beim Entfernen des Kontakts aus dem anderen Adressbuch.",
	NotImplemented:           "Nicht implementiert",
	BackendNotFound:          "Backend nicht gefunden",
	AddressBookNotFound:      "Adressbuch nicht gefunden",
	ContactNotFound:          "Kontakt nicht gefunden",
	InvalidContact:           "ungültige vCard",
	InternalError:            "interner Fehler",
}

// supported lists the languages with translations; the first one is the fallback.
var supported = []language.Tag{language.English, language.German}

var matcher = language.NewMatcher(supported)

var messages = newCatalog()

func newCatalog() *catalog.Builder {
	builder := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, translation := range german {
		builder.SetString(language.German, key, translation)
		builder.SetString(language.English, key, key)
	}
	return builder
}

// Printer returns a printer for the language that best matches an Accept-Language header value.
func Printer(acceptLanguage string) *message.Printer {
	tags, _, _ := language.ParseAcceptLanguage(acceptLanguage)
	_, index, _ := matcher.Match(tags...)
	return message.NewPrinter(supported[index], message.Catalog(messages))
}

// Translate returns the message for key in the language of the Accept-Language header value.
func Translate(acceptLanguage string, key string) string {
	return Printer(acceptLanguage).Sprintf(key)
}

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"gitlab.com/dirk.krummacker/addressbooks-service/pkg/model"
)

const (
	serverURL = "http://localhost:8080"
	user      = "benchmark"
	backend   = "local"
)

const card = "BEGIN:VCARD\r\nVERSION:3.0\r\nUID:%d\r\nFN:Marcus Antonius\r\nTEL:+39 999 777 555\r\nBDAY:00271109\r\nEND:VCARD\r\n"

// Usage example on the command line:
// > go run main.go
func main() {
	fmt.Println()
	fmt.Println("  Elements      POST       GET      MOVE    DELETE ")
	fmt.Println("---------------------------------------------------")
	removeLeftovers()
	sizes := []int{100, 500, 1000, 5000}
	for _, loops := range sizes {
		source := createAddressBook("Benchmark Source")
		target := createAddressBook("Benchmark Target")
		fmt.Printf("%10d", loops)

		// POST requests
		ids := make([]string, 0, loops)
		var duration int64
		for i := 0; i < loops; i++ {
			id, d := sendPostRequest(source, fmt.Sprintf(card, i))
			ids = append(ids, id)
			duration += d
		}
		fmt.Printf("%10d", duration/int64(loops*1000))
		if count := countContacts(source); count != loops {
			panic(fmt.Sprintf("expected %d contacts, found %d", loops, count))
		}

		// GET requests
		callInLoop(ids, func(id string) int64 {
			_, d := sendRequest(http.MethodGet, contactURL(source, id), nil)
			return d
		})

		// MOVE requests
		moved := make([]string, 0, loops)
		callInLoop(ids, func(id string) int64 {
			body := fmt.Sprintf(`{"target": {"backend": %q, "id": %q}}`, backend, target)
			resBody, d := sendRequest(http.MethodPost, contactURL(source, id)+"/move", strings.NewReader(body))
			moved = append(moved, decodeContact(resBody).ID)
			return d
		})

		// DELETE requests
		callInLoop(moved, func(id string) int64 {
			_, d := sendRequest(http.MethodDelete, contactURL(target, id), nil)
			return d
		})

		sendRequest(http.MethodDelete, addressBookURL(source), nil)
		sendRequest(http.MethodDelete, addressBookURL(target), nil)
		fmt.Println()
	}
}

func callInLoop(ids []string, f func(id string) int64) {
	shuffled := append([]string(nil), ids...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	var duration int64
	for _, id := range shuffled {
		duration += f(id)
	}
	fmt.Printf("%10d", duration/int64(len(ids)*1000))
}

func addressBookURL(id string) string {
	return fmt.Sprintf("%s/addressbooks/%s/%s", serverURL, backend, id)
}

func contactURL(addressBookID string, id string) string {
	return addressBookURL(addressBookID) + "/contacts/" + id
}

// removeLeftovers deletes the address books of benchmark runs that were aborted.
func removeLeftovers() {
	resBody, _ := sendRequest(http.MethodGet, serverURL+"/addressbooks", nil)
	var addressBooks model.AddressBooks
	if err := json.Unmarshal(resBody, &addressBooks); err != nil {
		fmt.Println("could not unmarshal JSON", err)
		panic(err)
	}
	for _, addressBook := range addressBooks.AddressBooks {
		if addressBook.Backend == backend && strings.HasPrefix(addressBook.DisplayName, "Benchmark ") {
			sendRequest(http.MethodDelete, addressBookURL(addressBook.ID), nil)
		}
	}
}

func countContacts(addressBookID string) int {
	resBody, _ := sendRequest(http.MethodGet, addressBookURL(addressBookID), nil)
	var contacts model.Contacts
	if err := json.Unmarshal(resBody, &contacts); err != nil {
		fmt.Println("could not unmarshal JSON", err)
		panic(err)
	}
	return len(contacts.Contacts)
}

func createAddressBook(name string) string {
	body := fmt.Sprintf(`{"displayname": %q}`, name)
	resBody, _ := sendRequest(http.MethodPost, fmt.Sprintf("%s/addressbooks/%s", serverURL, backend), strings.NewReader(body))
	var addressBook model.AddressBook
	if err := json.Unmarshal(resBody, &addressBook); err != nil {
		fmt.Println("could not unmarshal JSON", err)
		panic(err)
	}
	return addressBook.ID
}

func sendPostRequest(addressBookID string, vcard string) (string, int64) {
	resBody, duration := sendRequest(http.MethodPost, addressBookURL(addressBookID)+"/contacts", bytes.NewReader([]byte(vcard)))
	return decodeContact(resBody).ID, duration
}

func decodeContact(resBody []byte) model.Contact {
	var contact model.Contact
	if err := json.Unmarshal(resBody, &contact); err != nil {
		fmt.Println("could not unmarshal JSON", err)
		panic(err)
	}
	return contact
}

func sendRequest(method string, requestURL string, bodyReader io.Reader) ([]byte, int64) {
	req, err := http.NewRequest(method, requestURL, bodyReader)
	if err != nil {
		fmt.Println("could not create request", err)
		panic(err)
	}
	req.Header.Set("X-Remote-User", user)
	before := time.Now().UnixNano()
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Println("error making http request", err)
		panic(err)
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		fmt.Println("could not read response body", err)
		panic(err)
	}
	after := time.Now().UnixNano()
	if res.StatusCode >= http.StatusBadRequest {
		var failure model.Error
		json.Unmarshal(resBody, &failure)
		fmt.Println("request failed:", res.Status, failure.Message)
		panic(res.Status)
	}
	return resBody, after - before
}

package service

import (
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	"gitlab.com/dirk.krummacker/addressbooks-service/internal/addressbook"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/model"
)

// userHeader carries the name of the user authenticated by the reverse proxy.
const userHeader = "X-Remote-User"

// userKey is the gin context key of the authenticated user.
const userKey = "user"

// Options configure the HTTP router.
type Options struct {
	// RequestLogging turns gin's request logging on.
	RequestLogging bool

	// DefaultUser is used for requests without the user header. If it is empty such requests
	// are rejected.
	DefaultUser string

	// Metrics serves /metrics if not nil.
	Metrics http.Handler
}

// handler holds what the endpoints need.
type handler struct {
	controller  *addressbook.Controller
	defaultUser string
}

// SetupHttpRouter initializes the REST API router and registers all endpoints.
func SetupHttpRouter(controller *addressbook.Controller, opts Options) *gin.Engine {
	var router *gin.Engine
	if opts.RequestLogging {
		router = gin.Default()
	} else {
		router = gin.New()
		router.Use(gin.Recovery())
	}
	h := &handler{controller: controller, defaultUser: opts.DefaultUser}

	api := router.Group("/addressbooks", h.authenticate)
	api.GET("", h.findAddressBooks)
	api.POST("/:backend", h.createAddressBook)
	api.GET("/:backend/:addressbookid", h.findAddressBook)
	api.HEAD("/:backend/:addressbookid", h.findAddressBook)
	api.PUT("/:backend/:addressbookid", h.updateAddressBook)
	api.POST("/:backend/:addressbookid", h.updateAddressBook)
	api.DELETE("/:backend/:addressbookid", h.deleteAddressBook)
	api.GET("/:backend/:addressbookid/export", h.exportAddressBook)
	api.POST("/:backend/:addressbookid/contacts", h.createContact)
	api.GET("/:backend/:addressbookid/contacts/:contactid", h.findContact)
	api.DELETE("/:backend/:addressbookid/contacts/:contactid", h.deleteContact)
	api.POST("/:backend/:addressbookid/contacts/:contactid/move", h.moveContact)

	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	return router
}

// authenticate determines the user on whose behalf the request is made.
func (h *handler) authenticate(c *gin.Context) {
	user := c.GetHeader(userHeader)
	if user == "" {
		user = h.defaultUser
	}
	if user == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "authentication required"})
		return
	}
	c.Set(userKey, user)
	c.Next()
}

// request collects the parts of the HTTP request the controller needs.
func request(c *gin.Context) addressbook.Request {
	return addressbook.Request{
		User:            c.GetString(userKey),
		Method:          c.Request.Method,
		AcceptLanguage:  c.GetHeader("Accept-Language"),
		IfNoneMatch:     c.GetHeader("If-None-Match"),
		IfModifiedSince: c.GetHeader("If-Modified-Since"),
	}
}

// respond writes the envelope as the HTTP response.
func respond(c *gin.Context, env *addressbook.Envelope) {
	for key, values := range env.Header {
		for _, value := range values {
			c.Writer.Header().Add(key, value)
		}
	}
	if env.LastModified != nil {
		c.Header("Last-Modified", env.LastModified.UTC().Format(http.TimeFormat))
	}
	if env.ETag != "" {
		c.Header("ETag", `"`+env.ETag+`"`)
	}
	switch {
	case env.ContentType != "":
		c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": env.Filename}))
		c.Data(env.Status, env.ContentType+"; charset=utf-8", env.Text)
	case env.Body == nil:
		c.Status(env.Status)
	default:
		c.IndentedJSON(env.Status, env.Body)
	}
}

// findAddressBooks responds with the metadata of all address books of the user.
//
// Example REST API call:
//
//	> curl http://localhost:8080/addressbooks --header "X-Remote-User: dirk"
func (h *handler) findAddressBooks(c *gin.Context) {
	respond(c, h.controller.ListAddressBooks(c.Request.Context(), request(c)))
}

// findAddressBook responds with all contacts of an address book. A HEAD request only returns the
// caching headers. Contacts whose vCard cannot be read are left out.
//
// Example REST API calls:
//
//	> curl http://localhost:8080/addressbooks/local/4711 --header "X-Remote-User: dirk"
//	> curl http://localhost:8080/addressbooks/local/4711 --head --header 'If-None-Match: "7e2b..."'
func (h *handler) findAddressBook(c *gin.Context) {
	respond(c, h.controller.GetAddressBook(c.Request.Context(), request(c), c.Param("backend"), c.Param("addressbookid")))
}

// exportAddressBook responds with all contacts of an address book as a vCard file download.
//
// Example REST API call:
//
//	> curl http://localhost:8080/addressbooks/local/4711/export --remote-header-name --remote-name
func (h *handler) exportAddressBook(c *gin.Context) {
	respond(c, h.controller.ExportAddressBook(c.Request.Context(), request(c), c.Param("backend"), c.Param("addressbookid")))
}

// createAddressBook creates an address book in the backend from the request's JSON and responds
// with its metadata including the newly assigned id.
//
// Example REST API call:
//
//	> curl http://localhost:8080/addressbooks/local --request "POST" --header "Content-Type: application/json" --data '{"displayname": "Family", "description": "Relatives and in-laws"}'
func (h *handler) createAddressBook(c *gin.Context) {
	var props model.Properties
	if err := c.ShouldBindJSON(&props); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid JSON"})
		return
	}
	respond(c, h.controller.AddAddressBook(c.Request.Context(), request(c), c.Param("backend"), props))
}

// updateAddressBook updates the properties specified in the JSON (and only those), and responds
// with the new metadata.
//
// Example REST API call:
//
//	> curl http://localhost:8080/addressbooks/local/4711 --request "PUT" --header "Content-Type: application/json" --data '{"properties": {"displayname": "Relatives"}}'
func (h *handler) updateAddressBook(c *gin.Context) {
	var submitted struct {
		Properties *model.Properties `json:"properties"`
	}
	if err := c.ShouldBindJSON(&submitted); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid JSON"})
		return
	}

	// It only makes sense to continue if we have at least one value to update.
	if submitted.Properties == nil || submitted.Properties.Empty() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "no values to be updated"})
		return
	}
	respond(c, h.controller.UpdateAddressBook(c.Request.Context(), request(c), c.Param("backend"), c.Param("addressbookid"), *submitted.Properties))
}

// deleteAddressBook deletes an address book together with its contacts.
//
// Example REST API call:
//
//	> curl http://localhost:8080/addressbooks/local/4711 --request "DELETE"
func (h *handler) deleteAddressBook(c *gin.Context) {
	respond(c, h.controller.DeleteAddressBook(c.Request.Context(), request(c), c.Param("backend"), c.Param("addressbookid")))
}

// createContact adds a contact to the address book. Without a request body an empty contact is
// created, otherwise the body must be a vCard. The response carries the contact's location.
//
// Example REST API calls:
//
//	> curl http://localhost:8080/addressbooks/local/4711/contacts --request "POST" --include
//	> curl http://localhost:8080/addressbooks/local/4711/contacts --request "POST" --header "Content-Type: text/vcard" --data-binary @erika.vcf
func (h *handler) createContact(c *gin.Context) {
	card, err := c.GetRawData()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}
	respond(c, h.controller.AddChild(c.Request.Context(), request(c), c.Param("backend"), c.Param("addressbookid"), card))
}

// findContact responds with a single contact.
//
// Example REST API call:
//
//	> curl http://localhost:8080/addressbooks/local/4711/contacts/0815
func (h *handler) findContact(c *gin.Context) {
	respond(c, h.controller.GetChild(c.Request.Context(), request(c), c.Param("backend"), c.Param("addressbookid"), c.Param("contactid")))
}

// deleteContact deletes a contact from its address book.
//
// Example REST API call:
//
//	> curl http://localhost:8080/addressbooks/local/4711/contacts/0815 --request "DELETE"
func (h *handler) deleteContact(c *gin.Context) {
	respond(c, h.controller.DeleteChild(c.Request.Context(), request(c), c.Param("backend"), c.Param("addressbookid"), c.Param("contactid")))
}

// moveContact moves a contact into the address book given as target and responds with the
// contact in its new place.
//
// Example REST API call:
//
//	> curl http://localhost:8080/addressbooks/local/4711/contacts/0815/move --request "POST" --header "Content-Type: application/json" --data '{"target": {"backend": "shared", "id": "team"}}'
func (h *handler) moveContact(c *gin.Context) {
	var submitted struct {
		Target *model.Target `json:"target"`
	}
	if err := c.ShouldBindJSON(&submitted); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid JSON"})
		return
	}
	if submitted.Target == nil || submitted.Target.Backend == "" || submitted.Target.ID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid target"})
		return
	}
	respond(c, h.controller.MoveChild(c.Request.Context(), request(c), c.Param("backend"), c.Param("addressbookid"), c.Param("contactid"), *submitted.Target))
}

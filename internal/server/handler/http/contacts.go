package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/baikal-manager/server/internal/middleware"
	"github.com/baikal-manager/server/internal/models"
)

// ContactsService defines the address book operations required by the HTTP
// handlers.
type ContactsService interface {
	List(ctx context.Context, username string) ([]models.Contact, error)
	Create(ctx context.Context, username string, contact models.Contact) (*models.Contact, error)
	Update(ctx context.Context, username, id string, contact models.Contact) (*models.Contact, error)
	Delete(ctx context.Context, username, id string) error
	AddressBooks(ctx context.Context, username string) ([]models.AddressBook, error)
	Import(ctx context.Context, username, data string) (int, error)
	Export(ctx context.Context, username string) (string, error)
}

// ContactsHandler serves address book entries from the remote server.
type ContactsHandler struct {
	Contacts ContactsService
}

// ListContacts returns every entry in the configured address book.
func (h *ContactsHandler) ListContacts(w http.ResponseWriter, r *http.Request) {
	username := middleware.GetUserFromContext(r.Context())
	contacts, err := h.Contacts.List(r.Context(), username)
	if err != nil {
		writeRemoteError(w, err)
		return
	}
	if contacts == nil {
		contacts = []models.Contact{}
	}
	writeJSON(w, http.StatusOK, contacts)
}

// CreateContact writes a new entry to the configured address book.
func (h *ContactsHandler) CreateContact(w http.ResponseWriter, r *http.Request) {
	username := middleware.GetUserFromContext(r.Context())

	var contact models.Contact
	if err := json.NewDecoder(r.Body).Decode(&contact); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	created, err := h.Contacts.Create(r.Context(), username, contact)
	if err != nil {
		writeRemoteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// UpdateContact replaces the entry addressed by the path suffix, which is the
// object path returned from listing or creating it.
func (h *ContactsHandler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	username := middleware.GetUserFromContext(r.Context())
	id, ok := objectID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing contact id")
		return
	}

	var contact models.Contact
	if err := json.NewDecoder(r.Body).Decode(&contact); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	updated, err := h.Contacts.Update(r.Context(), username, id, contact)
	if err != nil {
		writeRemoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteContact removes the entry addressed by the path suffix.
func (h *ContactsHandler) DeleteContact(w http.ResponseWriter, r *http.Request) {
	username := middleware.GetUserFromContext(r.Context())
	id, ok := objectID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing contact id")
		return
	}

	if err := h.Contacts.Delete(r.Context(), username, id); err != nil {
		writeRemoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "contact deleted"})
}

// ListAddressBooks returns the address book collections available to the
// user.
func (h *ContactsHandler) ListAddressBooks(w http.ResponseWriter, r *http.Request) {
	username := middleware.GetUserFromContext(r.Context())
	books, err := h.Contacts.AddressBooks(r.Context(), username)
	if err != nil {
		writeRemoteError(w, err)
		return
	}
	if books == nil {
		books = []models.AddressBook{}
	}
	writeJSON(w, http.StatusOK, books)
}

type importContactsRequest struct {
	Data string `json:"data"`
}

// ImportContacts writes every vCard in the request payload to the configured
// address book.
func (h *ContactsHandler) ImportContacts(w http.ResponseWriter, r *http.Request) {
	username := middleware.GetUserFromContext(r.Context())

	var req importContactsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Data == "" {
		writeError(w, http.StatusBadRequest, "vcard data is required")
		return
	}

	imported, err := h.Contacts.Import(r.Context(), username, req.Data)
	if err != nil {
		writeRemoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  fmt.Sprintf("imported %d contacts", imported),
		"imported": imported,
	})
}

// ExportContacts streams the whole address book as a vCard attachment.
func (h *ContactsHandler) ExportContacts(w http.ResponseWriter, r *http.Request) {
	username := middleware.GetUserFromContext(r.Context())

	data, err := h.Contacts.Export(r.Context(), username)
	if err != nil {
		writeRemoteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/vcard; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="contacts.vcf"`)
	_, _ = w.Write([]byte(data))
}

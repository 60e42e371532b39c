package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/baikal-manager/server/internal/models"
	"github.com/emersion/go-vcard"
	"github.com/emersion/go-webdav/carddav"
	"github.com/google/uuid"
)

// Contacts reads and writes address book entries through a verified
// connection.
type Contacts struct {
	users    CredentialSource
	verifier HandleProvider
}

// NewContacts constructs the contacts service.
func NewContacts(users CredentialSource, verifier HandleProvider) *Contacts {
	return &Contacts{users: users, verifier: verifier}
}

func (s *Contacts) handle(ctx context.Context, username string) (*Handle, error) {
	creds, err := s.users.Credentials(username)
	if err != nil {
		return nil, err
	}
	return s.verifier.HandleFor(ctx, creds)
}

// List returns every entry in the configured address book.
func (s *Contacts) List(ctx context.Context, username string) ([]models.Contact, error) {
	h, err := s.handle(ctx, username)
	if err != nil {
		return nil, err
	}

	query := &carddav.AddressBookQuery{
		DataRequest: carddav.AddressDataRequest{AllProp: true},
	}
	objects, err := h.CardDAV.QueryAddressBook(ctx, h.AddressBookPath, query)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}

	contacts := make([]models.Contact, 0, len(objects))
	for _, obj := range objects {
		contacts = append(contacts, contactToModel(obj))
	}
	return contacts, nil
}

// Create writes a new entry to the configured address book and returns it
// with its generated ID.
func (s *Contacts) Create(ctx context.Context, username string, contact models.Contact) (*models.Contact, error) {
	if contact.FullName == "" {
		return nil, fmt.Errorf("contact full name is required")
	}

	h, err := s.handle(ctx, username)
	if err != nil {
		return nil, err
	}

	uid := uuid.NewString()
	card := buildCard(uid, contact)
	obj, err := h.CardDAV.PutAddressObject(ctx, path.Join(h.AddressBookPath, uid+".vcf"), card)
	if err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}

	contact.ID = obj.Path
	return &contact, nil
}

// Update replaces the entry at id with contact's fields. The id is the object
// path reported when the entry was listed or created.
func (s *Contacts) Update(ctx context.Context, username, id string, contact models.Contact) (*models.Contact, error) {
	if contact.FullName == "" {
		return nil, fmt.Errorf("contact full name is required")
	}

	h, err := s.handle(ctx, username)
	if err != nil {
		return nil, err
	}
	uid, err := collectionMember(h.AddressBookPath, id, ".vcf")
	if err != nil {
		return nil, err
	}

	obj, err := h.CardDAV.PutAddressObject(ctx, id, buildCard(uid, contact))
	if err != nil {
		return nil, fmt.Errorf("update contact: %w", err)
	}
	contact.ID = obj.Path
	return &contact, nil
}

// Delete removes the entry at id from the configured address book.
func (s *Contacts) Delete(ctx context.Context, username, id string) error {
	h, err := s.handle(ctx, username)
	if err != nil {
		return err
	}
	if _, err := collectionMember(h.AddressBookPath, id, ".vcf"); err != nil {
		return err
	}
	if err := h.CardDAV.RemoveAll(ctx, id); err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	return nil
}

// AddressBooks returns the address book collections under the user's home set.
func (s *Contacts) AddressBooks(ctx context.Context, username string) ([]models.AddressBook, error) {
	h, err := s.handle(ctx, username)
	if err != nil {
		return nil, err
	}
	books, err := h.CardDAV.FindAddressBooks(ctx, h.AddressBookHomeSet)
	if err != nil {
		return nil, fmt.Errorf("list address books: %w", err)
	}
	out := make([]models.AddressBook, 0, len(books))
	for _, b := range books {
		name := b.Name
		if name == "" {
			name = "Address book"
		}
		out = append(out, models.AddressBook{Path: b.Path, Name: name})
	}
	return out, nil
}

// Import parses data as a vCard stream and writes every card to the
// configured address book, minting UIDs for cards that lack one. It returns
// the number of contacts written.
func (s *Contacts) Import(ctx context.Context, username, data string) (int, error) {
	cards, err := parseCards(strings.NewReader(data))
	if err != nil {
		return 0, err
	}
	if len(cards) == 0 {
		return 0, fmt.Errorf("no contacts found in the import data")
	}

	h, err := s.handle(ctx, username)
	if err != nil {
		return 0, err
	}

	imported := 0
	for _, card := range cards {
		uid := card.Value(vcard.FieldUID)
		if uid == "" {
			uid = uuid.NewString()
			card.SetValue(vcard.FieldUID, uid)
		}
		vcard.ToV4(card)
		if _, err := h.CardDAV.PutAddressObject(ctx, path.Join(h.AddressBookPath, uid+".vcf"), card); err != nil {
			return imported, fmt.Errorf("import contact: %w", err)
		}
		imported++
	}
	return imported, nil
}

// Export serializes the whole configured address book as one vCard stream.
func (s *Contacts) Export(ctx context.Context, username string) (string, error) {
	h, err := s.handle(ctx, username)
	if err != nil {
		return "", err
	}

	query := &carddav.AddressBookQuery{
		DataRequest: carddav.AddressDataRequest{AllProp: true},
	}
	objects, err := h.CardDAV.QueryAddressBook(ctx, h.AddressBookPath, query)
	if err != nil {
		return "", fmt.Errorf("export contacts: %w", err)
	}
	return encodeCards(objects)
}

func parseCards(r io.Reader) ([]vcard.Card, error) {
	dec := vcard.NewDecoder(r)
	var cards []vcard.Card
	for {
		card, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse vcard data: %w", err)
		}
		cards = append(cards, card)
	}
	return cards, nil
}

func encodeCards(objects []carddav.AddressObject) (string, error) {
	var buf bytes.Buffer
	enc := vcard.NewEncoder(&buf)
	for _, obj := range objects {
		if obj.Card == nil {
			continue
		}
		if obj.Card.Value(vcard.FieldVersion) == "" {
			vcard.ToV4(obj.Card)
		}
		if err := enc.Encode(obj.Card); err != nil {
			return "", fmt.Errorf("encode vcard: %w", err)
		}
	}
	return buf.String(), nil
}

func buildCard(uid string, contact models.Contact) vcard.Card {
	card := make(vcard.Card)
	card.SetValue(vcard.FieldUID, uid)
	card.SetValue(vcard.FieldFormattedName, contact.FullName)
	if contact.Email != "" {
		card.SetValue(vcard.FieldEmail, contact.Email)
	}
	if contact.Phone != "" {
		card.SetValue(vcard.FieldTelephone, contact.Phone)
	}
	vcard.ToV4(card)
	return card
}

func contactToModel(obj carddav.AddressObject) models.Contact {
	return models.Contact{
		ID:       obj.Path,
		FullName: obj.Card.PreferredValue(vcard.FieldFormattedName),
		Email:    obj.Card.PreferredValue(vcard.FieldEmail),
		Phone:    obj.Card.PreferredValue(vcard.FieldTelephone),
	}
}

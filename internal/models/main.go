// Package models defines the core data structures for users, remote
// server credentials, and calendar/contact payloads.
package models

import "time"

// User represents an application user as persisted in the user store.
type User struct {
	// Username is the unique login name chosen by the user.
	Username string `json:"username"`
	// PasswordHash is the bcrypt hash of the user's login password.
	// It is persisted but never serialized into API responses.
	PasswordHash string `json:"passwordHash"`
	// FullName is the display name of the user.
	FullName string `json:"fullName"`
	// CreatedAt is the registration time.
	CreatedAt time.Time `json:"createdAt"`
	// LastLoginAt is the time of the most recent login, nil before the first one.
	LastLoginAt *time.Time `json:"lastLoginAt"`
	// RemoteCredentials holds the Baikal server credentials, nil until configured.
	RemoteCredentials *RemoteCredentials `json:"remoteCredentials,omitempty"`
	// AppSettings holds per-user UI preferences, nil until saved.
	AppSettings *AppSettings `json:"appSettings,omitempty"`
}

// RemoteCredentials is the credential block for the remote CalDAV/CardDAV server.
// The block is stored either fully populated or not at all.
type RemoteCredentials struct {
	// ServerURL is the base URL of the remote server.
	ServerURL string `json:"serverUrl"`
	// Username is the account name on the remote server.
	Username string `json:"username"`
	// Password is the remote account password. Encrypted at rest; holds
	// plaintext only while a record is in memory for verification.
	Password string `json:"password"`
	// AddressBookPath is the collection path holding the user's contacts.
	AddressBookPath string `json:"addressBookPath"`
	// CalendarPath is the collection path holding the user's calendar.
	CalendarPath string `json:"calendarPath"`
	// AuthType selects the HTTP authentication scheme: "basic" or "digest".
	AuthType string `json:"authType"`
}

// AuthType values accepted in RemoteCredentials.
const (
	AuthBasic  = "basic"
	AuthDigest = "digest"
)

// UserInfo is the sanitized listing entry for a user. It never carries
// password material or remote credentials.
type UserInfo struct {
	Username    string     `json:"username"`
	FullName    string     `json:"fullName"`
	LastLoginAt *time.Time `json:"lastLoginAt"`
}

// AppSettings holds per-user application preferences.
type AppSettings struct {
	Theme               string `json:"theme"`
	DefaultCalendarView string `json:"defaultCalendarView"`
	AutoLogoutMinutes   int    `json:"autoLogoutMinutes"`
}

// Calendar describes one calendar collection on the remote server.
type Calendar struct {
	Path string `json:"id"`
	Name string `json:"name"`
}

// AddressBook describes one address book collection on the remote server.
type AddressBook struct {
	Path string `json:"id"`
	Name string `json:"name"`
}

// Event is the API representation of a calendar event.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// Contact is the API representation of an address book entry.
type Contact struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

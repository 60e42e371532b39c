// Package service implements the business logic for user records, remote
// connection verification, and the calendar/contact features built on top.
package service

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the user service.
var (
	// ErrDuplicateUser signals an attempt to create a user whose username
	// already exists. The store keeps the first record.
	ErrDuplicateUser = errors.New("username already exists")
	// ErrUserNotFound signals an operation against an unknown username.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials signals a failed login password check.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrNotConnected signals that no verification has succeeded yet, so
	// there is no connection handle to hand out.
	ErrNotConnected = errors.New("not connected to remote server")
)

// VerifyKind classifies a verification failure. Only transport failures are
// retried; every other kind is terminal.
type VerifyKind string

const (
	// KindMissingFields: the credential block is incomplete.
	KindMissingFields VerifyKind = "missing_fields"
	// KindInvalidURL: the server URL does not parse into scheme and host.
	KindInvalidURL VerifyKind = "invalid_url"
	// KindAuthFailed: the server rejected the credentials.
	KindAuthFailed VerifyKind = "authentication_failed"
	// KindPathNotFound: a configured collection path does not exist on the server.
	KindPathNotFound VerifyKind = "path_not_found"
	// KindTransport: the server could not be reached (refused, timeout, TLS).
	KindTransport VerifyKind = "transport_error"
)

// MissingPath names one configured collection path the server does not report.
type MissingPath struct {
	// Resource is "address book" or "calendar".
	Resource string
	// Path is the configured path as supplied by the caller.
	Path string
}

// VerifyError describes a failed verification stage. Its message carries only
// metadata (host, path, error class), never credential material.
type VerifyError struct {
	Kind VerifyKind
	// Fields lists the missing credential fields for KindMissingFields.
	Fields []string
	// Missing lists the absent collection paths for KindPathNotFound.
	Missing []MissingPath
	// Attempts is the number of attempts made, set once a transport error
	// has exhausted its retry budget.
	Attempts int
	// Host is the remote host, set for auth and transport failures.
	Host string
	// URL is the offending raw URL for KindInvalidURL.
	URL string
	// Err is the underlying cause, if any.
	Err error
}

func (e *VerifyError) Error() string {
	switch e.Kind {
	case KindMissingFields:
		return "missing required fields: " + strings.Join(e.Fields, ", ")
	case KindInvalidURL:
		return fmt.Sprintf("invalid server URL: %q", e.URL)
	case KindAuthFailed:
		return fmt.Sprintf("authentication failed for host %s", e.Host)
	case KindPathNotFound:
		parts := make([]string, 0, len(e.Missing))
		for _, m := range e.Missing {
			parts = append(parts, fmt.Sprintf("%s path not found: %s", m.Resource, m.Path))
		}
		return strings.Join(parts, "; ")
	case KindTransport:
		msg := "connection failed"
		if e.Attempts > 0 {
			msg = fmt.Sprintf("connection failed after %d attempts", e.Attempts)
		}
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// Retryable reports whether err is a transport-class verification failure,
// the only class worth another attempt.
func Retryable(err error) bool {
	var ve *VerifyError
	return errors.As(err, &ve) && ve.Kind == KindTransport
}

func missingFieldsErr(fields []string) *VerifyError {
	return &VerifyError{Kind: KindMissingFields, Fields: fields}
}

func invalidURLErr(raw string) *VerifyError {
	return &VerifyError{Kind: KindInvalidURL, URL: raw}
}

func authFailedErr(host string) *VerifyError {
	return &VerifyError{Kind: KindAuthFailed, Host: host}
}

func transportErr(host string, err error) *VerifyError {
	return &VerifyError{Kind: KindTransport, Host: host, Err: err}
}

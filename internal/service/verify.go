package service

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/baikal-manager/server/internal/models"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/emersion/go-webdav/carddav"
	"github.com/icholy/digest"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Handle is an authenticated, reusable connection to the remote server,
// produced only by a successful verification. It is not safe to share across
// processes; the verifier guards it with an in-process mutex.
type Handle struct {
	// CalDAV and CardDAV are discovery and object clients bound to the
	// verified credentials.
	CalDAV  *caldav.Client
	CardDAV *carddav.Client
	// Principal is the server-reported principal path for the account.
	Principal string
	// CalendarHomeSet and AddressBookHomeSet are the discovered collection
	// roots.
	CalendarHomeSet    string
	AddressBookHomeSet string
	// CalendarPath and AddressBookPath are the server-reported paths that
	// matched the configured collections.
	CalendarPath    string
	AddressBookPath string

	creds models.RemoteCredentials
}

// Verifier proves that a credential block can reach the remote server and
// that both configured collection paths exist. A successful verification
// caches a Handle; verifying again always clears the previous one first, so
// the cached handle only ever belongs to the most recently verified set.
type Verifier struct {
	timeout     time.Duration
	maxAttempts int
	retryDelay  time.Duration
	log         *zap.Logger

	mu     sync.Mutex
	handle *Handle
}

// NewVerifier constructs a verifier. timeout bounds each network attempt,
// maxAttempts the total attempts for transport failures, retryDelay the fixed
// pause between them.
func NewVerifier(timeout time.Duration, maxAttempts int, retryDelay time.Duration, log *zap.Logger) *Verifier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &Verifier{
		timeout:     timeout,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		log:         log,
	}
}

// Verify runs the verification pipeline: field completeness, URL shape,
// authentication probe, and the existence of both collection paths. Transport
// failures are retried with a fixed delay up to the attempt budget; every
// other failure is terminal on the first occurrence. On success the resulting
// handle is cached.
func (v *Verifier) Verify(ctx context.Context, creds *models.RemoteCredentials) error {
	_, err := v.verifyAndCache(ctx, creds)
	return err
}

// verifyAndCache runs the pipeline and returns the freshly built handle as
// well as caching it. Callers that need the handle for this exact credential
// set must use the return value rather than reading the cache afterwards; a
// concurrent verification for different credentials may replace the cache at
// any time.
func (v *Verifier) verifyAndCache(ctx context.Context, creds *models.RemoteCredentials) (*Handle, error) {
	v.mu.Lock()
	v.handle = nil
	v.mu.Unlock()

	if err := ValidateRemoteCredentials(creds); err != nil {
		return nil, err
	}

	var (
		handle   *Handle
		attempts int
	)
	backoff := retry.WithMaxRetries(uint64(v.maxAttempts-1), retry.NewConstant(v.retryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		h, err := v.connect(ctx, creds)
		if err != nil {
			if Retryable(err) {
				v.log.Warn("verification attempt failed",
					zap.Int("attempt", attempts),
					zap.Int("maxAttempts", v.maxAttempts),
					zap.String("host", hostOf(creds.ServerURL)))
				return retry.RetryableError(err)
			}
			return err
		}
		handle = h
		return nil
	})
	if err != nil {
		var ve *VerifyError
		if errors.As(err, &ve) && ve.Kind == KindTransport {
			ve.Attempts = attempts
		}
		return nil, err
	}

	v.mu.Lock()
	v.handle = handle
	v.mu.Unlock()
	v.log.Info("remote connection verified", zap.String("host", hostOf(creds.ServerURL)))
	return handle, nil
}

// CachedHandle returns the handle from the most recent successful Verify, or
// ErrNotConnected if none exists in this verifier's lifetime.
func (v *Verifier) CachedHandle() (*Handle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.handle == nil {
		return nil, ErrNotConnected
	}
	return v.handle, nil
}

// HandleFor returns a handle valid for exactly this credential set, reusing
// the cached one when it was produced from an identical set and re-verifying
// otherwise. Collaborators go through this before any remote read or write.
func (v *Verifier) HandleFor(ctx context.Context, creds *models.RemoteCredentials) (*Handle, error) {
	v.mu.Lock()
	if v.handle != nil && v.handle.creds == *creds {
		h := v.handle
		v.mu.Unlock()
		return h, nil
	}
	v.mu.Unlock()

	// The handle must come straight from this verification, not from the
	// cache: another caller verifying different credentials could have
	// replaced the cache in between.
	return v.verifyAndCache(ctx, creds)
}

// Reset drops the cached handle, forcing the next caller through Verify.
func (v *Verifier) Reset() {
	v.mu.Lock()
	v.handle = nil
	v.mu.Unlock()
}

// connect performs one authenticated probe and collection discovery attempt.
func (v *Verifier) connect(ctx context.Context, creds *models.RemoteCredentials) (*Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	host := hostOf(creds.ServerURL)
	httpClient := davHTTPClient(creds, v.timeout)

	// Authentication probe. Doing this with a plain request keeps the
	// 401/403-versus-transport classification independent of the DAV client.
	// The URL shape was already validated; a request construction failure
	// here is an internal condition, not a user input problem.
	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, creds.ServerURL, nil)
	if err != nil {
		return nil, transportErr(host, err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, transportErr(host, err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, authFailedErr(host)
	}

	calClient, err := caldav.NewClient(httpClient, creds.ServerURL)
	if err != nil {
		return nil, transportErr(host, err)
	}
	cardClient, err := carddav.NewClient(httpClient, creds.ServerURL)
	if err != nil {
		return nil, transportErr(host, err)
	}

	principal, err := calClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, transportErr(host, err)
	}

	calHome, err := calClient.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, transportErr(host, err)
	}
	calendars, err := calClient.FindCalendars(ctx, calHome)
	if err != nil {
		return nil, transportErr(host, err)
	}

	bookHome, err := cardClient.FindAddressBookHomeSet(ctx, principal)
	if err != nil {
		return nil, transportErr(host, err)
	}
	books, err := cardClient.FindAddressBooks(ctx, bookHome)
	if err != nil {
		return nil, transportErr(host, err)
	}

	// Both existence checks run before reporting, so a caller can tell a
	// missing address book from a missing calendar in a single pass.
	bookPath := matchAddressBook(books, creds.AddressBookPath)
	calPath := matchCalendar(calendars, creds.CalendarPath)

	var missing []MissingPath
	if bookPath == "" {
		missing = append(missing, MissingPath{Resource: "address book", Path: creds.AddressBookPath})
	}
	if calPath == "" {
		missing = append(missing, MissingPath{Resource: "calendar", Path: creds.CalendarPath})
	}
	if len(missing) > 0 {
		return nil, &VerifyError{Kind: KindPathNotFound, Missing: missing, Host: host}
	}

	return &Handle{
		CalDAV:             calClient,
		CardDAV:            cardClient,
		Principal:          principal,
		CalendarHomeSet:    calHome,
		AddressBookHomeSet: bookHome,
		CalendarPath:       calPath,
		AddressBookPath:    bookPath,
		creds:              *creds,
	}, nil
}

func matchCalendar(calendars []caldav.Calendar, configured string) string {
	want := NormalizePath(configured)
	for _, c := range calendars {
		if NormalizePath(c.Path) == want {
			return c.Path
		}
	}
	return ""
}

func matchAddressBook(books []carddav.AddressBook, configured string) string {
	want := NormalizePath(configured)
	for _, b := range books {
		if NormalizePath(b.Path) == want {
			return b.Path
		}
	}
	return ""
}

// NormalizePath coerces a collection path to a canonical form: leading slash,
// no trailing slash, duplicate slashes collapsed. Comparison stays
// case-sensitive; prefix or substring matches never count, so one configured
// path being a prefix of another cannot false-positive.
func NormalizePath(p string) string {
	if strings.Contains(p, "://") {
		if u, err := url.Parse(p); err == nil {
			p = u.Path
		}
	}
	parts := strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
	if len(parts) == 0 {
		return "/"
	}
	return "/" + strings.Join(parts, "/")
}

// davHTTPClient builds the authenticated HTTP client for the credential
// block's auth type. Digest is the default scheme.
func davHTTPClient(creds *models.RemoteCredentials, timeout time.Duration) webdav.HTTPClient {
	if strings.EqualFold(creds.AuthType, models.AuthBasic) {
		return webdav.HTTPClientWithBasicAuth(&http.Client{Timeout: timeout}, creds.Username, creds.Password)
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &digest.Transport{
			Username: creds.Username,
			Password: creds.Password,
		},
	}
}

func hostOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Host
	}
	return rawURL
}

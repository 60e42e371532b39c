package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/baikal-manager/server/internal/models"
	"go.uber.org/zap"
)

// fakeDAVServer emulates the discovery surface of a Baikal-style server:
// OPTIONS on the root, then PROPFIND for the principal, the home sets, and
// the collection listings.
type fakeDAVServer struct {
	calendars    []string
	addressBooks []string
	unauthorized bool
	requests     atomic.Int64
}

const (
	testPrincipal = "/principals/alice/"
	testCalHome   = "/calendars/alice/"
	testBookHome  = "/addressbooks/alice/"
)

func (f *fakeDAVServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)

	if f.unauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="dav"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if r.Method == http.MethodOptions {
		w.Header().Set("DAV", "1, 3, calendar-access, addressbook")
		return
	}
	if r.Method != "PROPFIND" {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var body string
	switch r.URL.Path {
	case "/":
		body = multistatus(davResponse("/",
			fmt.Sprintf(`<d:current-user-principal><d:href>%s</d:href></d:current-user-principal>`, testPrincipal)))
	case testPrincipal:
		body = multistatus(davResponse(testPrincipal,
			fmt.Sprintf(`<c:calendar-home-set><d:href>%s</d:href></c:calendar-home-set>`, testCalHome)+
				fmt.Sprintf(`<card:addressbook-home-set><d:href>%s</d:href></card:addressbook-home-set>`, testBookHome)))
	case testCalHome:
		responses := []string{davResponse(testCalHome, `<d:resourcetype><d:collection/></d:resourcetype>`)}
		for _, p := range f.calendars {
			responses = append(responses, davResponse(p,
				`<d:resourcetype><d:collection/><c:calendar/></d:resourcetype><d:displayname>Default</d:displayname>`))
		}
		body = multistatus(responses...)
	case testBookHome:
		responses := []string{davResponse(testBookHome, `<d:resourcetype><d:collection/></d:resourcetype>`)}
		for _, p := range f.addressBooks {
			responses = append(responses, davResponse(p,
				`<d:resourcetype><d:collection/><card:addressbook/></d:resourcetype><d:displayname>Contacts</d:displayname>`))
		}
		body = multistatus(responses...)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	_, _ = w.Write([]byte(body))
}

func davResponse(href, props string) string {
	return fmt.Sprintf(`<d:response>
		<d:href>%s</d:href>
		<d:propstat>
			<d:prop>%s</d:prop>
			<d:status>HTTP/1.1 200 OK</d:status>
		</d:propstat>
	</d:response>`, href, props)
}

func multistatus(responses ...string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav" xmlns:card="urn:ietf:params:xml:ns:carddav">` +
		strings.Join(responses, "\n") + `</d:multistatus>`
}

func defaultFakeServer() *fakeDAVServer {
	return &fakeDAVServer{
		calendars:    []string{"/calendars/alice/default/"},
		addressBooks: []string{"/addressbooks/alice/contacts/"},
	}
}

func testVerifier(maxAttempts int, delay time.Duration) *Verifier {
	return NewVerifier(2*time.Second, maxAttempts, delay, zap.NewNop())
}

func credsFor(serverURL string) *models.RemoteCredentials {
	return &models.RemoteCredentials{
		ServerURL:       serverURL,
		Username:        "alice",
		Password:        "dav-secret",
		AddressBookPath: "/addressbooks/alice/contacts/",
		CalendarPath:    "/calendars/alice/default/",
		AuthType:        models.AuthBasic,
	}
}

func TestVerify_Success(t *testing.T) {
	srv := defaultFakeServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	v := testVerifier(3, 10*time.Millisecond)
	if err := v.Verify(context.Background(), credsFor(ts.URL)); err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}

	h, err := v.CachedHandle()
	if err != nil {
		t.Fatalf("CachedHandle returned error: %v", err)
	}
	if h.Principal != testPrincipal {
		t.Errorf("Principal = %q; want %q", h.Principal, testPrincipal)
	}
	if h.CalendarPath != "/calendars/alice/default/" {
		t.Errorf("CalendarPath = %q; want the server-reported path", h.CalendarPath)
	}
	if h.AddressBookPath != "/addressbooks/alice/contacts/" {
		t.Errorf("AddressBookPath = %q; want the server-reported path", h.AddressBookPath)
	}
}

func TestVerify_MissingFields(t *testing.T) {
	v := testVerifier(3, 10*time.Millisecond)

	creds := credsFor("http://baikal.local")
	creds.Password = ""
	creds.AddressBookPath = ""
	err := v.Verify(context.Background(), creds)

	var ve *VerifyError
	if !errors.As(err, &ve) || ve.Kind != KindMissingFields {
		t.Fatalf("Verify error = %v; want missing-fields", err)
	}
	if len(ve.Fields) != 2 {
		t.Errorf("missing fields = %v; want password and addressBookPath", ve.Fields)
	}
	if strings.Contains(ve.Error(), "dav-secret") {
		t.Error("error message leaks the password")
	}
}

func TestVerify_InvalidURLWithoutNetworkCall(t *testing.T) {
	srv := defaultFakeServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	v := testVerifier(3, 10*time.Millisecond)
	creds := credsFor("baikal.local") // no scheme
	err := v.Verify(context.Background(), creds)

	var ve *VerifyError
	if !errors.As(err, &ve) || ve.Kind != KindInvalidURL {
		t.Fatalf("Verify error = %v; want invalid-url", err)
	}
	if n := srv.requests.Load(); n != 0 {
		t.Errorf("server saw %d requests; want none before URL validation", n)
	}
}

func TestVerify_AuthenticationFailedNotRetried(t *testing.T) {
	srv := defaultFakeServer()
	srv.unauthorized = true
	ts := httptest.NewServer(srv)
	defer ts.Close()

	v := testVerifier(3, 10*time.Millisecond)
	err := v.Verify(context.Background(), credsFor(ts.URL))

	var ve *VerifyError
	if !errors.As(err, &ve) || ve.Kind != KindAuthFailed {
		t.Fatalf("Verify error = %v; want authentication-failed", err)
	}
	if n := srv.requests.Load(); n != 1 {
		t.Errorf("server saw %d requests; want exactly 1 (no retries)", n)
	}
	if strings.Contains(ve.Error(), "dav-secret") {
		t.Error("error message leaks the password")
	}
}

func TestVerify_PathNotFoundNamesEachMissingPath(t *testing.T) {
	srv := defaultFakeServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	t.Run("address book missing, calendar present", func(t *testing.T) {
		v := testVerifier(3, 10*time.Millisecond)
		creds := credsFor(ts.URL)
		creds.AddressBookPath = "/addressbooks/missing/"
		err := v.Verify(context.Background(), creds)

		var ve *VerifyError
		if !errors.As(err, &ve) || ve.Kind != KindPathNotFound {
			t.Fatalf("Verify error = %v; want path-not-found", err)
		}
		if len(ve.Missing) != 1 || ve.Missing[0].Resource != "address book" {
			t.Fatalf("Missing = %+v; want only the address book path", ve.Missing)
		}
		if ve.Missing[0].Path != "/addressbooks/missing/" {
			t.Errorf("missing path = %q; want the configured address book path", ve.Missing[0].Path)
		}
	})

	t.Run("both missing are distinguishable", func(t *testing.T) {
		v := testVerifier(3, 10*time.Millisecond)
		creds := credsFor(ts.URL)
		creds.AddressBookPath = "/addressbooks/missing/"
		creds.CalendarPath = "/calendars/missing/"
		err := v.Verify(context.Background(), creds)

		var ve *VerifyError
		if !errors.As(err, &ve) || ve.Kind != KindPathNotFound {
			t.Fatalf("Verify error = %v; want path-not-found", err)
		}
		if len(ve.Missing) != 2 {
			t.Fatalf("Missing = %+v; want both paths reported in one pass", ve.Missing)
		}
	})
}

func TestVerify_TransportErrorRetriesWithDelay(t *testing.T) {
	// A closed listener gives connection-refused on every attempt.
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	const delay = 30 * time.Millisecond
	v := testVerifier(3, delay)

	startTime := time.Now()
	err := v.Verify(context.Background(), credsFor(url))
	elapsed := time.Since(startTime)

	var ve *VerifyError
	if !errors.As(err, &ve) || ve.Kind != KindTransport {
		t.Fatalf("Verify error = %v; want transport error", err)
	}
	if ve.Attempts != 3 {
		t.Errorf("Attempts = %d; want 3", ve.Attempts)
	}
	if !strings.Contains(ve.Error(), "after 3 attempts") {
		t.Errorf("error message = %q; want the attempt count in it", ve.Error())
	}
	if elapsed < 2*delay {
		t.Errorf("elapsed = %v; want at least %v (two inter-attempt delays)", elapsed, 2*delay)
	}

	if _, err := v.CachedHandle(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("CachedHandle after failed Verify error = %v; want ErrNotConnected", err)
	}
}

func TestVerify_ClearsStaleHandleBeforeHandshake(t *testing.T) {
	srv := defaultFakeServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	v := testVerifier(3, 10*time.Millisecond)
	if err := v.Verify(context.Background(), credsFor(ts.URL)); err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if _, err := v.CachedHandle(); err != nil {
		t.Fatalf("CachedHandle returned error: %v", err)
	}

	// A failing re-verify must not leave the old handle behind.
	bad := credsFor(ts.URL)
	bad.Password = ""
	if err := v.Verify(context.Background(), bad); err == nil {
		t.Fatal("Verify accepted incomplete credentials")
	}
	if _, err := v.CachedHandle(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("CachedHandle error = %v; want ErrNotConnected after failed re-verify", err)
	}
}

func TestHandleFor_ReusesHandleForSameCredentials(t *testing.T) {
	srv := defaultFakeServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	v := testVerifier(3, 10*time.Millisecond)
	creds := credsFor(ts.URL)
	if _, err := v.HandleFor(context.Background(), creds); err != nil {
		t.Fatalf("HandleFor returned error: %v", err)
	}
	after := srv.requests.Load()

	if _, err := v.HandleFor(context.Background(), credsFor(ts.URL)); err != nil {
		t.Fatalf("second HandleFor returned error: %v", err)
	}
	if n := srv.requests.Load(); n != after {
		t.Errorf("second HandleFor hit the server %d more times; want cached handle reuse", n-after)
	}

	// A changed credential set forces a fresh verification.
	changed := credsFor(ts.URL)
	changed.CalendarPath = "/calendars/alice/default"
	if _, err := v.HandleFor(context.Background(), changed); err != nil {
		t.Fatalf("HandleFor with changed credentials returned error: %v", err)
	}
	if n := srv.requests.Load(); n == after {
		t.Error("changed credentials did not trigger re-verification")
	}
}

func TestHandleFor_ConcurrentCallersGetMatchingHandles(t *testing.T) {
	// Two users with different remote servers hammer the same verifier. The
	// handle each call returns must be built from that call's credentials,
	// never from a handle a concurrent caller cached in the meantime.
	tsA := httptest.NewServer(defaultFakeServer())
	defer tsA.Close()
	tsB := httptest.NewServer(defaultFakeServer())
	defer tsB.Close()

	v := testVerifier(1, 10*time.Millisecond)

	const iterations = 200
	var wg sync.WaitGroup
	for _, serverURL := range []string{tsA.URL, tsB.URL} {
		wg.Add(1)
		go func(serverURL string) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				h, err := v.HandleFor(context.Background(), credsFor(serverURL))
				if err != nil {
					t.Errorf("HandleFor(%s) returned error: %v", serverURL, err)
					return
				}
				if h.creds.ServerURL != serverURL {
					t.Errorf("HandleFor(%s) returned a handle for %s", serverURL, h.creds.ServerURL)
					return
				}
			}
		}(serverURL)
	}
	wg.Wait()
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"/calendars/alice/default/", "/calendars/alice/default"},
		{"calendars/alice/default", "/calendars/alice/default"},
		{"//calendars//alice///default", "/calendars/alice/default"},
		{"/", "/"},
		{"", "/"},
		{"http://host:8800/calendars/alice/default/", "/calendars/alice/default"},
	}
	for _, tt := range cases {
		if got := NormalizePath(tt.in); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}

	// Case matters, and prefixes never match.
	if NormalizePath("/Calendars/alice") == NormalizePath("/calendars/alice") {
		t.Error("normalization must stay case-sensitive")
	}
}

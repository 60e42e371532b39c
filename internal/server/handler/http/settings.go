package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/baikal-manager/server/internal/middleware"
	"github.com/baikal-manager/server/internal/models"
	"github.com/baikal-manager/server/internal/service"
)

// SettingsService defines the user-store operations required by the
// settings handlers.
type SettingsService interface {
	Get(username string) (*models.User, error)
	Update(username string, upd service.UserUpdate) (*models.User, error)
}

// ConnectionVerifier runs the remote connection verification pipeline.
type ConnectionVerifier interface {
	Verify(ctx context.Context, creds *models.RemoteCredentials) error
}

// ErrorLogStore reads and maintains the per-user error log surfaced in the
// settings UI.
type ErrorLogStore interface {
	Append(username, message string) error
	Read(username string) (string, error)
	Clear(username string) error
}

// SettingsHandler handles remote credentials, app settings and the user
// error log.
type SettingsHandler struct {
	Users    SettingsService
	Verifier ConnectionVerifier
	Logs     ErrorLogStore
}

// remoteResponse is the remote credential block as returned to clients.
// The password never appears in responses, not even encrypted.
type remoteResponse struct {
	ServerURL       string `json:"serverUrl"`
	Username        string `json:"username"`
	AddressBookPath string `json:"addressBookPath"`
	CalendarPath    string `json:"calendarPath"`
	AuthType        string `json:"authType"`
	Configured      bool   `json:"configured"`
}

func sanitizeRemote(creds *models.RemoteCredentials) remoteResponse {
	if creds == nil {
		return remoteResponse{}
	}
	return remoteResponse{
		ServerURL:       creds.ServerURL,
		Username:        creds.Username,
		AddressBookPath: creds.AddressBookPath,
		CalendarPath:    creds.CalendarPath,
		AuthType:        creds.AuthType,
		Configured:      true,
	}
}

// Get returns the combined settings view: the sanitized remote block, the
// app settings and the profile name.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fullName": user.FullName,
		"remote":   sanitizeRemote(user.RemoteCredentials),
		"app":      appSettingsOrDefaults(user.AppSettings),
	})
}

// saveSettingsRequest is the combined save payload; absent sections are left
// untouched.
type saveSettingsRequest struct {
	FullName *string                   `json:"fullName"`
	Remote   *models.RemoteCredentials `json:"remote"`
	App      *models.AppSettings       `json:"app"`
}

// Save merges the posted sections into the user record. A remote credential
// block is verified against the server before it is persisted.
func (h *SettingsHandler) Save(w http.ResponseWriter, r *http.Request) {
	username := middleware.GetUserFromContext(r.Context())

	var req saveSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.FullName == nil && req.Remote == nil && req.App == nil {
		writeError(w, http.StatusBadRequest, "no settings provided")
		return
	}
	if req.App != nil {
		if err := validateAppSettings(req.App); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Remote != nil && !h.verifyForUser(w, r, username, req.Remote) {
		return
	}

	user, err := h.Users.Update(username, service.UserUpdate{
		FullName:          req.FullName,
		RemoteCredentials: req.Remote,
		AppSettings:       req.App,
	})
	if err != nil {
		writeUpdateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "settings saved",
		"remote":  sanitizeRemote(user.RemoteCredentials),
		"app":     appSettingsOrDefaults(user.AppSettings),
	})
}

// GetRemote returns the sanitized remote credential block.
func (h *SettingsHandler) GetRemote(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sanitizeRemote(user.RemoteCredentials))
}

// SaveRemote verifies the posted credential block against the remote server
// and persists it only when verification succeeds.
func (h *SettingsHandler) SaveRemote(w http.ResponseWriter, r *http.Request) {
	username := middleware.GetUserFromContext(r.Context())

	var creds models.RemoteCredentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if !h.verifyForUser(w, r, username, &creds) {
		return
	}

	user, err := h.Users.Update(username, service.UserUpdate{RemoteCredentials: &creds})
	if err != nil {
		writeUpdateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "settings saved",
		"settings": sanitizeRemote(user.RemoteCredentials),
	})
}

// VerifyRemote tests a credential block against the remote server without
// persisting anything.
func (h *SettingsHandler) VerifyRemote(w http.ResponseWriter, r *http.Request) {
	username := middleware.GetUserFromContext(r.Context())

	var creds models.RemoteCredentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if !h.verifyForUser(w, r, username, &creds) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "connection successful"})
}

// verifyForUser runs verification and, on failure, records the outcome in
// the user's error log and writes the 400 response. Returns true when the
// connection verified.
func (h *SettingsHandler) verifyForUser(w http.ResponseWriter, r *http.Request, username string, creds *models.RemoteCredentials) bool {
	err := h.Verifier.Verify(r.Context(), creds)
	if err == nil {
		return true
	}
	line := fmt.Sprintf("%s connection verification failed: %s",
		time.Now().UTC().Format(time.RFC3339), err.Error())
	_ = h.Logs.Append(username, line)
	writeErrorDetails(w, http.StatusBadRequest, "connection verification failed", err.Error())
	return false
}

// GetApp returns the user's app settings, falling back to defaults.
func (h *SettingsHandler) GetApp(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, appSettingsOrDefaults(user.AppSettings))
}

// SaveApp validates and persists the user's app settings.
func (h *SettingsHandler) SaveApp(w http.ResponseWriter, r *http.Request) {
	username := middleware.GetUserFromContext(r.Context())

	var settings models.AppSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := validateAppSettings(&settings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.Users.Update(username, service.UserUpdate{AppSettings: &settings}); err != nil {
		writeUpdateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "settings saved",
		"settings": settings,
	})
}

// GetLogs returns the raw contents of the user's error log.
func (h *SettingsHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	username := middleware.GetUserFromContext(r.Context())
	content, err := h.Logs.Read(username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": content})
}

// ClearLogs empties the user's error log.
func (h *SettingsHandler) ClearLogs(w http.ResponseWriter, r *http.Request) {
	username := middleware.GetUserFromContext(r.Context())
	if err := h.Logs.Clear(username); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logs cleared"})
}

func (h *SettingsHandler) currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	username := middleware.GetUserFromContext(r.Context())
	user, err := h.Users.Get(username)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
		} else {
			writeError(w, http.StatusInternalServerError, "failed to load user")
		}
		return nil, false
	}
	return user, true
}

func writeUpdateError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	var ve *service.VerifyError
	if errors.As(err, &ve) {
		writeError(w, http.StatusBadRequest, ve.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "failed to save settings")
}

func validateAppSettings(s *models.AppSettings) error {
	switch s.Theme {
	case "", "light", "dark":
	default:
		return fmt.Errorf("theme must be either 'light' or 'dark'")
	}
	switch s.DefaultCalendarView {
	case "", "month", "week", "day", "list":
	default:
		return fmt.Errorf("invalid default calendar view")
	}
	if s.AutoLogoutMinutes < 0 {
		return fmt.Errorf("auto-logout minutes cannot be negative")
	}
	return nil
}

// Package http provides HTTP handlers for authentication, settings,
// remote connection verification, and calendar/contact browsing.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/baikal-manager/server/internal/middleware"
	"github.com/baikal-manager/server/internal/models"
	"github.com/baikal-manager/server/internal/service"
)

// UserService defines the user-store operations required by the auth
// handlers.
type UserService interface {
	Get(username string) (*models.User, error)
	Create(username, password, fullName string) (*models.User, error)
	Authenticate(username, password string) (*models.User, error)
	TouchLastLogin(username string) error
	Delete(username string) (bool, error)
}

// VerifierResetter drops any cached remote connection. Used when the
// account owning the credentials goes away.
type VerifierResetter interface {
	Reset()
}

// AuthHandler handles registration, login, logout, session checks and
// account deletion.
type AuthHandler struct {
	Users    UserService
	Sessions *middleware.SessionManager
	Verifier VerifierResetter
}

// RegisterRequest represents the JSON payload for user registration.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

// LoginRequest represents the JSON payload for login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// userResponse is the sanitized user representation returned to clients.
// Password hashes and remote credentials never appear here.
type userResponse struct {
	Username    string     `json:"username"`
	FullName    string     `json:"fullName"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt"`
}

func sanitizeUser(u *models.User) userResponse {
	return userResponse{
		Username:    u.Username,
		FullName:    u.FullName,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

// Register handles user registration requests. It expects a JSON body
// with non-empty username, password and fullName fields, creates the
// account, and opens a session for the new user.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" || strings.TrimSpace(req.FullName) == "" {
		writeError(w, http.StatusBadRequest, "username, password and fullName are required")
		return
	}

	user, err := h.Users.Create(req.Username, req.Password, req.FullName)
	if err != nil {
		if errors.Is(err, service.ErrDuplicateUser) {
			writeError(w, http.StatusConflict, "username already exists")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !h.openSession(w, user.Username) {
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "user registered",
		"user":    sanitizeUser(user),
	})
}

// Login checks the password against the stored hash and opens a session
// on success. Failed attempts get a uniform 401 regardless of whether
// the username exists.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := h.Users.Authenticate(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	if err := h.Users.TouchLastLogin(user.Username); err != nil {
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	if !h.openSession(w, user.Username) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "login successful",
		"user":     sanitizeUser(user),
		"settings": appSettingsOrDefaults(user.AppSettings),
	})
}

// Logout clears the session cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.Sessions.ClearCookie())
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Check reports whether the session is valid and returns the current
// user. A session whose account has been deleted is treated as invalid.
func (h *AuthHandler) Check(w http.ResponseWriter, r *http.Request) {
	username := middleware.GetUserFromContext(r.Context())
	user, err := h.Users.Get(username)
	if err != nil {
		http.SetCookie(w, h.Sessions.ClearCookie())
		writeError(w, http.StatusUnauthorized, "session is no longer valid")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":     sanitizeUser(user),
		"settings": appSettingsOrDefaults(user.AppSettings),
	})
}

// DeleteAccount removes the current user together with its error log,
// drops any cached remote connection, and ends the session.
func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	username := middleware.GetUserFromContext(r.Context())
	removed, err := h.Users.Delete(username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete account")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	h.Verifier.Reset()
	http.SetCookie(w, h.Sessions.ClearCookie())
	writeJSON(w, http.StatusOK, map[string]string{"message": "account deleted"})
}

func (h *AuthHandler) openSession(w http.ResponseWriter, username string) bool {
	token, err := h.Sessions.Issue(username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return false
	}
	http.SetCookie(w, h.Sessions.Cookie(token))
	return true
}

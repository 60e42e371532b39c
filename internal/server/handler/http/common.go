package http

import (
	"encoding/json"
	"net/http"

	"github.com/baikal-manager/server/internal/models"
)

// errorResponse is the uniform error body: a short error class plus optional
// human-readable details. Neither field ever carries credential material.
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Error: message})
}

func writeErrorDetails(w http.ResponseWriter, code int, message, details string) {
	writeJSON(w, code, errorResponse{Error: message, Details: details})
}

// defaultAppSettings is what a fresh account sees before saving preferences.
var defaultAppSettings = models.AppSettings{
	Theme:               "light",
	DefaultCalendarView: "month",
	AutoLogoutMinutes:   10,
}

func appSettingsOrDefaults(s *models.AppSettings) models.AppSettings {
	if s == nil {
		return defaultAppSettings
	}
	return *s
}

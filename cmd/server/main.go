// Package main initializes and starts the Baikal-Manager backend server,
// setting up configuration, logging, encryption, repositories, services
// and the HTTP router.
package main

import (
	"cmp"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	nethttp "net/http"

	"github.com/baikal-manager/server/internal/config"
	"github.com/baikal-manager/server/internal/encryption"
	"github.com/baikal-manager/server/internal/logger"
	"github.com/baikal-manager/server/internal/middleware"
	"github.com/baikal-manager/server/internal/repository"
	"github.com/baikal-manager/server/internal/server/handler/http"
	"github.com/baikal-manager/server/internal/service"
	"go.uber.org/zap"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	// Parse command-line and environment configuration.
	options := config.Parse()
	addr := options.Port

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	// Initialize the encryption service guarding remote passwords at rest.
	keyPath := options.EncryptionKeyPath
	if keyPath == "" {
		keyPath = filepath.Join(options.DataDir, "secret.key")
	}
	enc, err := encryption.New(keyPath)
	if err != nil {
		zapLogger.Fatal("cannot init encryption", zap.Error(err))
	}

	// Initialize the file-backed stores.
	if err := os.MkdirAll(options.DataDir, 0o700); err != nil {
		zapLogger.Fatal("cannot create data directory", zap.Error(err))
	}
	userRepo := repository.NewUserFile(filepath.Join(options.DataDir, "users.json"), zapLogger)
	logRepo := repository.NewLogFile(options.DataDir)

	// Initialize business-logic services.
	userService := service.NewUsers(userRepo, enc, logRepo, zapLogger)
	verifier := service.NewVerifier(
		time.Duration(options.VerifyTimeoutSeconds)*time.Second,
		options.VerifyMaxAttempts,
		time.Duration(options.VerifyRetryDelayMS)*time.Millisecond,
		zapLogger,
	)
	calendarService := service.NewCalendars(userService, verifier)
	contactsService := service.NewContacts(userService, verifier)

	// Session cookies are signed with the configured secret; a generated
	// secret means sessions do not survive a restart.
	secret := options.SessionSecret
	if secret == "" {
		secret = randomSecret()
		zapLogger.Warn("no session secret configured, using a generated one")
	}
	sessions := middleware.NewSessionManager(secret, time.Duration(options.SessionTTLMinutes)*time.Minute)

	// Create HTTP handlers.
	authHandler := &http.AuthHandler{Users: userService, Sessions: sessions, Verifier: verifier}
	settingsHandler := &http.SettingsHandler{Users: userService, Verifier: verifier, Logs: logRepo}
	calendarHandler := &http.CalendarHandler{Calendars: calendarService}
	contactsHandler := &http.ContactsHandler{Contacts: contactsService}

	// Build the router with middleware and routes.
	router := http.NewRouter(
		authHandler,
		settingsHandler,
		calendarHandler,
		contactsHandler,
		strings.Split(options.AllowedOrigins, ","),
		zapLogger,
	)

	server := &nethttp.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	zapLogger.Info("starting HTTP server", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil {
		zapLogger.Fatal("failed to start HTTP server", zap.Error(err))
	}
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

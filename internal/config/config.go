// Package config provides functionality for managing configuration options
// for the application using command-line flags, environment variables and an
// optional JSON config file.
package config

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Options holds the configuration values for the application.
type Options struct {
	// Port defines the server's listening address (ip:port).
	Port string

	// DataDir is the directory holding the user store, the encryption key
	// and per-user error logs.
	DataDir string

	// EncryptionKeyPath is the path to the AES key file. Defaults to
	// <DataDir>/secret.key when empty.
	EncryptionKeyPath string

	// SessionSecret signs session tokens. Required outside development.
	SessionSecret string

	// SessionTTLMinutes is the session lifetime in minutes.
	SessionTTLMinutes int

	// VerifyTimeoutSeconds bounds a single remote verification attempt.
	VerifyTimeoutSeconds int

	// VerifyMaxAttempts is the total number of attempts for transport
	// failures during verification.
	VerifyMaxAttempts int

	// VerifyRetryDelayMS is the pause between verification attempts.
	VerifyRetryDelayMS int

	// AllowedOrigins is a comma-separated list of origins allowed by CORS.
	AllowedOrigins string

	// LogLevel sets the zap log level (debug, info, warn, error).
	LogLevel string

	// Config is the path to the config file.
	Config string
}

// options holds the current configuration values.
var options = &Options{}

// init initializes command-line flags and sets default values.
func init() {
	flag.StringVar(&options.Port, "a", "localhost:8080", "run on ip:port server")
	flag.StringVar(&options.DataDir, "d", "data", "data directory")
	flag.StringVar(&options.EncryptionKeyPath, "k", "", "encryption key path (default <data dir>/secret.key)")
	flag.StringVar(&options.SessionSecret, "s", "", "session signing secret")
	flag.IntVar(&options.SessionTTLMinutes, "session-ttl", 60, "session lifetime in minutes")
	flag.IntVar(&options.VerifyTimeoutSeconds, "verify-timeout", 10, "verification attempt timeout in seconds")
	flag.IntVar(&options.VerifyMaxAttempts, "verify-attempts", 3, "total verification attempts")
	flag.IntVar(&options.VerifyRetryDelayMS, "verify-delay", 1000, "delay between verification attempts in milliseconds")
	flag.StringVar(&options.AllowedOrigins, "origins", "http://localhost:5173", "comma-separated allowed CORS origins")
	flag.StringVar(&options.LogLevel, "log-level", "info", "log level")
	flag.StringVar(&options.Config, "config", "config.json", "path to config file")
	flag.StringVar(&options.Config, "c", "config.json", "path to config file (shorthand)")
}

// Parse parses the command-line flags, the optional config file and
// environment variables to set configuration values. Environment variables
// win over the config file, which wins over flag defaults.
func Parse() *Options {
	flag.Parse()

	// Load a .env file if present; real environment variables still win.
	_ = godotenv.Load()

	if configPath := os.Getenv("CONFIG"); configPath != "" {
		options.Config = configPath
	}

	if options.Config != "" {
		if _, err := os.Stat(options.Config); err == nil {
			data, err := os.ReadFile(options.Config)
			if err != nil {
				log.Fatalf("error while reading config file: %v", err)
			}
			if err := json.Unmarshal(data, options); err != nil {
				log.Fatalf("error while parsing config file: %v", err)
			}
		}
	}

	applyString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	applyInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				log.Fatalf("invalid value for %s: %v", key, err)
			}
			*dst = n
		}
	}

	applyString("SERVER_ADDRESS", &options.Port)
	applyString("DATA_DIR", &options.DataDir)
	applyString("ENCRYPTION_KEY_PATH", &options.EncryptionKeyPath)
	applyString("SESSION_SECRET", &options.SessionSecret)
	applyInt("SESSION_TTL_MINUTES", &options.SessionTTLMinutes)
	applyInt("VERIFY_TIMEOUT_SECONDS", &options.VerifyTimeoutSeconds)
	applyInt("VERIFY_MAX_ATTEMPTS", &options.VerifyMaxAttempts)
	applyInt("VERIFY_RETRY_DELAY_MS", &options.VerifyRetryDelayMS)
	applyString("ALLOWED_ORIGINS", &options.AllowedOrigins)
	applyString("LOG_LEVEL", &options.LogLevel)

	return options
}

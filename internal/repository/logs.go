package repository

import (
	"fmt"
	"os"
	"path/filepath"
)

// LogFile stores per-user error logs as plain append-only files under a logs
// directory. These are user-visible diagnostics, separate from server logging.
type LogFile struct {
	dir string
}

// NewLogFile creates a log store rooted at dataDir/logs.
func NewLogFile(dataDir string) *LogFile {
	return &LogFile{dir: filepath.Join(dataDir, "logs")}
}

func (l *LogFile) pathFor(username string) string {
	return filepath.Join(l.dir, username+"_errors.log")
}

// Append adds one line to the user's error log, creating the directory and
// file as needed.
func (l *LogFile) Append(username, message string) error {
	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(l.pathFor(username), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, message); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// Read returns the full contents of the user's error log, or an empty string
// if none exists.
func (l *LogFile) Read(username string) (string, error) {
	data, err := os.ReadFile(l.pathFor(username))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read log: %w", err)
	}
	return string(data), nil
}

// Clear removes the user's error log. Clearing a log that does not exist is
// not an error; account deletion relies on that.
func (l *LogFile) Clear(username string) error {
	err := os.Remove(l.pathFor(username))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove log: %w", err)
	}
	return nil
}

// Package repository provides file-backed persistence for user records and
// per-user error logs.
package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/baikal-manager/server/internal/models"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// storeDocument is the on-disk shape of the user store: a single JSON object
// with one top-level array of user records.
type storeDocument struct {
	Users []models.User `json:"users"`
}

// UserFile is a durable user store kept in one JSON file. Readers take a
// shared advisory lock and writers an exclusive one, so the whole-file
// rewrite protocol stays correct across independent processes sharing the
// same file. The advisory lock does not serialize goroutines inside one
// process, so an RWMutex guards that side.
type UserFile struct {
	path       string
	backupPath string
	mu         sync.RWMutex
	lock       *flock.Flock
	log        *zap.Logger
}

// NewUserFile creates a store over the JSON file at path. The backup of the
// previous generation lives next to it at path+".bak", and the advisory lock
// at path+".lock".
func NewUserFile(path string, log *zap.Logger) *UserFile {
	return &UserFile{
		path:       path,
		backupPath: path + ".bak",
		lock:       flock.New(path + ".lock"),
		log:        log,
	}
}

// Load returns the current record set under a shared lock. A store that does
// not exist yet, or that cannot be parsed even from backup, loads as empty:
// the store fails open rather than taking every caller down with it.
func (s *UserFile) Load() ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.lock.RLock(); err != nil {
		return nil, fmt.Errorf("acquire shared lock: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	return s.read(), nil
}

// Update applies fn to the current record set and persists the result under
// an exclusive lock. Before the rewrite the previous file contents are copied
// to the backup path, so one valid prior generation always survives a crash
// mid-write. If fn returns an error nothing is written.
func (s *UserFile) Update(fn func(users []models.User) ([]models.User, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("acquire exclusive lock: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	updated, err := fn(s.read())
	if err != nil {
		return err
	}

	if current, err := os.ReadFile(s.path); err == nil {
		if err := os.WriteFile(s.backupPath, current, 0o600); err != nil {
			return fmt.Errorf("write backup: %w", err)
		}
	}

	data, err := json.Marshal(storeDocument{Users: updated})
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	return nil
}

// read loads records from the primary file, falling back to the backup and
// then to an empty set. Corruption is logged and swallowed. Callers must hold
// the lock.
func (s *UserFile) read() []models.User {
	users, err := parseStoreFile(s.path)
	if err == nil {
		return users
	}
	if !os.IsNotExist(err) {
		s.log.Warn("user store unreadable, trying backup",
			zap.String("path", s.path), zap.Error(err))
	}

	users, backupErr := parseStoreFile(s.backupPath)
	if backupErr == nil {
		if !os.IsNotExist(err) {
			s.log.Warn("user store recovered from backup", zap.String("path", s.backupPath))
		}
		return users
	}
	if !os.IsNotExist(err) && !os.IsNotExist(backupErr) {
		s.log.Warn("user store backup unreadable, starting empty",
			zap.String("path", s.backupPath), zap.Error(backupErr))
	}
	return nil
}

func parseStoreFile(path string) ([]models.User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc storeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc.Users, nil
}

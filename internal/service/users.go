package service

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/baikal-manager/server/internal/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// UserRepository defines the persistence operations required by the user
// service. Update runs the given transform under the store's exclusive lock
// so read-modify-write sequences are atomic.
type UserRepository interface {
	Load() ([]models.User, error)
	Update(fn func(users []models.User) ([]models.User, error)) error
}

// Encryptor encrypts and decrypts secret fields before they reach disk.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// LogPurger removes a user's derived log artifacts on account deletion.
type LogPurger interface {
	Clear(username string) error
}

// UserUpdate is a merge-update payload: nil fields are left untouched on the
// stored record.
type UserUpdate struct {
	FullName          *string
	RemoteCredentials *models.RemoteCredentials
	AppSettings       *models.AppSettings
	LastLoginAt       *time.Time
}

// Users implements the credential store contract over a file-backed
// repository. Remote passwords are encrypted before persistence and only
// decrypted on the verification path.
type Users struct {
	repo UserRepository
	enc  Encryptor
	logs LogPurger
	log  *zap.Logger
}

// NewUsers constructs the user service.
func NewUsers(repo UserRepository, enc Encryptor, logs LogPurger, log *zap.Logger) *Users {
	return &Users{repo: repo, enc: enc, logs: logs, log: log}
}

// List returns the sanitized listing of all users. Password hashes and remote
// credentials never leave the store through this path.
func (s *Users) List() ([]models.UserInfo, error) {
	users, err := s.repo.Load()
	if err != nil {
		return nil, err
	}
	infos := make([]models.UserInfo, 0, len(users))
	for _, u := range users {
		infos = append(infos, models.UserInfo{
			Username:    u.Username,
			FullName:    u.FullName,
			LastLoginAt: u.LastLoginAt,
		})
	}
	return infos, nil
}

// Get returns a copy of the record for username, or ErrUserNotFound. The
// remote password stays encrypted; use Credentials for the verification path.
func (s *Users) Get(username string) (*models.User, error) {
	users, err := s.repo.Load()
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Username == username {
			user := u
			if u.RemoteCredentials != nil {
				creds := *u.RemoteCredentials
				user.RemoteCredentials = &creds
			}
			if u.AppSettings != nil {
				settings := *u.AppSettings
				user.AppSettings = &settings
			}
			return &user, nil
		}
	}
	return nil, ErrUserNotFound
}

// Credentials returns the user's remote credential block with the password
// decrypted, or ErrNotConnected if none is configured yet.
func (s *Users) Credentials(username string) (*models.RemoteCredentials, error) {
	user, err := s.Get(username)
	if err != nil {
		return nil, err
	}
	if user.RemoteCredentials == nil {
		return nil, ErrNotConnected
	}
	creds := *user.RemoteCredentials
	plain, err := s.enc.Decrypt(creds.Password)
	if err != nil {
		return nil, fmt.Errorf("decrypt remote password: %w", err)
	}
	creds.Password = plain
	return &creds, nil
}

// Create registers a new user with a bcrypt-hashed password. A duplicate
// username is a hard conflict, never an overwrite.
func (s *Users) Create(username, password, fullName string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if password == "" || strings.ContainsAny(password, " \t") {
		return nil, fmt.Errorf("invalid password: no spaces allowed")
	}
	if fullName == "" {
		return nil, fmt.Errorf("full name is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		Username:     username,
		PasswordHash: string(hash),
		FullName:     fullName,
		CreatedAt:    time.Now().UTC(),
	}
	err = s.repo.Update(func(users []models.User) ([]models.User, error) {
		for _, u := range users {
			if u.Username == username {
				return nil, ErrDuplicateUser
			}
		}
		return append(users, user), nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Update merges upd into the stored record and persists the result. A remote
// credential block in the payload must be complete; its password is encrypted
// before the merged record is written.
func (s *Users) Update(username string, upd UserUpdate) (*models.User, error) {
	if upd.RemoteCredentials != nil {
		normalizeAuthType(upd.RemoteCredentials)
		if err := ValidateRemoteCredentials(upd.RemoteCredentials); err != nil {
			return nil, err
		}
		encrypted, err := s.enc.Encrypt(upd.RemoteCredentials.Password)
		if err != nil {
			return nil, fmt.Errorf("encrypt remote password: %w", err)
		}
		creds := *upd.RemoteCredentials
		creds.Password = encrypted
		upd.RemoteCredentials = &creds
	}

	err := s.repo.Update(func(users []models.User) ([]models.User, error) {
		for i := range users {
			if users[i].Username != username {
				continue
			}
			if upd.FullName != nil {
				users[i].FullName = *upd.FullName
			}
			if upd.RemoteCredentials != nil {
				users[i].RemoteCredentials = upd.RemoteCredentials
			}
			if upd.AppSettings != nil {
				users[i].AppSettings = upd.AppSettings
			}
			if upd.LastLoginAt != nil {
				users[i].LastLoginAt = upd.LastLoginAt
			}
			return users, nil
		}
		return nil, ErrUserNotFound
	})
	if err != nil {
		return nil, err
	}
	return s.Get(username)
}

// Delete removes the record for username and purges the user's derived log
// files. It reports whether a record was removed.
func (s *Users) Delete(username string) (bool, error) {
	removed := false
	err := s.repo.Update(func(users []models.User) ([]models.User, error) {
		kept := users[:0]
		for _, u := range users {
			if u.Username == username {
				removed = true
				continue
			}
			kept = append(kept, u)
		}
		return kept, nil
	})
	if err != nil {
		return false, err
	}
	if removed {
		// The record is already gone; a leftover log file must not turn the
		// deletion into a reported failure, or a retry would hit 404.
		if err := s.logs.Clear(username); err != nil {
			s.log.Warn("failed to purge user logs after deletion",
				zap.String("username", username),
				zap.Error(err))
		}
	}
	return removed, nil
}

// TouchLastLogin stamps the user's last-login time with the current time.
func (s *Users) TouchLastLogin(username string) error {
	now := time.Now().UTC()
	_, err := s.Update(username, UserUpdate{LastLoginAt: &now})
	return err
}

// Authenticate checks the login password against the stored bcrypt hash.
// Unknown users and wrong passwords are indistinguishable to the caller.
func (s *Users) Authenticate(username, password string) (*models.User, error) {
	user, err := s.Get(username)
	if err != nil {
		if err == ErrUserNotFound {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func validateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if strings.ContainsAny(username, " \t\n/\\") {
		return fmt.Errorf("invalid username: no spaces or path separators allowed")
	}
	return nil
}

func normalizeAuthType(creds *models.RemoteCredentials) {
	switch strings.ToLower(creds.AuthType) {
	case models.AuthBasic:
		creds.AuthType = models.AuthBasic
	default:
		creds.AuthType = models.AuthDigest
	}
}

// ValidateRemoteCredentials checks that a credential block is fully populated
// and its server URL parses into scheme and host. These are the two terminal
// pre-network verification stages; the store applies the same rule before
// persisting a block, so a partial set never reaches disk.
func ValidateRemoteCredentials(creds *models.RemoteCredentials) error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"serverUrl", creds.ServerURL},
		{"username", creds.Username},
		{"password", creds.Password},
		{"addressBookPath", creds.AddressBookPath},
		{"calendarPath", creds.CalendarPath},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return missingFieldsErr(missing)
	}

	parsed, err := url.Parse(creds.ServerURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return invalidURLErr(creds.ServerURL)
	}
	return nil
}

// Package user implements the persistent account store.
//
// Each account is one small text file named after the login:
//
//	password=<value>
//	username=<value>
//
// The login doubles as the file name, so it is validated against path
// separators before any disk access. All read-modify-write sequences are
// serialized by the store mutex so a concurrent password and display-name
// change can never tear the file.
package user

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lanchat/lanchat/internal/protocol/tlv"
)

var (
	// ErrNotFound means no account file exists for the login.
	ErrNotFound = errors.New("user: account not found")

	// ErrExists means Create would overwrite an existing account.
	ErrExists = errors.New("user: account already exists")

	// ErrWrongPassword means the supplied password does not match the stored one.
	ErrWrongPassword = errors.New("user: wrong password")

	// ErrInvalidField means a field is empty, oversize, or contains a
	// character that would corrupt the account file.
	ErrInvalidField = errors.New("user: invalid field")

	// ErrCorrupt means the account file is missing one of its two fields.
	ErrCorrupt = errors.New("user: corrupt account file")
)

// Account is a user profile loaded from disk. The password never leaves the
// store.
type Account struct {
	Login       string
	DisplayName string
}

// Store is the file-backed account store rooted at a users directory.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore returns a store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("user: create directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(login string) string {
	return filepath.Join(s.dir, login)
}

// Exists reports whether an account file exists for login.
func (s *Store) Exists(login string) bool {
	if !tlv.ValidName(login) {
		return false
	}
	_, err := os.Stat(s.path(login))
	return err == nil
}

// Create persists a new account. It refuses to overwrite an existing file
// and rejects any field that is empty or longer than tlv.MaxNameLen bytes.
func (s *Store) Create(login, password, displayName string) error {
	if !tlv.ValidName(login) || !tlv.ValidName(password) || !tlv.ValidName(displayName) {
		return ErrInvalidField
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(login)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrExists
		}
		return fmt.Errorf("user: create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "password=%s\nusername=%s\n", password, displayName); err != nil {
		return fmt.Errorf("user: write %s: %w", path, err)
	}
	return nil
}

// Authenticate checks login/password against the stored record and returns
// the account (with display name) on success.
func (s *Store) Authenticate(login, password string) (*Account, error) {
	if !tlv.ValidName(login) {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, display, err := s.read(login)
	if err != nil {
		return nil, err
	}
	if password != stored {
		return nil, ErrWrongPassword
	}
	return &Account{Login: login, DisplayName: display}, nil
}

// Get returns the account for login without a password check. Used by
// server-side tooling; the wire protocol always goes through Authenticate.
func (s *Store) Get(login string) (*Account, error) {
	if !tlv.ValidName(login) {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, display, err := s.read(login)
	if err != nil {
		return nil, err
	}
	return &Account{Login: login, DisplayName: display}, nil
}

// ResetPassword rewrites the account file with a new password without
// verifying the old one. Used by server-side tooling only.
func (s *Store) ResetPassword(login, newPassword string) error {
	if !tlv.ValidName(newPassword) {
		return ErrInvalidField
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, display, err := s.read(login)
	if err != nil {
		return err
	}
	return s.write(login, newPassword, display)
}

// ChangePassword verifies the old password and rewrites the account file
// with the new one, preserving the display name.
func (s *Store) ChangePassword(login, oldPassword, newPassword string) error {
	if !tlv.ValidName(newPassword) {
		return ErrInvalidField
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, display, err := s.read(login)
	if err != nil {
		return err
	}
	if oldPassword != stored {
		return ErrWrongPassword
	}
	return s.write(login, newPassword, display)
}

// ChangeDisplayName rewrites the account file with the new display name,
// preserving the password. Returns the previous display name.
func (s *Store) ChangeDisplayName(login, displayName string) (string, error) {
	if !tlv.ValidName(displayName) {
		return "", ErrInvalidField
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	password, previous, err := s.read(login)
	if err != nil {
		return "", err
	}
	if err := s.write(login, password, displayName); err != nil {
		return "", err
	}
	return previous, nil
}

// List returns the logins of all persisted accounts in directory order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("user: list %s: %w", s.dir, err)
	}

	logins := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		logins = append(logins, e.Name())
	}
	return logins, nil
}

// read parses the two fields of an account file. Caller holds s.mu.
func (s *Store) read(login string) (password, display string, err error) {
	f, err := os.Open(s.path(login))
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", ErrNotFound
		}
		return "", "", fmt.Errorf("user: open %s: %w", s.path(login), err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if v, ok := strings.CutPrefix(line, "password="); ok {
			password = v
		} else if v, ok := strings.CutPrefix(line, "username="); ok {
			display = v
		}
	}
	if err := sc.Err(); err != nil {
		return "", "", fmt.Errorf("user: read %s: %w", s.path(login), err)
	}
	if password == "" || display == "" {
		return "", "", fmt.Errorf("%w: %s", ErrCorrupt, login)
	}
	return password, display, nil
}

// write rewrites an account file in place. Caller holds s.mu.
func (s *Store) write(login, password, display string) error {
	path := s.path(login)
	data := fmt.Sprintf("password=%s\nusername=%s\n", password, display)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return fmt.Errorf("user: write %s: %w", path, err)
	}
	return nil
}

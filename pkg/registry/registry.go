// Package registry tracks the live chat sessions of the server.
//
// The registry is the single source of truth for who is online. It enforces
// one session per login and keeps a reverse index by connection id so a
// dropped connection can be cleaned up without knowing whether it ever
// logged in.
//
// Delivery to a peer runs under the registry mutex (see Deliver) so the
// records of one relayed message are never interleaved with another
// sender's records on the recipient's stream.
package registry

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrAlreadyLoggedIn means the login already has a live session.
var ErrAlreadyLoggedIn = errors.New("registry: already logged in")

// ErrNotFound means no live session matches the login or connection id.
var ErrNotFound = errors.New("registry: session not found")

// RecordWriter is the per-connection sink a session delivers records to.
// The chat connection implements it with its own write mutex.
type RecordWriter interface {
	WriteRecord(typ uint16, payload []byte) error
}

// Session is one authenticated connection.
type Session struct {
	ID          string
	Login       string
	DisplayName string
	RemoteAddr  string
	LoggedInAt  time.Time
	Conn        RecordWriter
}

// Registry holds all live sessions, indexed by login and connection id.
type Registry struct {
	mu      sync.Mutex
	byLogin map[string]*Session
	byID    map[string]*Session
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byLogin: make(map[string]*Session),
		byID:    make(map[string]*Session),
	}
}

// Add registers a session. A login that is already online is refused so a
// second client cannot hijack the delivery stream.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byLogin[s.Login]; ok {
		return ErrAlreadyLoggedIn
	}
	r.byLogin[s.Login] = s
	r.byID[s.ID] = s
	return nil
}

// RemoveByID drops the session bound to a connection id, if any, and returns
// it. Safe to call for connections that never logged in.
func (r *Registry) RemoveByID(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	delete(r.byLogin, s.Login)
	return s
}

// FindByLogin returns a copy of the live session for login, or ErrNotFound.
// Use Deliver to write to a session; the copy is for inspection only.
func (r *Registry) FindByLogin(login string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byLogin[login]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *s, nil
}

// IsLoggedIn reports whether the login has a live session.
func (r *Registry) IsLoggedIn(login string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byLogin[login]
	return ok
}

// Rename updates the display name of a live session. A logged-out user has
// nothing to rename and that is not an error.
func (r *Registry) Rename(login, displayName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byLogin[login]; ok {
		s.DisplayName = displayName
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byLogin)
}

// Snapshot returns copies of all live sessions, for the management API.
func (r *Registry) Snapshot() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Session, 0, len(r.byLogin))
	for _, s := range r.byLogin {
		out = append(out, *s)
	}
	return out
}

// SerializeLimit caps the rendered active-user listing in bytes.
const SerializeLimit = 1024

// Serialize renders the active-user listing, one "<login> display" line per
// session. Sessions that would push the listing past SerializeLimit are
// dropped whole.
func (r *Registry) Serialize() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	for _, s := range r.byLogin {
		line := "<" + s.Login + "> " + s.DisplayName + "\n"
		if b.Len()+len(line) > SerializeLimit {
			continue
		}
		b.WriteString(line)
	}
	return b.String()
}

// Deliver looks up the live session for login and invokes fn with it while
// holding the registry mutex. fn typically writes a multi-record unit to the
// session's connection; the mutex guarantees two senders cannot interleave
// their records on the same recipient stream. Returns ErrNotFound when the
// login is offline.
func (r *Registry) Deliver(login string, fn func(*Session) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byLogin[login]
	if !ok {
		return ErrNotFound
	}
	return fn(s)
}

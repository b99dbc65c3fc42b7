// Package history implements the persistent chat history store.
//
// Every conversation is one append-only text file. Direct chats between two
// users share a single file keyed by both logins in lexicographic order
// (Key("bob", "alice") == "alice_bob"), so either side reads the same
// transcript. Group chats use the group name as the key.
//
// Lines are plain text:
//
//	2026-08-24 14:03:22 <alice> Alice : hello there
//
// Reads are bounded twice: at most RetainedLines recent lines are kept in
// memory while scanning, and the rendered transcript never exceeds
// MaxTranscript bytes. A line that would overflow the transcript is dropped
// whole rather than truncated mid-line.
package history

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrNotFound means no conversation log exists for the key.
var ErrNotFound = errors.New("history: no such conversation")

const (
	// RetainedLines caps how many trailing lines a read keeps in memory.
	RetainedLines = 1024

	// MaxTranscript caps the rendered transcript size in bytes.
	MaxTranscript = 8192

	timestampLayout = "2006-01-02 15:04:05"
)

// Store is the file-backed history store rooted at a history directory.
// Appends and reads are serialized by the store mutex so a reader never
// observes a torn line.
type Store struct {
	mu  sync.Mutex
	dir string

	// now is swapped in tests for deterministic timestamps.
	now func() time.Time
}

// NewStore returns a store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: create directory %s: %w", dir, err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Key returns the conversation key for a direct chat between two logins.
// The key is order-independent so both participants read the same file.
func Key(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}

// Append records one message under the conversation key, stamped with the
// server's local time.
func (s *Store) Append(key, login, display, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, key)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("history: open %s: %w", path, err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s <%s> %s : %s\n",
		s.now().Format(timestampLayout), login, display, message)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("history: append %s: %w", path, err)
	}
	return nil
}

// Read renders the transcript for a conversation key. A limit of 0 means
// everything retained; a positive limit returns only the last limit lines.
// A conversation that was never written to is ErrNotFound, which callers
// report rather than treating as an empty transcript.
func (s *Store) Read(key string, limit int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, key)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("history: open %s: %w", path, err)
	}
	defer f.Close()

	// Ring of the last RetainedLines lines.
	lines := make([]string, 0, RetainedLines)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), 64*1024)
	for sc.Scan() {
		if len(lines) == RetainedLines {
			copy(lines, lines[1:])
			lines = lines[:RetainedLines-1]
		}
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("history: read %s: %w", path, err)
	}

	if limit > 0 && limit < len(lines) {
		lines = lines[len(lines)-limit:]
	}

	var b strings.Builder
	for _, line := range lines {
		if b.Len()+len(line)+1 > MaxTranscript {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

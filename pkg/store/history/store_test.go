package history

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history"))
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time {
		return time.Date(2026, 8, 24, 14, 3, 22, 0, time.Local)
	}
	return s
}

func TestKeyIsOrderIndependent(t *testing.T) {
	if Key("alice", "bob") != "alice_bob" {
		t.Errorf("Key(alice, bob) = %q", Key("alice", "bob"))
	}
	if Key("bob", "alice") != "alice_bob" {
		t.Errorf("Key(bob, alice) = %q", Key("bob", "alice"))
	}
	if Key("alice", "alice") != "alice_alice" {
		t.Errorf("Key(alice, alice) = %q", Key("alice", "alice"))
	}
}

func TestAppendAndRead(t *testing.T) {
	s := newTestStore(t)
	key := Key("alice", "bob")

	if err := s.Append(key, "alice", "Alice", "hello bob"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(key, "bob", "Bob", "hi alice"); err != nil {
		t.Fatal(err)
	}

	got, err := s.Read(key, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := "2026-08-24 14:03:22 <alice> Alice : hello bob\n" +
		"2026-08-24 14:03:22 <bob> Bob : hi alice\n"
	if got != want {
		t.Errorf("transcript =\n%q\nwant\n%q", got, want)
	}
}

func TestReadMissingConversation(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Read("never_spoke", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestReadLimit(t *testing.T) {
	s := newTestStore(t)
	for i := 1; i <= 5; i++ {
		if err := s.Append("devs", "alice", "Alice", fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Read("devs", 2)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2:\n%s", len(lines), got)
	}
	if !strings.HasSuffix(lines[0], "msg 4") || !strings.HasSuffix(lines[1], "msg 5") {
		t.Errorf("wrong tail:\n%s", got)
	}

	// Limit larger than the transcript returns everything.
	got, err = s.Read("devs", 100)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(got, "\n"); n != 5 {
		t.Errorf("lines = %d, want 5", n)
	}
}

func TestReadRetainsOnlyRecentLines(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < RetainedLines+10; i++ {
		if err := s.Append("devs", "alice", "Alice", fmt.Sprintf("m%04d", i)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Read("devs", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, fmt.Sprintf("m%04d", RetainedLines+9)) {
		t.Errorf("last line missing, got %q", got)
	}
}

func TestReadDropsOverflowingLinesWhole(t *testing.T) {
	s := newTestStore(t)
	long := strings.Repeat("x", 900)
	for i := 0; i < 12; i++ {
		if err := s.Append("devs", "alice", "Alice", long); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Read("devs", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) > MaxTranscript {
		t.Fatalf("transcript = %d bytes, cap %d", len(got), MaxTranscript)
	}
	// Every surviving line is complete.
	for _, line := range strings.Split(strings.TrimRight(got, "\n"), "\n") {
		if !strings.HasSuffix(line, "x") || !strings.Contains(line, " : ") {
			t.Errorf("truncated line: %q", line)
		}
	}
}

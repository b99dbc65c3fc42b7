package registry

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingWriter struct {
	mu      sync.Mutex
	records [][]byte
}

func (w *recordingWriter) WriteRecord(typ uint16, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, append([]byte(nil), payload...))
	return nil
}

func newSession(id, login, display string) *Session {
	return &Session{
		ID:          id,
		Login:       login,
		DisplayName: display,
		LoggedInAt:  time.Now(),
		Conn:        &recordingWriter{},
	}
}

func TestAddEnforcesOneSessionPerLogin(t *testing.T) {
	r := New()

	if err := r.Add(newSession("c1", "alice", "Alice")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(newSession("c2", "alice", "Alice2")); !errors.Is(err, ErrAlreadyLoggedIn) {
		t.Errorf("duplicate login: err = %v, want ErrAlreadyLoggedIn", err)
	}
	if !r.IsLoggedIn("alice") {
		t.Error("alice should be logged in")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}
}

func TestRemoveByID(t *testing.T) {
	r := New()
	if err := r.Add(newSession("c1", "alice", "Alice")); err != nil {
		t.Fatal(err)
	}

	s := r.RemoveByID("c1")
	if s == nil || s.Login != "alice" {
		t.Fatalf("RemoveByID = %+v", s)
	}
	if r.IsLoggedIn("alice") {
		t.Error("alice still logged in after removal")
	}

	// Removing an unknown connection is a no-op.
	if s := r.RemoveByID("never-logged-in"); s != nil {
		t.Errorf("RemoveByID unknown = %+v, want nil", s)
	}

	// Login is free again.
	if err := r.Add(newSession("c2", "alice", "Alice")); err != nil {
		t.Errorf("re-login after removal: %v", err)
	}
}

func TestRename(t *testing.T) {
	r := New()
	if err := r.Add(newSession("c1", "alice", "Alice")); err != nil {
		t.Fatal(err)
	}

	r.Rename("alice", "Alicia")
	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].DisplayName != "Alicia" {
		t.Errorf("snapshot = %+v", snap)
	}

	// Renaming an offline user is silently ignored.
	r.Rename("bob", "Bobby")
}

func TestSerialize(t *testing.T) {
	r := New()
	if err := r.Add(newSession("c1", "alice", "Alice")); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(newSession("c2", "bob", "Bob")); err != nil {
		t.Fatal(err)
	}

	got := r.Serialize()
	if len(got) > SerializeLimit {
		t.Fatalf("listing = %d bytes, cap %d", len(got), SerializeLimit)
	}
	if !strings.Contains(got, "<alice> Alice\n") || !strings.Contains(got, "<bob> Bob\n") {
		t.Errorf("listing = %q", got)
	}
}

func TestSerializeCapsListing(t *testing.T) {
	r := New()
	long := strings.Repeat("x", 30)
	for i := 0; i < 100; i++ {
		s := newSession(
			string(rune('a'+i%26))+string(rune('a'+i/26))+"-conn",
			string(rune('a'+i%26))+string(rune('a'+i/26))+long[:20],
			long,
		)
		if err := r.Add(s); err != nil {
			t.Fatal(err)
		}
	}

	got := r.Serialize()
	if len(got) > SerializeLimit {
		t.Fatalf("listing = %d bytes, cap %d", len(got), SerializeLimit)
	}
	// Every line survives whole.
	for _, line := range strings.Split(strings.TrimRight(got, "\n"), "\n") {
		if !strings.HasSuffix(line, long) {
			t.Errorf("truncated line: %q", line)
		}
	}
}

func TestDeliver(t *testing.T) {
	r := New()
	w := &recordingWriter{}
	s := newSession("c1", "alice", "Alice")
	s.Conn = w
	if err := r.Add(s); err != nil {
		t.Fatal(err)
	}

	err := r.Deliver("alice", func(s *Session) error {
		if err := s.Conn.WriteRecord(5, []byte("bob")); err != nil {
			return err
		}
		return s.Conn.WriteRecord(4, []byte("hello"))
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(w.records) != 2 {
		t.Errorf("records = %d, want 2", len(w.records))
	}

	if err := r.Deliver("offline", func(*Session) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("offline: err = %v, want ErrNotFound", err)
	}
}

func TestDeliverSerializesWriters(t *testing.T) {
	r := New()
	w := &recordingWriter{}
	s := newSession("c1", "alice", "Alice")
	s.Conn = w
	if err := r.Add(s); err != nil {
		t.Fatal(err)
	}

	// Two goroutines each deliver a three-record unit; units must not
	// interleave.
	var wg sync.WaitGroup
	for _, tag := range []string{"A", "B"} {
		wg.Add(1)
		go func(tag string) {
			defer wg.Done()
			_ = r.Deliver("alice", func(s *Session) error {
				for i := 0; i < 3; i++ {
					if err := s.Conn.WriteRecord(4, []byte(tag)); err != nil {
						return err
					}
				}
				return nil
			})
		}(tag)
	}
	wg.Wait()

	if len(w.records) != 6 {
		t.Fatalf("records = %d, want 6", len(w.records))
	}
	for i := 0; i < 6; i += 3 {
		a, b, c := string(w.records[i]), string(w.records[i+1]), string(w.records[i+2])
		if a != b || b != c {
			t.Errorf("interleaved unit at %d: %s %s %s", i, a, b, c)
		}
	}
}

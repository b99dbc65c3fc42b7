package user

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "users"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCreateAndAuthenticate(t *testing.T) {
	s := newTestStore(t)

	if err := s.Create("alice", "pw", "Alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	acct, err := s.Authenticate("alice", "pw")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if acct.Login != "alice" || acct.DisplayName != "Alice" {
		t.Errorf("account = %+v", acct)
	}

	if _, err := s.Authenticate("alice", "wrong"); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("wrong password: err = %v, want ErrWrongPassword", err)
	}
	if _, err := s.Authenticate("nobody", "pw"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing account: err = %v, want ErrNotFound", err)
	}
}

func TestCreateRefusesOverwrite(t *testing.T) {
	s := newTestStore(t)

	if err := s.Create("alice", "pw", "Alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.Create("alice", "other", "Other"); !errors.Is(err, ErrExists) {
		t.Errorf("err = %v, want ErrExists", err)
	}

	// Original record untouched.
	if _, err := s.Authenticate("alice", "pw"); err != nil {
		t.Errorf("original credentials broken: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	s := newTestStore(t)

	long := strings.Repeat("x", 32)
	exact := strings.Repeat("x", 31)

	cases := []struct {
		login, password, display string
		wantErr                  bool
	}{
		{"", "pw", "Name", true},
		{"alice", "", "Name", true},
		{"alice", "pw", "", true},
		{long, "pw", "Name", true},
		{"alice", long, "Name", true},
		{"alice", "pw", long, true},
		{exact, exact, exact, false},
		{"../../etc/passwd", "pw", "Name", true},
	}

	for _, c := range cases {
		err := s.Create(c.login, c.password, c.display)
		if (err != nil) != c.wantErr {
			t.Errorf("Create(%q, %q, %q) err = %v, wantErr = %v",
				c.login, c.password, c.display, err, c.wantErr)
		}
	}
}

func TestChangePassword(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create("alice", "old", "Alice"); err != nil {
		t.Fatal(err)
	}

	if err := s.ChangePassword("alice", "wrong", "new"); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("wrong old password: err = %v, want ErrWrongPassword", err)
	}
	if err := s.ChangePassword("alice", "old", "new"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	// New password works, old does not, display name preserved.
	acct, err := s.Authenticate("alice", "new")
	if err != nil {
		t.Fatalf("Authenticate with new password: %v", err)
	}
	if acct.DisplayName != "Alice" {
		t.Errorf("display name = %q, want Alice", acct.DisplayName)
	}
	if _, err := s.Authenticate("alice", "old"); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("old password still accepted: err = %v", err)
	}
}

func TestGet(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create("alice", "pw", "Alice"); err != nil {
		t.Fatal(err)
	}

	acct, err := s.Get("alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if acct.Login != "alice" || acct.DisplayName != "Alice" {
		t.Errorf("account = %+v", acct)
	}

	if _, err := s.Get("nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing account: err = %v, want ErrNotFound", err)
	}
}

func TestResetPassword(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create("alice", "old", "Alice"); err != nil {
		t.Fatal(err)
	}

	if err := s.ResetPassword("alice", "new"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	acct, err := s.Authenticate("alice", "new")
	if err != nil {
		t.Fatalf("Authenticate with new password: %v", err)
	}
	if acct.DisplayName != "Alice" {
		t.Errorf("display name = %q, want Alice", acct.DisplayName)
	}

	if err := s.ResetPassword("nobody", "pw"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing account: err = %v, want ErrNotFound", err)
	}
}

func TestChangeDisplayName(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create("alice", "pw", "Alice"); err != nil {
		t.Fatal(err)
	}

	prev, err := s.ChangeDisplayName("alice", "Alicia")
	if err != nil {
		t.Fatalf("ChangeDisplayName: %v", err)
	}
	if prev != "Alice" {
		t.Errorf("previous = %q, want Alice", prev)
	}

	// Password preserved, new display returned on auth.
	acct, err := s.Authenticate("alice", "pw")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if acct.DisplayName != "Alicia" {
		t.Errorf("display name = %q, want Alicia", acct.DisplayName)
	}
}

func TestCorruptFileFailsCleanly(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(filepath.Join(s.Dir(), "broken"), []byte("garbage\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Authenticate("broken", "pw"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("err = %v, want ErrCorrupt", err)
	}
	if err := s.ChangePassword("broken", "pw", "new"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("err = %v, want ErrCorrupt", err)
	}
}

func TestList(t *testing.T) {
	s := newTestStore(t)
	for _, login := range []string{"alice", "bob", "carol"} {
		if err := s.Create(login, "pw", login); err != nil {
			t.Fatal(err)
		}
	}

	logins, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(logins) != 3 {
		t.Errorf("len = %d, want 3: %v", len(logins), logins)
	}
}
